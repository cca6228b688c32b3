// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerSpan wraps the span around one task handler.
type HandlerSpan struct {
	span trace.Span
}

// StartHandler opens a span named "jobs.handler.<kind>" for a task.
func StartHandler(ctx context.Context, tracer trace.Tracer, kind, taskID string) (context.Context, *HandlerSpan) {
	ctx, span := tracer.Start(ctx, "jobs.handler."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("task.kind", kind),
			attribute.String("task.id", taskID),
		),
	)
	return ctx, &HandlerSpan{span: span}
}

// SetAttribute adds a string attribute to the span.
func (h *HandlerSpan) SetAttribute(key, value string) {
	if h == nil || h.span == nil {
		return
	}
	h.span.SetAttributes(attribute.String(key, value))
}

// End closes the span, marking it failed when err is non-nil.
func (h *HandlerSpan) End(err error) {
	if h == nil || h.span == nil {
		return
	}
	if err != nil {
		h.span.RecordError(err)
		h.span.SetStatus(codes.Error, err.Error())
	} else {
		h.span.SetStatus(codes.Ok, "")
	}
	h.span.End()
}
