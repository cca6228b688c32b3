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

// Package errorreport centralizes reporting of platform failures.
package errorreport

import (
	"context"
	"log/slog"
	"sort"

	"github.com/tombee/relay/internal/jobs/metrics"
	"github.com/tombee/relay/internal/log"
)

// Source classifies who is responsible for a failure.
type Source string

const (
	SourcePlatform Source = "platform"
	SourceCustomer Source = "customer"
)

// Options carries the context of a report.
type Options struct {
	EnvironmentID int64
	Source        Source
	Operation     string
	Metadata      map[string]any
}

// Reporter receives failure reports. Reporting never fails the caller.
type Reporter interface {
	Report(ctx context.Context, message string, opts Options)
}

// LogReporter writes reports as structured error logs and counts them.
type LogReporter struct {
	logger *slog.Logger
}

var _ Reporter = (*LogReporter)(nil)

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: log.WithComponent(logger, "errorreport")}
}

// Report logs message at error level with opts as attributes.
func (r *LogReporter) Report(ctx context.Context, message string, opts Options) {
	source := opts.Source
	if source == "" {
		source = SourcePlatform
	}

	attrs := []any{
		slog.Int64(log.EnvironmentIDKey, opts.EnvironmentID),
		slog.String("source", string(source)),
		slog.String("operation", opts.Operation),
	}
	if len(opts.Metadata) > 0 {
		keys := make([]string, 0, len(opts.Metadata))
		for k := range opts.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.Any(k, opts.Metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	r.logger.ErrorContext(ctx, message, attrs...)
	metrics.RecordReportedError(string(source), opts.Operation)
}
