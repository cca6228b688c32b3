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

// Package tracing wires OpenTelemetry for the jobs and runner services.
//
// A Provider owns the tracer provider (with an optional span exporter chosen
// by Config.Exporter) and a meter provider backed by the Prometheus exporter.
// Handlers open spans through StartHandler and the dispatcher records sync
// outcomes through SyncMetrics.
package tracing
