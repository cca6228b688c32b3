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

// Package metrics holds the Prometheus counters of the jobs service.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

var (
	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_persistence_errors_total",
			Help: "Total persistence operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	reportedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_reported_errors_total",
			Help: "Total errors sent to the error reporter by source and operation",
		},
		[]string{"source", "operation"},
	)
)

// RecordPersistenceError increments the persistence error counter.
// operation names the store call (CreateJob, UpdateJobStatus, SetLastSyncDate).
func RecordPersistenceError(operation string, err error) {
	persistenceErrors.WithLabelValues(operation, ErrorType(err)).Inc()
}

// RecordReportedError increments the reported error counter.
func RecordReportedError(source, operation string) {
	reportedErrors.WithLabelValues(source, operation).Inc()
}

// ErrorType derives a low-cardinality label from err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, store.ErrJobTerminal):
		return "terminal"
	case relayerrors.IsNotFound(err):
		return "not_found"
	case relayerrors.IsTimeout(err):
		return "timeout"
	default:
		return "unknown"
	}
}
