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

// Package lifecycle tracks job records through RUNNING to a terminal status.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/jobs/metrics"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/log"
)

// Tracker creates jobs and moves them to SUCCESS or ERROR exactly once.
type Tracker struct {
	jobs   store.JobStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker over jobs.
func NewTracker(jobs store.JobStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:   jobs,
		logger: log.WithComponent(logger, "lifecycle"),
		now:    time.Now,
	}
}

// Create inserts a job in RUNNING.
func (t *Tracker) Create(ctx context.Context, nj store.NewJob) (*store.Job, error) {
	nj.Status = store.JobRunning
	job, err := t.jobs.CreateJob(ctx, nj)
	if err != nil {
		metrics.RecordPersistenceError("CreateJob", err)
		return nil, fmt.Errorf("creating job for sync %s: %w", nj.SyncID, err)
	}
	t.logger.Debug("job created",
		slog.String(log.JobIDKey, job.ID),
		slog.String(log.SyncIDKey, job.SyncID),
		slog.String("type", string(job.Type)))
	return job, nil
}

// Finish transitions job to status. A successful FULL or INCREMENTAL job
// stamps the sync's last sync date. A job that already left RUNNING yields
// an error wrapping store.ErrJobTerminal.
func (t *Tracker) Finish(ctx context.Context, job *store.Job, status store.JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("finishing job %s: %s is not a terminal status", job.ID, status)
	}

	if err := t.jobs.UpdateJobStatus(ctx, job.ID, status); err != nil {
		metrics.RecordPersistenceError("UpdateJobStatus", err)
		return fmt.Errorf("finishing job %s: %w", job.ID, err)
	}
	job.Status = status

	t.logger.Debug("job finished",
		slog.String(log.JobIDKey, job.ID),
		slog.String("status", string(status)))

	if status != store.JobSuccess || !stampsLastSyncDate(job.Type) {
		return nil
	}
	if err := t.jobs.SetLastSyncDate(ctx, job.SyncID, t.now().UTC()); err != nil {
		metrics.RecordPersistenceError("SetLastSyncDate", err)
		t.logger.Warn("failed to record last sync date",
			slog.String(log.SyncIDKey, job.SyncID),
			log.Error(err))
	}
	return nil
}

func stampsLastSyncDate(t store.SyncType) bool {
	return t == store.SyncTypeFull || t == store.SyncTypeIncremental
}
