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

package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
)

func TestJobsClientReport(t *testing.T) {
	cfg := auth.Config{Secret: []byte("s3cret"), Issuer: "relay"}

	var (
		mu       sync.Mutex
		gotPath  string
		gotBody  execution.Completion
		gotClaim string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.Method + " " + r.URL.Path
		token := r.Header.Get("Authorization")[len("Bearer "):]
		claims, err := auth.Validate(token, auth.ServiceJobs, cfg)
		if err == nil {
			gotClaim = claims.Subject
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewJobsClient(JobsClientConfig{BaseURL: srv.URL, Auth: cfg})
	err := client.Report(context.Background(), "t-1", execution.Completion{
		ScriptType: execution.ScriptSync,
		Output:     json.RawMessage(`[1]`),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "PUT /v1/tasks/t-1/completion", gotPath)
	assert.Equal(t, auth.ServiceRunner, gotClaim)
	assert.Equal(t, execution.ScriptSync, gotBody.ScriptType)
	assert.JSONEq(t, `[1]`, string(gotBody.Output))
}

func TestJobsClientReportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown task"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewJobsClient(JobsClientConfig{BaseURL: srv.URL})
	err := client.Report(context.Background(), "t-1", execution.Completion{ScriptType: execution.ScriptSync})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestJobsClientNotifyIdle(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewJobsClient(JobsClientConfig{BaseURL: srv.URL})
	require.NoError(t, client.NotifyIdle(context.Background(), "runner-a"))
	assert.Equal(t, "POST /v1/runners/runner-a/idle", <-paths)
}

type countingIdle struct {
	calls atomic.Int32
}

func (c *countingIdle) NotifyIdle(ctx context.Context, runnerID string) error {
	c.calls.Add(1)
	return nil
}

func TestIdleNotifierThrottles(t *testing.T) {
	reporter := &countingIdle{}
	n := NewIdleNotifier(reporter, "runner-a", time.Hour, log.Discard())

	for i := 0; i < 5; i++ {
		n.Notify()
	}

	require.Eventually(t, func() bool { return reporter.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), reporter.calls.Load())
}

func TestIdleNotifierUnthrottled(t *testing.T) {
	reporter := &countingIdle{}
	n := NewIdleNotifier(reporter, "runner-a", 0, log.Discard())

	for i := 0; i < 3; i++ {
		n.Notify()
	}
	require.Eventually(t, func() bool { return reporter.calls.Load() == 3 }, time.Second, 10*time.Millisecond)
}
