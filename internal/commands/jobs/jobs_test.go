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

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/jobs/api"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/memory"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/runner"
)

const catalogYAML = `
environments:
  - account: {id: 1, name: acme}
    environment: {id: 2, name: prod}
provider_configs:
  - {id: 3, environment_id: 2, provider: github, unique_key: github-prod}
scripts:
  - id: 10
    environment_id: 2
    config_id: 3
    name: issues
    file_location: issues.js
    version: "1"
    models: [Issue]
    enabled: true
  - id: 11
    environment_id: 2
    config_id: 3
    name: create-issue
    file_location: create-issue.js
    is_action: true
    enabled: true
    output_schema:
      type: object
      required: [id]
syncs:
  - {id: S1, name: issues, connection_id: 7}
`

const syncTask = `{"type":"sync","id":"t-1","syncId":"S1","syncName":"issues",
	"connection":{"id":7,"connectionId":"conn-1","providerConfigKey":"github-prod","environmentId":2}}`

func TestParseAndImportCatalog(t *testing.T) {
	ctx := context.Background()
	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	st := memory.New()
	sum, err := Import(ctx, st, catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Environments)
	assert.Equal(t, 1, sum.ProviderConfigs)
	assert.Equal(t, 2, sum.Scripts)
	assert.Equal(t, 1, sum.Syncs)

	ae, err := st.GetAccountAndEnvironment(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "acme", ae.Account.Name)
	assert.Equal(t, int64(1), ae.Environment.AccountID)

	sc, err := st.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 2, ConfigID: 3, Name: "create-issue", IsAction: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["id"]}`, string(sc.OutputSchema))

	sc, err = st.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 2, ConfigID: 3, Name: "issues"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Issue"}, sc.Models)
	assert.Nil(t, sc.OutputSchema)

	s, err := st.GetSyncByConnectionAndName(ctx, 7, "issues")
	require.NoError(t, err)
	assert.Equal(t, "S1", s.ID)
}

func TestParseCatalogRejectsBadYAML(t *testing.T) {
	_, err := ParseCatalog([]byte("environments: [unterminated"))
	assert.Error(t, err)
}

type scriptedSandbox struct{}

func (scriptedSandbox) Run(ctx context.Context, req execution.Request) (*execution.Output, error) {
	if req.IsAction {
		return &execution.Output{Success: true, Response: json.RawMessage(`{"id":42}`)}, nil
	}
	return &execution.Output{Success: true, Response: json.RawMessage(`[{"id":1}]`)}, nil
}

func (scriptedSandbox) Cancel(syncID string) bool { return false }

// stack starts a runner and a jobs service wired to each other.
func stack(t *testing.T, mode string) (*Service, *httptest.Server) {
	t.Helper()
	authCfg := auth.Config{Secret: []byte("s3cret"), Issuer: "relay"}

	var jobsURL string
	runnerMux := http.NewServeMux()
	runnerSrv := httptest.NewServer(runnerMux)
	t.Cleanup(runnerSrv.Close)

	cfg := config.Default()
	cfg.Jobs.RunnerURL = runnerSrv.URL
	cfg.Jobs.ExecutionMode = mode
	cfg.Jobs.CompletionTimeout = 5 * time.Second
	cfg.Auth.Secret = string(authCfg.Secret)

	svc, err := NewService(context.Background(), cfg, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	jobsSrv := httptest.NewServer(svc.Handler())
	t.Cleanup(jobsSrv.Close)
	jobsURL = jobsSrv.URL

	rs := runner.NewServer(runner.Config{
		Sandbox:  scriptedSandbox{},
		Reporter: runner.NewJobsClient(runner.JobsClientConfig{BaseURL: jobsURL, Auth: authCfg}),
		Auth:     authCfg,
		Logger:   log.Discard(),
	})
	t.Cleanup(rs.Close)
	runnerMux.Handle("/", rs.Handler())

	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	_, err = Import(context.Background(), svc.Store, catalog)
	require.NoError(t, err)

	return svc, jobsSrv
}

func submit(t *testing.T, srv *httptest.Server, body string) api.TaskResponse {
	t.Helper()
	token, err := auth.Generate(auth.ServiceRunner, auth.ServiceJobs, auth.Config{Secret: []byte("s3cret"), Issuer: "relay"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/tasks", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.TaskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSyncEndToEndBlocking(t *testing.T) {
	svc, srv := stack(t, config.ExecutionModeBlocking)

	resp := submit(t, srv, syncTask)
	require.True(t, resp.OK, resp.Error)
	assert.JSONEq(t, `[{"id":1}]`, string(resp.Output))

	last, err := svc.Store.GetLastSyncDate(context.Background(), "S1")
	require.NoError(t, err)
	assert.NotNil(t, last, "successful sync stamps the last sync date")
}

func TestActionEndToEndAsync(t *testing.T) {
	_, srv := stack(t, config.ExecutionModeAsync)

	resp := submit(t, srv, `{"type":"action","id":"t-2","actionName":"create-issue","activityLogId":"",
		"connection":{"id":7,"connectionId":"conn-1","providerConfigKey":"github-prod","environmentId":2},
		"input":{"title":"bug"}}`)
	require.True(t, resp.OK, resp.Error)
	assert.JSONEq(t, `{"id":42}`, string(resp.Output))
}

func TestUnknownProviderEndToEnd(t *testing.T) {
	_, srv := stack(t, config.ExecutionModeBlocking)

	resp := submit(t, srv, `{"type":"sync","id":"t-3","syncId":"S1","syncName":"issues",
		"connection":{"id":7,"connectionId":"conn-1","providerConfigKey":"missing","environmentId":2}}`)
	assert.False(t, resp.OK)
	assert.Equal(t, "ProviderConfigNotFound", resp.Kind)
	assert.Contains(t, resp.Error, "TaskId: t-3")
}
