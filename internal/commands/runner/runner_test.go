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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
)

func TestNewServerRunsProcessScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "issues.sh"),
		[]byte(`cat > /dev/null; printf '{"success":true,"response":[{"id":1}]}'`), 0o755))

	cfg := config.Default()
	cfg.Runner.Sandbox.Command = "sh"
	cfg.Runner.Sandbox.ScriptsDir = dir

	srv, err := NewServer(cfg, log.Discard())
	require.NoError(t, err)
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/run", "application/json",
		strings.NewReader(`{"taskId":"t-1","syncId":"S1","scriptConfig":{"name":"issues","fileLocation":"issues.sh"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out execution.Output
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.JSONEq(t, `[{"id":1}]`, string(out.Response))
}

func TestNewServerRequiresSandboxCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Runner.Sandbox.Command = ""

	_, err := NewServer(cfg, log.Discard())
	assert.Error(t, err)
}
