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

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

func newProcess(t *testing.T, scripts map[string]string) *Process {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
	}
	p, err := NewProcess(Config{Command: "sh", ScriptsDir: dir, WaitDelay: 500 * time.Millisecond})
	require.NoError(t, err)
	return p
}

func request(file string) execution.Request {
	return execution.Request{
		TaskID:       "t-1",
		SyncID:       "S1",
		ScriptConfig: store.ScriptConfig{Name: "issues", FileLocation: file},
	}
}

func TestNewProcessRequiresCommand(t *testing.T) {
	_, err := NewProcess(Config{})
	var cfgErr *relayerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunSuccess(t *testing.T) {
	p := newProcess(t, map[string]string{
		"ok.sh": `cat > /dev/null; printf '{"success":true,"response":[{"id":1}]}'`,
	})

	out, err := p.Run(context.Background(), request("ok.sh"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Nil(t, out.Error)
	assert.JSONEq(t, `[{"id":1}]`, string(out.Response))
}

func TestRunRelativeScriptsDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "ok.sh"),
		[]byte(`cat > /dev/null; printf '{"success":true,"response":{"ok":true}}'`), 0o755))
	t.Chdir(root)

	p, err := NewProcess(Config{Command: "sh", ScriptsDir: "scripts"})
	require.NoError(t, err)

	out, err := p.Run(context.Background(), request("ok.sh"))
	require.NoError(t, err)
	require.True(t, out.Success, "script error: %v", out.Error)
	assert.JSONEq(t, `{"ok":true}`, string(out.Response))
}

func TestRunReceivesRequestOnStdin(t *testing.T) {
	p := newProcess(t, map[string]string{
		"echo.sh": `read -r line; printf '{"success":true,"response":%s}' "$line"`,
	})

	out, err := p.Run(context.Background(), request("echo.sh"))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Contains(t, string(out.Response), `"syncId":"S1"`)
}

func TestRunScriptReportedError(t *testing.T) {
	p := newProcess(t, map[string]string{
		"err.sh": `cat > /dev/null; printf '{"success":false,"error":{"type":"script_http_error","message":"401"}}'`,
	})

	out, err := p.Run(context.Background(), request("err.sh"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, "script_http_error", out.Error.Type)
	assert.Equal(t, "401", out.Error.Message)
}

func TestRunNonZeroExit(t *testing.T) {
	p := newProcess(t, map[string]string{
		"crash.sh": `cat > /dev/null; echo boom >&2; exit 3`,
	})

	out, err := p.Run(context.Background(), request("crash.sh"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, ErrorTypeRuntime, out.Error.Type)
	assert.Equal(t, "boom", out.Error.Message)
}

func TestRunInvalidOutput(t *testing.T) {
	p := newProcess(t, map[string]string{
		"junk.sh": `cat > /dev/null; echo not json`,
	})

	out, err := p.Run(context.Background(), request("junk.sh"))
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, ErrorTypeInvalidOutput, out.Error.Type)
}

func TestRunRejectsBadLocation(t *testing.T) {
	p := newProcess(t, nil)

	_, err := p.Run(context.Background(), request(""))
	var verr *relayerrors.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = p.Run(context.Background(), request("../outside.sh"))
	require.ErrorAs(t, err, &verr)
}

func TestCancelStopsRunningScript(t *testing.T) {
	p := newProcess(t, map[string]string{
		"slow.sh": `exec sleep 30`,
	})

	type result struct {
		out *execution.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := p.Run(context.Background(), request("slow.sh"))
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool { return p.Cancel("S1") }, 2*time.Second, 10*time.Millisecond)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.out.Error)
		assert.Equal(t, ErrorTypeCancelled, r.out.Error.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("script was not stopped")
	}

	assert.False(t, p.Cancel("S1"), "nothing left to cancel")
}

func TestCancelUnknownSync(t *testing.T) {
	p := newProcess(t, nil)
	assert.False(t, p.Cancel("missing"))
	assert.False(t, p.Cancel(""))
}

func TestRunHonoursContext(t *testing.T) {
	p := newProcess(t, map[string]string{
		"slow.sh": `exec sleep 30`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Run(ctx, request("slow.sh"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
