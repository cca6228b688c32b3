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

package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

const conn = `"connection":{"id":7,"connectionId":"c1","providerConfigKey":"github","environmentId":3}`

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind Kind
	}{
		{name: "sync", body: `{"type":"sync","id":"t1","attempt":1,"syncId":"S1","syncName":"issues",` + conn + `}`, kind: KindSync},
		{name: "action", body: `{"type":"action","id":"t2","actionName":"create-issue","activityLogId":"l1","input":{"title":"x"},` + conn + `}`, kind: KindAction},
		{name: "webhook", body: `{"type":"webhook","id":"t3","parentSyncName":"issues","activityLogId":"l2","input":[1],` + conn + `}`, kind: KindWebhook},
		{name: "post connection", body: `{"type":"post_connection","id":"t4","scriptName":"setup","fileLocation":"setup.js","version":"1","activityLogId":"l3",` + conn + `}`, kind: KindPostConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind())
			assert.NotNil(t, got.Cancellation())
			assert.Equal(t, "c1", got.Conn().ConnectionID)
			assert.Equal(t, int64(3), got.Conn().EnvironmentID)
		})
	}
}

func TestDecodeSyncFields(t *testing.T) {
	got, err := Decode([]byte(`{"type":"sync","id":"t1","attempt":2,"debug":true,"syncId":"S1","syncName":"issues","displayName":"Issues",` + conn + `}`))
	require.NoError(t, err)

	s, ok := got.(*Sync)
	require.True(t, ok)
	assert.Equal(t, "t1", s.TaskID())
	assert.Equal(t, 2, s.Attempt)
	assert.True(t, s.Debug)
	assert.Equal(t, "S1", s.SyncID)
	assert.Equal(t, "Issues", s.DisplayName)
	assert.Equal(t, int64(7), s.Connection.ID)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "unknown type", body: `{"type":"cron","id":"t1"}`, field: "type"},
		{name: "not json", body: `nope`, field: "type"},
		{name: "missing id", body: `{"type":"sync","syncId":"S1","syncName":"x",` + conn + `}`, field: "id"},
		{name: "missing sync id", body: `{"type":"sync","id":"t1","syncName":"x",` + conn + `}`, field: "syncId"},
		{name: "missing action name", body: `{"type":"action","id":"t1",` + conn + `}`, field: "actionName"},
		{name: "missing connection", body: `{"type":"webhook","id":"t1","parentSyncName":"x"}`, field: "connection.connectionId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)

			var verr *relayerrors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEncodeDecodeKeepsType(t *testing.T) {
	orig := &PostConnection{
		Base:         NewBase("t9", 0),
		Connection:   Connection{ConnectionID: "c1", ProviderConfigKey: "slack"},
		ScriptName:   "setup",
		FileLocation: "slack/setup.js",
		Version:      "2",
	}

	data, err := Encode(orig)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"post_connection"`)

	got, err := Decode(data)
	require.NoError(t, err)
	pc, ok := got.(*PostConnection)
	require.True(t, ok)
	assert.Equal(t, "slack/setup.js", pc.FileLocation)
	assert.NotSame(t, orig.Cancellation(), pc.Cancellation())
}
