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
	"encoding/json"
	"fmt"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

type envelopeHeader struct {
	Type Kind `json:"type"`
}

// Decode parses a task envelope of the form {"type":"sync", ...} into its
// variant and attaches a fresh cancel handle.
func Decode(data []byte) (Task, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, &relayerrors.ValidationError{Field: "type", Message: err.Error()}
	}

	var t Task
	switch hdr.Type {
	case KindSync:
		t = &Sync{}
	case KindAction:
		t = &Action{}
	case KindWebhook:
		t = &Webhook{}
	case KindPostConnection:
		t = &PostConnection{}
	default:
		return nil, &relayerrors.ValidationError{Field: "type", Message: fmt.Sprintf("unknown task type %q", hdr.Type)}
	}

	if err := json.Unmarshal(data, t); err != nil {
		return nil, &relayerrors.ValidationError{Message: fmt.Sprintf("invalid %s task: %v", hdr.Type, err)}
	}
	if err := Validate(t); err != nil {
		return nil, err
	}

	base(t).cancel = NewCancelHandle()
	return t, nil
}

// Encode renders t as an envelope understood by Decode.
func Encode(t Task) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(t.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = kind

	return json.Marshal(fields)
}

// Validate checks the fields every variant requires.
func Validate(t Task) error {
	if t.TaskID() == "" {
		return &relayerrors.ValidationError{Field: "id", Message: "task id is required"}
	}
	if t.Conn().ConnectionID == "" {
		return &relayerrors.ValidationError{Field: "connection.connectionId", Message: "connection id is required"}
	}
	if t.Conn().ProviderConfigKey == "" {
		return &relayerrors.ValidationError{Field: "connection.providerConfigKey", Message: "provider config key is required"}
	}

	switch v := t.(type) {
	case *Sync:
		if v.SyncID == "" {
			return &relayerrors.ValidationError{Field: "syncId", Message: "sync id is required"}
		}
		if v.SyncName == "" {
			return &relayerrors.ValidationError{Field: "syncName", Message: "sync name is required"}
		}
	case *Action:
		if v.ActionName == "" {
			return &relayerrors.ValidationError{Field: "actionName", Message: "action name is required"}
		}
	case *Webhook:
		if v.ParentSyncName == "" {
			return &relayerrors.ValidationError{Field: "parentSyncName", Message: "parent sync name is required"}
		}
	case *PostConnection:
		if v.ScriptName == "" {
			return &relayerrors.ValidationError{Field: "scriptName", Message: "script name is required"}
		}
	}
	return nil
}

func base(t Task) *Base {
	switch v := t.(type) {
	case *Sync:
		return &v.Base
	case *Action:
		return &v.Base
	case *Webhook:
		return &v.Base
	case *PostConnection:
		return &v.Base
	default:
		panic(fmt.Sprintf("task: unknown variant %T", t))
	}
}
