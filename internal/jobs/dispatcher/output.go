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

package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/tombee/relay/internal/jobs/execution"
)

const maxResponseInMessage = 512

// validateOutput checks that raw is a JSON value and, when schema is set,
// that it conforms to schema. An absent response is rejected; null is valid
// and is not checked against schema.
func (d *Dispatcher) validateOutput(raw, schema json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("response is empty")
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("response is not valid JSON")
	}
	if execution.IsNull(trimmed) || len(bytes.TrimSpace(schema)) == 0 {
		return json.RawMessage(trimmed), nil
	}

	compiled, err := d.compileSchema(schema)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	result := compiled.Validate(value)
	if !result.Valid {
		return nil, fmt.Errorf("response does not match output schema: %v", result.Errors)
	}
	return json.RawMessage(trimmed), nil
}

func (d *Dispatcher) compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := d.schemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return nil, fmt.Errorf("compiling output schema: %w", err)
	}
	d.schemas.Store(key, compiled)
	return compiled, nil
}

// describeResponse renders a response for an error message.
func describeResponse(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "undefined"
	}
	if len(s) > maxResponseInMessage {
		return s[:maxResponseInMessage] + "..."
	}
	return s
}
