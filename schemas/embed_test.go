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

package schemas

import (
	"encoding/json"
	"testing"

	"github.com/kaptinlin/jsonschema"

	"github.com/tombee/relay/internal/task"
)

func TestGetTaskSchema(t *testing.T) {
	schema := GetTaskSchema()
	if len(schema) == 0 {
		t.Fatal("embedded schema is empty")
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	if _, ok := schemaMap["$id"]; !ok {
		t.Error("schema missing $id field")
	}
	if title, ok := schemaMap["title"].(string); !ok || title == "" {
		t.Error("schema missing or empty title field")
	}
}

// The schema and task.Decode must agree on what a valid envelope is.
func TestTaskSchemaMatchesDecoder(t *testing.T) {
	compiled, err := jsonschema.NewCompiler().Compile(GetTaskSchema())
	if err != nil {
		t.Fatalf("schema does not compile: %v", err)
	}

	cases := map[string]string{
		"sync":            `{"type":"sync","id":"t-1","syncId":"s-1","syncName":"contacts","connection":{"connectionId":"c-1","providerConfigKey":"hubspot"}}`,
		"action":          `{"type":"action","id":"t-2","actionName":"create-contact","connection":{"connectionId":"c-1","providerConfigKey":"hubspot"}}`,
		"webhook":         `{"type":"webhook","id":"t-3","parentSyncName":"contacts","connection":{"connectionId":"c-1","providerConfigKey":"hubspot"}}`,
		"post_connection": `{"type":"post_connection","id":"t-4","scriptName":"setup","connection":{"connectionId":"c-1","providerConfigKey":"hubspot"}}`,
		"missing sync id": `{"type":"sync","id":"t-5","syncName":"contacts","connection":{"connectionId":"c-1","providerConfigKey":"hubspot"}}`,
		"no connection":   `{"type":"action","id":"t-6","actionName":"x"}`,
		"unknown type":    `{"type":"cron","id":"t-7","connection":{"connectionId":"c-1","providerConfigKey":"p"}}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			var v any
			if err := json.Unmarshal([]byte(doc), &v); err != nil {
				t.Fatal(err)
			}
			schemaOK := compiled.Validate(v).Valid
			_, decodeErr := task.Decode([]byte(doc))
			if schemaOK != (decodeErr == nil) {
				t.Errorf("schema valid=%v but decode err=%v", schemaOK, decodeErr)
			}
		})
	}
}
