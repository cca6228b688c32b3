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

// Package schemas embeds the JSON Schemas published with relay.
package schemas

import (
	_ "embed"
)

//go:embed task.schema.json
var taskSchema []byte

// GetTaskSchema returns the embedded task envelope JSON Schema as raw bytes.
// It is printed by "relay task schema" for editor integration.
func GetTaskSchema() []byte {
	return taskSchema
}
