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

// ErrorKind classifies a task failure.
type ErrorKind string

const (
	ProviderConfigNotFound     ErrorKind = "ProviderConfigNotFound"
	ScriptConfigNotFound       ErrorKind = "ScriptConfigNotFound"
	SyncNotFound               ErrorKind = "SyncNotFound"
	AccountEnvironmentNotFound ErrorKind = "AccountEnvironmentNotFound"
	JobCreationFailed          ErrorKind = "JobCreationFailed"
	ScriptExecutionFailed      ErrorKind = "ScriptExecutionFailed"
	InvalidResponseFormat      ErrorKind = "InvalidResponseFormat"
	CancellationUnsupported    ErrorKind = "CancellationUnsupported"
	DispatchUnreachable        ErrorKind = "DispatchUnreachable"
	Internal                   ErrorKind = "Internal"
)

// TaskError is the failure result of a task. Its message always carries
// the task id.
type TaskError struct {
	Kind    ErrorKind
	TaskID  string
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	return e.Message + ". TaskId: " + e.TaskID
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func taskError(kind ErrorKind, taskID, msg string, cause error) *TaskError {
	return &TaskError{Kind: kind, TaskID: taskID, Message: msg, Err: cause}
}
