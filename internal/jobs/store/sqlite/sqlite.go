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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.JobStore       = (*Backend)(nil)
	_ store.CatalogStore   = (*Backend)(nil)
	_ store.OperationStore = (*Backend)(nil)
	_ store.Store          = (*Backend)(nil)
)

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database, applies pragmas and runs migrations.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			sync_id TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT,
			task_id TEXT,
			connection_id INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_sync_id ON jobs(sync_id)`,
		`CREATE TABLE IF NOT EXISTS syncs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			connection_id INTEGER NOT NULL,
			last_sync_date TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_syncs_connection_name ON syncs(connection_id, name)`,
		`CREATE TABLE IF NOT EXISTS environments (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			account_id INTEGER NOT NULL,
			account_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provider_configs (
			id INTEGER PRIMARY KEY,
			environment_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			unique_key TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_configs_key ON provider_configs(unique_key, environment_id)`,
		`CREATE TABLE IF NOT EXISTS script_configs (
			id INTEGER PRIMARY KEY,
			environment_id INTEGER NOT NULL,
			config_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			file_location TEXT,
			version TEXT,
			is_action INTEGER NOT NULL DEFAULT 0,
			models TEXT,
			input_model TEXT,
			endpoints TEXT,
			track_deletes INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			output_schema TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_script_configs_lookup ON script_configs(environment_id, config_id, name, is_action)`,
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			action TEXT NOT NULL,
			message TEXT,
			state TEXT NOT NULL,
			identity TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			meta TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operation_messages_op ON operation_messages(operation_id)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

// CreateJob inserts a job with a fresh id.
func (b *Backend) CreateJob(ctx context.Context, nj store.NewJob) (*store.Job, error) {
	now := time.Now().UTC()
	job := &store.Job{
		ID:           uuid.NewString(),
		SyncID:       nj.SyncID,
		Status:       nj.Status,
		Type:         nj.Type,
		Name:         nj.Name,
		TaskID:       nj.TaskID,
		ConnectionID: nj.ConnectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO jobs (id, sync_id, status, type, name, task_id, connection_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SyncID, string(job.Status), string(job.Type), job.Name, job.TaskID, job.ConnectionID,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus transitions a RUNNING job with a compare-and-set.
func (b *Backend) UpdateJobStatus(ctx context.Context, jobID string, status store.JobStatus) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), formatTime(time.Now().UTC()), jobID, string(store.JobRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = b.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound("job", jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to read job: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", store.ErrJobTerminal, jobID, current)
}

// GetJob retrieves a job by id.
func (b *Backend) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	var (
		job                  store.Job
		status, typ          string
		name, taskID         sql.NullString
		connectionID         sql.NullInt64
		createdAt, updatedAt string
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, sync_id, status, type, name, task_id, connection_id, created_at, updated_at
		FROM jobs WHERE id = ?`, jobID,
	).Scan(&job.ID, &job.SyncID, &status, &typ, &name, &taskID, &connectionID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("job", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Status = store.JobStatus(status)
	job.Type = store.SyncType(typ)
	job.Name = name.String
	job.TaskID = taskID.String
	job.ConnectionID = connectionID.Int64
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

// GetLastSyncDate returns the last successful sync date, or nil.
func (b *Backend) GetLastSyncDate(ctx context.Context, syncID string) (*time.Time, error) {
	var last sql.NullString
	err := b.db.QueryRowContext(ctx, `SELECT last_sync_date FROM syncs WHERE id = ?`, syncID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync date: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := parseTime(last.String)
	return &t, nil
}

// SetLastSyncDate stamps a sync's last successful run.
func (b *Backend) SetLastSyncDate(ctx context.Context, syncID string, at time.Time) error {
	res, err := b.db.ExecContext(ctx, `UPDATE syncs SET last_sync_date = ? WHERE id = ?`, formatTime(at.UTC()), syncID)
	if err != nil {
		return fmt.Errorf("failed to set last sync date: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("sync", syncID)
	}
	return nil
}

// GetSyncByConnectionAndName looks up a sync by its connection and name.
func (b *Backend) GetSyncByConnectionAndName(ctx context.Context, connectionID int64, name string) (*store.Sync, error) {
	var (
		s    store.Sync
		last sql.NullString
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, name, connection_id, last_sync_date FROM syncs
		WHERE connection_id = ? AND name = ?`, connectionID, name,
	).Scan(&s.ID, &s.Name, &s.ConnectionID, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("sync", fmt.Sprintf("%d/%s", connectionID, name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync: %w", err)
	}
	if last.Valid {
		t := parseTime(last.String)
		s.LastSyncDate = &t
	}
	return &s, nil
}

// GetProviderConfig looks up a provider config by unique key and environment.
func (b *Backend) GetProviderConfig(ctx context.Context, uniqueKey string, environmentID int64) (*store.ProviderConfig, error) {
	var pc store.ProviderConfig
	err := b.db.QueryRowContext(ctx, `
		SELECT id, environment_id, provider, unique_key FROM provider_configs
		WHERE unique_key = ? AND environment_id = ?`, uniqueKey, environmentID,
	).Scan(&pc.ID, &pc.EnvironmentID, &pc.Provider, &pc.UniqueKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("provider config", uniqueKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}
	return &pc, nil
}

// GetScriptConfig looks up an enabled script config.
func (b *Backend) GetScriptConfig(ctx context.Context, q store.ScriptQuery) (*store.ScriptConfig, error) {
	var (
		sc                                store.ScriptConfig
		fileLocation, version, inputModel sql.NullString
		models, endpoints, outputSchema   sql.NullString
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, environment_id, config_id, name, file_location, version, is_action,
		       models, input_model, endpoints, track_deletes, enabled, output_schema
		FROM script_configs
		WHERE environment_id = ? AND config_id = ? AND name = ? AND is_action = ? AND enabled = 1`,
		q.EnvironmentID, q.ConfigID, q.Name, q.IsAction,
	).Scan(&sc.ID, &sc.EnvironmentID, &sc.ConfigID, &sc.Name, &fileLocation, &version, &sc.IsAction,
		&models, &inputModel, &endpoints, &sc.TrackDeletes, &sc.Enabled, &outputSchema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("script config", q.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script config: %w", err)
	}

	sc.FileLocation = fileLocation.String
	sc.Version = version.String
	sc.InputModel = inputModel.String
	if err := unmarshalList(models, &sc.Models); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	if err := unmarshalList(endpoints, &sc.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to decode endpoints: %w", err)
	}
	if outputSchema.Valid {
		sc.OutputSchema = json.RawMessage(outputSchema.String)
	}
	return &sc, nil
}

// GetAccountAndEnvironment looks up an environment and its account.
func (b *Backend) GetAccountAndEnvironment(ctx context.Context, environmentID int64) (*store.AccountEnvironment, error) {
	var ae store.AccountEnvironment
	err := b.db.QueryRowContext(ctx, `
		SELECT id, name, account_id, account_name FROM environments WHERE id = ?`, environmentID,
	).Scan(&ae.Environment.ID, &ae.Environment.Name, &ae.Account.ID, &ae.Account.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("environment", strconv.FormatInt(environmentID, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	ae.Environment.AccountID = ae.Account.ID
	return &ae, nil
}

// PutAccountEnvironment upserts an environment.
func (b *Backend) PutAccountEnvironment(ctx context.Context, ae store.AccountEnvironment) error {
	if ae.Environment.ID == 0 {
		return &relayerrors.ValidationError{Field: "environment.id", Message: "id is required"}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO environments (id, name, account_id, account_name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, account_id = excluded.account_id, account_name = excluded.account_name`,
		ae.Environment.ID, ae.Environment.Name, ae.Account.ID, ae.Account.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to put environment: %w", err)
	}
	return nil
}

// PutProviderConfig upserts a provider config.
func (b *Backend) PutProviderConfig(ctx context.Context, pc *store.ProviderConfig) error {
	if pc.ID == 0 || pc.UniqueKey == "" {
		return &relayerrors.ValidationError{Field: "provider_config", Message: "id and unique_key are required"}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO provider_configs (id, environment_id, provider, unique_key) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET environment_id = excluded.environment_id,
			provider = excluded.provider, unique_key = excluded.unique_key`,
		pc.ID, pc.EnvironmentID, pc.Provider, pc.UniqueKey,
	)
	if err != nil {
		return fmt.Errorf("failed to put provider config: %w", err)
	}
	return nil
}

// PutScriptConfig upserts a script config.
func (b *Backend) PutScriptConfig(ctx context.Context, sc *store.ScriptConfig) error {
	if sc.ID == 0 || sc.Name == "" {
		return &relayerrors.ValidationError{Field: "script_config", Message: "id and name are required"}
	}
	models, err := json.Marshal(nonNil(sc.Models))
	if err != nil {
		return fmt.Errorf("failed to encode models: %w", err)
	}
	endpoints, err := json.Marshal(nonNil(sc.Endpoints))
	if err != nil {
		return fmt.Errorf("failed to encode endpoints: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO script_configs (id, environment_id, config_id, name, file_location, version, is_action,
			models, input_model, endpoints, track_deletes, enabled, output_schema)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET environment_id = excluded.environment_id, config_id = excluded.config_id,
			name = excluded.name, file_location = excluded.file_location, version = excluded.version,
			is_action = excluded.is_action, models = excluded.models, input_model = excluded.input_model,
			endpoints = excluded.endpoints, track_deletes = excluded.track_deletes, enabled = excluded.enabled,
			output_schema = excluded.output_schema`,
		sc.ID, sc.EnvironmentID, sc.ConfigID, sc.Name, nullString(sc.FileLocation), nullString(sc.Version), sc.IsAction,
		string(models), nullString(sc.InputModel), string(endpoints), sc.TrackDeletes, sc.Enabled, nullBytes(sc.OutputSchema),
	)
	if err != nil {
		return fmt.Errorf("failed to put script config: %w", err)
	}
	return nil
}

// PutSync upserts a sync, keeping any recorded last sync date.
func (b *Backend) PutSync(ctx context.Context, s *store.Sync) error {
	if s.ID == "" || s.Name == "" {
		return &relayerrors.ValidationError{Field: "sync", Message: "id and name are required"}
	}
	var last any
	if s.LastSyncDate != nil {
		last = formatTime(s.LastSyncDate.UTC())
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO syncs (id, name, connection_id, last_sync_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, connection_id = excluded.connection_id,
			last_sync_date = COALESCE(excluded.last_sync_date, syncs.last_sync_date)`,
		s.ID, s.Name, s.ConnectionID, last,
	)
	if err != nil {
		return fmt.Errorf("failed to put sync: %w", err)
	}
	return nil
}

// CreateOperation inserts an operation.
func (b *Backend) CreateOperation(ctx context.Context, op *store.Operation) error {
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO operations (id, type, action, message, state, identity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, op.Action, op.Message, op.State, nullBytes(op.Identity), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by id.
func (b *Backend) GetOperation(ctx context.Context, id string) (*store.Operation, error) {
	var (
		op                   store.Operation
		message, identity    sql.NullString
		createdAt, updatedAt string
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, type, action, message, state, identity, created_at, updated_at
		FROM operations WHERE id = ?`, id,
	).Scan(&op.ID, &op.Type, &op.Action, &message, &op.State, &identity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("operation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	op.Message = message.String
	if identity.Valid {
		op.Identity = json.RawMessage(identity.String)
	}
	op.CreatedAt = parseTime(createdAt)
	op.UpdatedAt = parseTime(updatedAt)
	return &op, nil
}

// SetOperationState updates an operation's state.
func (b *Backend) SetOperationState(ctx context.Context, id, state string) error {
	res, err := b.db.ExecContext(ctx, `UPDATE operations SET state = ?, updated_at = ? WHERE id = ?`,
		state, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("operation", id)
	}
	return nil
}

// AppendMessage appends a log entry to an operation.
func (b *Backend) AppendMessage(ctx context.Context, msg store.OperationMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO operation_messages (operation_id, level, message, meta, created_at)
		SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM operations WHERE id = ?)`,
		msg.OperationID, msg.Level, msg.Message, nullBytes(msg.Meta), formatTime(msg.CreatedAt), msg.OperationID,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("operation", msg.OperationID)
	}
	return nil
}

// ListMessages returns an operation's log entries in append order.
func (b *Backend) ListMessages(ctx context.Context, operationID string) ([]store.OperationMessage, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT operation_id, level, message, meta, created_at FROM operation_messages
		WHERE operation_id = ? ORDER BY id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.OperationMessage
	for rows.Next() {
		var (
			msg       store.OperationMessage
			meta      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&msg.OperationID, &msg.Level, &msg.Message, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if meta.Valid {
			msg.Meta = json.RawMessage(meta.String)
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullBytes returns nil if byte slice is empty, otherwise the string representation.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unmarshalList(raw sql.NullString, dst *[]string) error {
	if !raw.Valid || raw.String == "" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
