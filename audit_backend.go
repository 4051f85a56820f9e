// audit_backend.go: Storage backends for the mnemos audit trail
//
// SQLite is the default: a queryable trail in a single file with no
// external services. Paths ending in .jsonl select an append-only JSON
// Lines file instead, and SQLite falls back to JSONL when it cannot be
// opened so that auditing never prevents engine startup.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend abstracts audit storage.
type auditBackend interface {
	// Write persists a batch of events. Implementations must be safe for
	// concurrent use.
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage.
	Flush() error

	// Close releases all resources. The backend must not be used afterwards.
	Close() error

	// Maintenance applies retention and optimizes storage.
	Maintenance() error

	// GetStats summarizes stored events.
	GetStats() (*AuditDatabaseStats, error)

	// Query returns stored events matching q, newest first.
	Query(q AuditQuery) ([]AuditRecord, error)

	// Cleanup deletes (or with dryRun counts) events older than olderThan.
	Cleanup(olderThan time.Duration, dryRun bool) (int64, error)
}

// AuditQuery filters stored audit events. Zero fields match everything.
type AuditQuery struct {
	Since    time.Time
	Until    time.Time
	Event    string
	EngineID string
	MinLevel AuditLevel
	Limit    int
}

func (q AuditQuery) matches(ev AuditEvent) bool {
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ev.Timestamp.After(q.Until) {
		return false
	}
	if q.Event != "" && ev.Event != q.Event {
		return false
	}
	if q.EngineID != "" && ev.EngineID != q.EngineID {
		return false
	}
	return ev.Level >= q.MinLevel
}

// AuditRecord is a stored audit event.
type AuditRecord struct {
	ID int64 `json:"id"`
	AuditEvent
}

// AuditDatabaseStats summarizes the contents of an audit backend.
type AuditDatabaseStats struct {
	Backend       string           `json:"backend"`
	Path          string           `json:"path"`
	TotalEvents   int64            `json:"total_events"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	EventsByName  map[string]int64 `json:"events_by_name"`
	OldestEvent   time.Time        `json:"oldest_event"`
	NewestEvent   time.Time        `json:"newest_event"`
	DatabaseSize  int64            `json:"database_size"`
	SchemaVersion int              `json:"schema_version"`
}

// createAuditBackend selects a backend from the configured output path.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	path := config.OutputFile
	if path == "" {
		path = DefaultAuditPath()
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return newJSONLAuditBackend(path)
	}

	backend, err := newSQLiteAuditBackend(path, config.Retention)
	if err == nil {
		return backend, nil
	}

	fallback := strings.TrimSuffix(path, filepath.Ext(path)) + ".jsonl"
	jsonl, jsonlErr := newJSONLAuditBackend(fallback)
	if jsonlErr != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "no audit backend available").
			WithContext("fallback_error", jsonlErr.Error())
	}
	return jsonl, nil
}

// auditSchemaVersion is the current SQLite schema version.
const auditSchemaVersion = 2

// sqliteAuditBackend stores events in a WAL-mode SQLite database.
type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	retention  time.Duration
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteAuditBackend(dbPath string, retention time.Duration) (*sqliteAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create audit directory").
			WithContext("path", dbPath)
	}

	db, err := openSQLiteDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	backend := &sqliteAuditBackend{
		db:        db,
		dbPath:    dbPath,
		retention: retention,
	}
	if err := backend.migrateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := backend.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// openSQLiteDatabase opens dbPath in WAL mode with a busy timeout so that
// several processes can share one trail.
func openSQLiteDatabase(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit database").
			WithContext("path", dbPath)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to connect to audit database").
			WithContext("path", dbPath)
	}
	return db, nil
}

func (s *sqliteAuditBackend) schemaVersion() (int, error) {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to create schema_info table")
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_info`).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to read schema version")
	}
	return version, nil
}

// migrateSchema brings the database to auditSchemaVersion inside one
// transaction.
func (s *sqliteAuditBackend) migrateSchema() error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if current >= auditSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin migration")
	}
	defer func() { _ = tx.Rollback() }()

	if current < 1 {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				timestamp_ns INTEGER NOT NULL,
				level TEXT NOT NULL,
				level_value INTEGER NOT NULL,
				event TEXT NOT NULL,
				component TEXT NOT NULL,
				engine_id TEXT,
				operation TEXT,
				object_type TEXT,
				code TEXT,
				message TEXT,
				process_id INTEGER NOT NULL,
				process_name TEXT NOT NULL,
				context TEXT,
				checksum TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp_ns)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events(event)`,
			`INSERT INTO schema_info (version) VALUES (1)`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return errors.Wrap(err, ErrCodeIOError, "failed to apply schema version 1")
			}
		}
	}

	if current < 2 {
		statements := []string{
			`CREATE INDEX IF NOT EXISTS idx_audit_engine_time ON audit_events(engine_id, timestamp_ns)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_level_time ON audit_events(level_value, timestamp_ns)`,
			`INSERT INTO schema_info (version) VALUES (2)`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return errors.Wrap(err, ErrCodeIOError, "failed to apply schema version 2")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit migration")
	}
	return nil
}

func (s *sqliteAuditBackend) prepareStatements() error {
	stmt, err := s.db.Prepare(`INSERT INTO audit_events (
		timestamp, timestamp_ns, level, level_value, event, component, engine_id,
		operation, object_type, code, message, process_id, process_name, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to prepare audit insert")
	}
	s.insertStmt = stmt
	return nil
}

// Write inserts the batch in a single transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(ErrCodeIOError, "audit backend is closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin audit transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.insertStmt)
	for i := range events {
		if err := insertEvent(stmt, &events[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit audit events")
	}
	return nil
}

func insertEvent(stmt *sql.Stmt, ev *AuditEvent) error {
	var context sql.NullString
	if len(ev.Context) > 0 {
		data, err := json.Marshal(ev.Context)
		if err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to encode audit context").
				WithContext("event", ev.Event)
		}
		context = sql.NullString{String: string(data), Valid: true}
	}

	_, err := stmt.Exec(
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.Timestamp.UnixNano(),
		ev.Level.String(),
		int(ev.Level),
		ev.Event,
		ev.Component,
		ev.EngineID,
		ev.Operation,
		ev.ObjectType,
		ev.Code,
		ev.Message,
		ev.ProcessID,
		ev.ProcessName,
		context,
		ev.Checksum,
	)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to insert audit event").
			WithContext("event", ev.Event)
	}
	return nil
}

// Query implements auditBackend.
func (s *sqliteAuditBackend) Query(q AuditQuery) ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New(ErrCodeIOError, "audit backend is closed")
	}

	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "timestamp_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "timestamp_ns <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		args = append(args, q.Event)
	}
	if q.EngineID != "" {
		where = append(where, "engine_id = ?")
		args = append(args, q.EngineID)
	}
	if q.MinLevel > AuditInfo {
		where = append(where, "level_value >= ?")
		args = append(args, int(q.MinLevel))
	}

	query := `SELECT id, timestamp_ns, level_value, event, component,
		COALESCE(engine_id, ''), COALESCE(operation, ''), COALESCE(object_type, ''),
		COALESCE(code, ''), COALESCE(message, ''), process_id, process_name,
		COALESCE(context, ''), checksum
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_ns DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to query audit events")
	}
	defer func() { _ = rows.Close() }()

	var records []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			ns      int64
			level   int
			context string
		)
		if err := rows.Scan(&rec.ID, &ns, &level, &rec.Event, &rec.Component,
			&rec.EngineID, &rec.Operation, &rec.ObjectType, &rec.Code, &rec.Message,
			&rec.ProcessID, &rec.ProcessName, &context, &rec.Checksum); err != nil {
			return nil, errors.Wrap(err, ErrCodeIOError, "failed to scan audit event")
		}
		rec.Timestamp = time.Unix(0, ns)
		rec.Level = AuditLevel(level)
		if context != "" {
			_ = json.Unmarshal([]byte(context), &rec.Context) // Corrupt context is dropped, the event is kept
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read audit events")
	}
	return records, nil
}

// Cleanup implements auditBackend.
func (s *sqliteAuditBackend) Cleanup(olderThan time.Duration, dryRun bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New(ErrCodeIOError, "audit backend is closed")
	}
	return s.deleteOlderThan(olderThan, dryRun)
}

// deleteOlderThan requires s.mu held.
func (s *sqliteAuditBackend) deleteOlderThan(olderThan time.Duration, dryRun bool) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	if dryRun {
		var count int64
		err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE timestamp_ns < ?`, cutoff).Scan(&count)
		if err != nil {
			return 0, errors.Wrap(err, ErrCodeIOError, "failed to count expired audit events")
		}
		return count, nil
	}

	res, err := s.db.Exec(`DELETE FROM audit_events WHERE timestamp_ns < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to delete expired audit events")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Maintenance applies the retention window and optimizes the database.
func (s *sqliteAuditBackend) Maintenance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if s.retention > 0 {
		if _, err := s.deleteOlderThan(s.retention, false); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`PRAGMA optimize`); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to optimize audit database")
	}
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to checkpoint audit database")
	}
	return nil
}

// GetStats implements auditBackend.
func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New(ErrCodeIOError, "audit backend is closed")
	}

	stats := &AuditDatabaseStats{
		Backend:       "sqlite",
		Path:          s.dbPath,
		EventsByLevel: make(map[string]int64),
		EventsByName:  make(map[string]int64),
		SchemaVersion: auditSchemaVersion,
	}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), MIN(timestamp_ns), MAX(timestamp_ns) FROM audit_events`).
		Scan(&stats.TotalEvents, &oldest, &newest)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to count audit events")
	}
	if oldest.Valid {
		stats.OldestEvent = time.Unix(0, oldest.Int64)
	}
	if newest.Valid {
		stats.NewestEvent = time.Unix(0, newest.Int64)
	}

	if err := s.countBy("level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	if err := s.countBy("event", stats.EventsByName); err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// countBy groups event counts by column, which must be a trusted identifier.
func (s *sqliteAuditBackend) countBy(column string, into map[string]int64) error {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s, COUNT(*) FROM audit_events GROUP BY %s`, column, column))
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to group audit events").
			WithContext("column", column)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to scan audit group")
		}
		into[key] = count
	}
	return rows.Err()
}

// Flush checkpoints the WAL into the main database file.
func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to checkpoint audit database")
	}
	return nil
}

// Close implements auditBackend.
func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to close audit database")
	}
	return nil
}

// jsonlAuditBackend appends one JSON object per line.
type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
}

func newJSONLAuditBackend(path string) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create audit directory").
			WithContext("path", path)
	}
	// #nosec G304 -- path comes from the audit configuration
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit file").
			WithContext("path", path)
	}
	return &jsonlAuditBackend{file: file, path: path}, nil
}

// Write implements auditBackend.
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New(ErrCodeIOError, "audit backend is closed")
	}

	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to encode audit event").
				WithContext("event", events[i].Event)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write audit events")
	}
	return nil
}

// readAll decodes every event in the file, skipping malformed lines.
func (j *jsonlAuditBackend) readAll() ([]AuditRecord, error) {
	// #nosec G304 -- path comes from the audit configuration
	file, err := os.Open(j.path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit file").
			WithContext("path", j.path)
	}
	defer func() { _ = file.Close() }()

	var records []AuditRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := int64(1); scanner.Scan(); line++ {
		var ev AuditEvent
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		records = append(records, AuditRecord{ID: line, AuditEvent: ev})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read audit file")
	}
	return records, nil
}

// Query implements auditBackend by scanning the file.
func (j *jsonlAuditBackend) Query(q AuditQuery) ([]AuditRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var matched []AuditRecord
	for i := len(all) - 1; i >= 0; i-- {
		if q.matches(all[i].AuditEvent) {
			matched = append(matched, all[i])
			if q.Limit > 0 && len(matched) == q.Limit {
				break
			}
		}
	}
	return matched, nil
}

// Cleanup is not supported on append-only files.
func (j *jsonlAuditBackend) Cleanup(time.Duration, bool) (int64, error) {
	return 0, errors.New(ErrCodeAuditQueryUnsupported, "cleanup requires the SQLite audit backend").
		WithContext("path", j.path)
}

// GetStats implements auditBackend by scanning the file.
func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return nil, err
	}

	stats := &AuditDatabaseStats{
		Backend:       "jsonl",
		Path:          j.path,
		TotalEvents:   int64(len(all)),
		EventsByLevel: make(map[string]int64),
		EventsByName:  make(map[string]int64),
	}
	if len(all) > 0 {
		sort.Slice(all, func(a, b int) bool { return all[a].Timestamp.Before(all[b].Timestamp) })
		stats.OldestEvent = all[0].Timestamp
		stats.NewestEvent = all[len(all)-1].Timestamp
	}
	for _, rec := range all {
		stats.EventsByLevel[rec.Level.String()]++
		stats.EventsByName[rec.Event]++
	}
	if info, err := os.Stat(j.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Flush implements auditBackend.
func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to sync audit file")
	}
	return nil
}

// Maintenance is a no-op; rotation is left to external tooling.
func (j *jsonlAuditBackend) Maintenance() error {
	return nil
}

// Close implements auditBackend.
func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Close(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to close audit file")
	}
	return nil
}
