// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package journal records engine and instance lifecycle events in a sqlite
// database inside the data directory, so crashes can be inspected after the
// host exits.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the journal's file name inside the data directory.
const FileName = "webtex-journal.db"

// Kind classifies an entry.
type Kind string

// Entry kinds.
const (
	EngineStarted     Kind = "engine_started"
	EngineExited      Kind = "engine_exited"
	EngineCrashed     Kind = "engine_crashed"
	InstanceCreated   Kind = "instance_created"
	InstanceDestroyed Kind = "instance_destroyed"
	InstanceFallback  Kind = "instance_fallback"
	Capabilities      Kind = "capabilities"
)

// Entry is one journal record.
type Entry struct {
	ID       int64
	Session  string
	Kind     Kind
	PID      int
	Instance string
	Detail   string
	ExitCode *int
	Time     time.Time
}

// Journal is an open journal database bound to one host session.
type Journal struct {
	db      *sql.DB
	session string
}

// Open opens or creates the journal at path and starts a new session.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod journal: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, session: uuid.NewString()}
	_, err = db.ExecContext(ctx, `INSERT INTO sessions(session_id, host_pid, started_at) VALUES (?, ?, ?)`,
		j.session, os.Getpid(), ts(time.Now()))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return j, nil
}

// Session returns the id of the session this journal writes to.
func (j *Journal) Session() string {
	return j.session
}

// Record appends e to the current session. Zero Time means now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var code any
	if e.ExitCode != nil {
		code = *e.ExitCode
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO entries(session_id, kind, pid, instance_id, detail, exit_code, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, j.session, string(e.Kind), e.PID, e.Instance, e.Detail, code, ts(e.Time))
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit entries of any session, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT entry_id, session_id, kind, pid, instance_id, detail, exit_code, recorded_at
FROM entries
ORDER BY entry_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
			code sql.NullInt64
			at   string
		)
		if err := rows.Scan(&e.ID, &e.Session, &kind, &e.PID, &e.Instance, &e.Detail, &code, &at); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = Kind(kind)
		if code.Valid {
			v := int(code.Int64)
			e.ExitCode = &v
		}
		if e.Time, err = parseTS(at); err != nil {
			return nil, fmt.Errorf("parse entry time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Crashes counts engine crashes recorded since t across all sessions.
func (j *Journal) Crashes(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE kind = ? AND recorded_at >= ?`,
		string(EngineCrashed), ts(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count crashes: %w", err)
	}
	return n, nil
}

// Close ends the session and closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	_, err := j.db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, ts(time.Now()), j.session)
	return errors.Join(err, j.db.Close())
}

// tsLayout is fixed width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}
