// Package store persists event templates, event instances, tasks and
// conflicts in SQLite. The uniqueness invariants the rest of the system
// relies on (one instance per template+date, one active conflict per
// type+event-set) are enforced here with unique indexes so that
// check-then-insert callers stay idempotent under concurrent runs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB

	Events    *EventStore
	Tasks     *TaskStore
	Conflicts *ConflictStore
}

// Open opens (creating if necessary) the SQLite database at path and runs
// the schema bootstrap. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Events = &EventStore{db: db}
	s.Tasks = &TaskStore{db: db}
	s.Conflicts = &ConflictStore{db: db}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS event_templates (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			location TEXT,
			category TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			rule TEXT NOT NULL,
			recurrence_days TEXT,
			recurrence_end TEXT,
			assigned_to TEXT,
			equipment TEXT,
			checklist TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_instances (
			id TEXT PRIMARY KEY,
			template_id TEXT,
			instance_date TEXT,
			title TEXT NOT NULL,
			description TEXT,
			location TEXT,
			category TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			assigned_to TEXT,
			priority TEXT,
			equipment TEXT,
			checklist TEXT,
			completed_items TEXT,
			preparation_list TEXT,
			enriched INTEGER NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_template_date
			ON event_instances(template_id, instance_date)
			WHERE template_id IS NOT NULL AND template_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_instances_start ON event_instances(start_time)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			due_date TEXT NOT NULL,
			assigned_to TEXT,
			category TEXT,
			priority INTEGER,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			checklist TEXT,
			recurrence TEXT,
			creates_events INTEGER NOT NULL DEFAULT 0,
			completion_actions TEXT,
			template_id TEXT,
			linked_event_id TEXT,
			next_instance_id TEXT,
			completed_at TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			affected_events TEXT NOT NULL,
			affected_users TEXT,
			affected_resources TEXT,
			suggestions TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			detected_at TEXT NOT NULL,
			resolved_at TEXT,
			resolved_by TEXT,
			resolution_actions TEXT,
			resolution_data TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_active_key
			ON conflicts(type, affected_events)
			WHERE status = 'active'`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// marshal serialises a slice/map column; empty values are stored as NULL so
// the JSON round trip distinguishes "unset" from "empty".
func marshal(v any) any {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" || string(b) == "[]" || string(b) == "{}" {
		return nil
	}
	return string(b)
}

func unmarshal[T any](s sql.NullString) T {
	var out T
	if s.Valid && s.String != "" {
		_ = json.Unmarshal([]byte(s.String), &out)
	}
	return out
}
