// Package store is the durable layer: the path tree of directories and
// files, the append-only version log, and the per-project accumulated
// update log, all backed by sqlite. The replicated-document layer never
// reads or writes these tables directly; it goes through this package.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

type Store struct {
	db *sql.DB

	// Update-log merges are serialized per project so that two
	// concurrent flushes both land in the log (additive, never
	// replace). sqlite would serialize the writes anyway; the lock
	// keeps the read-merge-write cycle atomic.
	docMu    sync.Mutex
	docLocks map[int64]*sync.Mutex
}

// Open opens the sqlite database at dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dsn, "memory") {
		// A pooled connection to an in-memory db would see its own
		// empty database.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, docLocks: map[int64]*sync.Mutex{}}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	slog.Info("Ensuring initial tables exist")
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS projects (
		id integer not null primary key autoincrement,
		session_id text not null unique,
		name text not null,
		created_by text not null,
		doc_updates text not null default '',
		created_at timestamp not null,
		last_modified timestamp not null
		)`,
		`CREATE TABLE IF NOT EXISTS project_members (
		project_id integer not null,
		user text not null,
		primary key (project_id, user)
		)`,
		`CREATE TABLE IF NOT EXISTS directories (
		id text not null primary key,
		project_id integer not null,
		path text not null,
		parent_id text,
		created_at timestamp not null,
		last_modified timestamp not null,
		unique (project_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS files (
		id text not null primary key,
		project_id integer not null,
		path text not null,
		parent_id text,
		content text not null default '',
		created_at timestamp not null,
		last_modified timestamp not null,
		unique (project_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS versions (
		id text not null primary key,
		file_id text not null,
		snapshot text not null,
		committed_by text not null,
		created_at timestamp not null
		)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *Store) docLock(projectID int64) *sync.Mutex {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	l, ok := s.docLocks[projectID]
	if !ok {
		l = new(sync.Mutex)
		s.docLocks[projectID] = l
	}
	return l
}

func newID() string {
	return ulid.Make().String()
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Error("failed to rollback", "err", err)
	}
}
