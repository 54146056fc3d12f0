// Package sqlite is a sourcewriter.Source backed by a SQLite table, for
// persisting committed property values to durable local storage. It mirrors
// the teacher's SQLite materialization driver: a serialized open/ping, and
// every batch written inside one database transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

// sqliteOpenMu serializes sql.Open/PingContext across every Source in the
// process. go-sqlite3 can return "database is locked" when two connections
// race to create the same file; the teacher's driver guards against this the
// same way.
var sqliteOpenMu sync.Mutex

const createTableSQL = `
CREATE TABLE IF NOT EXISTS property_values (
	subject  TEXT NOT NULL,
	property TEXT NOT NULL,
	value    TEXT,
	PRIMARY KEY (subject, property)
);`

const upsertSQL = `
INSERT INTO property_values (subject, property, value) VALUES (?, ?, ?)
ON CONFLICT(subject, property) DO UPDATE SET value = excluded.value;`

// Source persists property changes into one SQLite table, one row per
// (subject, property) pair, as a JSON-encoded value column.
type Source struct {
	identity  string
	batchSize int
	db        *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and ensures
// its property_values table exists. identity is this Source's Identity();
// batchSize governs chunking via WriteBatchSize (0 means unlimited).
func Open(identity, path string, batchSize int) (*Source, error) {
	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", path)
	if err == nil {
		err = db.Ping()
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sources/sqlite: opening %q: %w", path, err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sources/sqlite: creating table: %w", err)
	}

	return &Source{identity: identity, batchSize: batchSize, db: db}, nil
}

func (s *Source) Identity() string    { return s.identity }
func (s *Source) WriteBatchSize() int { return s.batchSize }
func (s *Source) Close() error        { return s.db.Close() }

// WriteChanges writes the batch inside one transaction. A row-level
// marshaling or exec failure fails just that row; a transaction-level
// failure (begin, prepare, commit) fails the whole batch.
func (s *Source) WriteChanges(ctx context.Context, batch []graph.Change) sourcewriter.WriteResult {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sourcewriter.Failure(fmt.Errorf("sources/sqlite: begin: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return sourcewriter.Failure(fmt.Errorf("sources/sqlite: prepare: %w", err))
	}
	defer stmt.Close()

	var failed []graph.Change
	var firstErr error
	for _, change := range batch {
		encoded, err := json.Marshal(change.New)
		if err != nil {
			failed = append(failed, change)
			if firstErr == nil {
				firstErr = fmt.Errorf("sources/sqlite: encoding %s: %w", change.Property, err)
			}
			continue
		}
		if _, err := stmt.ExecContext(ctx, change.Property.Subject.String(), change.Property.Name, string(encoded)); err != nil {
			failed = append(failed, change)
			if firstErr == nil {
				firstErr = fmt.Errorf("sources/sqlite: writing %s: %w", change.Property, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return sourcewriter.Failure(fmt.Errorf("sources/sqlite: commit: %w", err))
	}

	switch {
	case len(failed) == 0:
		return sourcewriter.SourceWriteSuccess
	case len(failed) == len(batch):
		return sourcewriter.Failure(firstErr)
	default:
		log.WithFields(log.Fields{"source": s.identity, "failed": len(failed), "total": len(batch)}).
			Warn("sources/sqlite: partial write failure")
		return sourcewriter.PartialFailure(failed, firstErr)
	}
}
