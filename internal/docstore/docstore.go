// Package docstore keeps the extracted text of every ingested document in
// SQLite so the vector index can always be rebuilt from its sources.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"docqa/internal/domain"
)

// ErrNotFound is returned by Get for an unknown document id.
var ErrNotFound = errors.New("docstore: document not found")

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// Store is a SQLite-backed document store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn. Use ":memory:" for a
// throwaway store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", dsn, err)
	}
	// every pooled connection to :memory: would be its own database
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("docstore: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("docstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores doc. An existing id yields domain.ErrDocumentExists.
func (s *Store) Put(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return errors.New("docstore: document id must be set")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, doc.ID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentExists, doc.ID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents(id, name, content, created_at) VALUES(?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Text, doc.CreatedAt.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes a document. It is used to undo a Put whose indexing failed.
func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// Get returns the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, content, created_at FROM documents WHERE id = ?`, id)
	doc, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

// Has reports whether a document with the given id is stored.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// Documents returns every stored document in insertion order.
func (s *Store) Documents(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, content, created_at FROM documents ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scan(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (domain.Document, error) {
	var (
		doc     domain.Document
		created int64
	)
	if err := r.Scan(&doc.ID, &doc.Name, &doc.Text, &created); err != nil {
		return domain.Document{}, err
	}
	doc.CreatedAt = time.Unix(0, created)
	return doc, nil
}
