// Package postgres implements the document-store contract over a single
// jsonb documents table. It mirrors the capability model of the hosted
// document database: equality filters are always served, but a
// range/sort query runs only when a matching composite index has been
// declared in document_indexes; undeclared combinations are rejected
// with ErrIndexRequired instead of silently sequential-scanning.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/careview-api/internal/store"
)

type documentStore struct {
	db *sqlx.DB
}

// NewDocumentStore returns a store.Store backed by the documents table.
func NewDocumentStore(db *sqlx.DB) store.Store {
	return &documentStore{db: db}
}

type indexRow struct {
	EqualityFields pq.StringArray `db:"equality_fields"`
	RangeField     string         `db:"range_field"`
}

func (s *documentStore) Find(ctx context.Context, q store.Query) ([]store.Document, error) {
	if q.Range != nil || q.Sort != nil {
		ok, err := s.hasIndex(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to check index registry: %w", err)
		}
		if !ok {
			return nil, store.ErrIndexRequired
		}
	}

	var (
		clauses = []string{"collection = $1"}
		args    = []any{q.Collection}
	)
	for _, f := range q.Filters {
		args = append(args, fmt.Sprintf("%v", f.Value))
		clauses = append(clauses, fmt.Sprintf("body->>%s = $%d", quoteLiteral(f.Field), len(args)))
	}
	if q.Range != nil {
		field := quoteLiteral(q.Range.Field)
		args = append(args, q.Range.From)
		clauses = append(clauses, fmt.Sprintf("(body->>%s)::timestamptz >= $%d", field, len(args)))
		args = append(args, q.Range.To)
		clauses = append(clauses, fmt.Sprintf("(body->>%s)::timestamptz < $%d", field, len(args)))
		clauses = append(clauses, fmt.Sprintf("body->>%s IS NOT NULL", field))
	}

	query := "SELECT id, body FROM documents WHERE " + strings.Join(clauses, " AND ")
	if q.Sort != nil {
		query += fmt.Sprintf(" ORDER BY (body->>%s)::timestamptz ASC, id ASC", quoteLiteral(q.Sort.Field))
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc := store.Document{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		doc["id"] = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *documentStore) GetByID(ctx context.Context, collection, id string) (store.Document, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc := store.Document{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc["id"] = id
	return doc, nil
}

// Put upserts a document; sync tooling and tests use it.
func (s *documentStore) Put(ctx context.Context, collection string, doc store.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no id")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body
	`, collection, id, body)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// RegisterIndex declares a composite index so matching range/sort
// queries are served.
func (s *documentStore) RegisterIndex(ctx context.Context, spec store.IndexSpec) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_indexes (collection, equality_fields, range_field)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, spec.Collection, pq.StringArray(spec.EqualityFields), spec.RangeField)
	if err != nil {
		return fmt.Errorf("failed to register index: %w", err)
	}
	return nil
}

func (s *documentStore) hasIndex(ctx context.Context, q store.Query) (bool, error) {
	rangeField := ""
	if q.Range != nil {
		rangeField = q.Range.Field
	} else if q.Sort != nil {
		rangeField = q.Sort.Field
	}

	var specs []indexRow
	err := s.db.SelectContext(ctx, &specs, `
		SELECT equality_fields, range_field FROM document_indexes
		WHERE collection = $1 AND range_field = $2
	`, q.Collection, rangeField)
	if err != nil {
		return false, err
	}

	want := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		want = append(want, f.Field)
	}
	sort.Strings(want)
	for _, spec := range specs {
		declared := append([]string(nil), spec.EqualityFields...)
		sort.Strings(declared)
		if strings.Join(declared, ",") == strings.Join(want, ",") {
			return true, nil
		}
	}
	return false, nil
}

// quoteLiteral embeds a json field name into the query text. Field
// names come from the compiled-in candidate lists, never from request
// input, but quoting is still strict.
func quoteLiteral(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}
