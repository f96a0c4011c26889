// Package store defines the narrow contract the aggregation layer
// consumes from the underlying document database: equality/range queries
// with composite-index requirements, and point reads by id. Adapters
// (memory, redis, postgres) implement this contract; nothing above this
// package knows which one is in use.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIndexRequired is returned when a query combines equality
	// filters with a range or sort the backing store cannot serve
	// without a composite index that does not exist.
	ErrIndexRequired = errors.New("store: query requires a composite index")

	// ErrNotFound is returned by GetByID for a missing document.
	ErrNotFound = errors.New("store: document not found")

	// ErrUnknownField is returned when an equality filter names a field
	// the collection does not index or carry at all.
	ErrUnknownField = errors.New("store: unknown filter field")
)

// Filter is an equality condition on a document field.
type Filter struct {
	Field string
	Value any
}

// RangeFilter bounds a timestamp field to [From, To).
type RangeFilter struct {
	Field string
	From  time.Time
	To    time.Time
}

// Sort orders results ascending by a field, ties broken by document id.
type Sort struct {
	Field string
}

// Query is one store read: equality filters, an optional range on a
// timestamp field, and an optional sort.
type Query struct {
	Collection string
	Filters    []Filter
	Range      *RangeFilter
	Sort       *Sort
}

// Store is the document database read contract.
type Store interface {
	Find(ctx context.Context, q Query) ([]Document, error)
	GetByID(ctx context.Context, collection, id string) (Document, error)
}

// IndexSpec names a composite index the store can serve: equality fields
// plus one range/sort field, in a single collection.
type IndexSpec struct {
	Collection     string
	EqualityFields []string
	RangeField     string
}

func (s IndexSpec) String() string {
	return fmt.Sprintf("%s(%v,%s)", s.Collection, s.EqualityFields, s.RangeField)
}
