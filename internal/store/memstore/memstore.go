// Package memstore is an in-memory implementation of the store contract
// used by tests and local development. It reproduces the capability
// limits of the production document database: range/sort queries are
// only served when a matching composite index has been registered, and
// filters on fields a collection never carries fail with
// ErrUnknownField. Arbitrary failures can be injected per collection.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jwalitptl/careview-api/internal/store"
)

type collection struct {
	docs   map[string]store.Document
	fields map[string]struct{}
}

// Store is a concurrency-safe in-memory document store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	indexes     []store.IndexSpec
	findErrs    map[string]error
	getErrs     map[string]error
}

func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		findErrs:    make(map[string]error),
		getErrs:     make(map[string]error),
	}
}

// Put inserts or replaces a document. The document's "id" field is the
// key; documents without one are ignored.
func (s *Store) Put(name string, doc store.Document) {
	id := doc.ID()
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[name]
	if c == nil {
		c = &collection{docs: make(map[string]store.Document), fields: make(map[string]struct{})}
		s.collections[name] = c
	}
	c.docs[id] = doc
	for k := range doc {
		c.fields[k] = struct{}{}
	}
}

// Delete removes a document, simulating deletion between a join's plan
// and its fetch.
func (s *Store) Delete(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.collections[name]; c != nil {
		delete(c.docs, id)
	}
}

// RegisterIndex declares a composite index; Find serves range/sort
// queries only against declared indexes.
func (s *Store) RegisterIndex(spec store.IndexSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, spec)
}

// FailFind makes every Find against the collection return err until
// cleared with a nil err.
func (s *Store) FailFind(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.findErrs, name)
		return
	}
	s.findErrs[name] = err
}

// FailGet makes GetByID for collection/id return err.
func (s *Store) FailGet(name, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name + "/" + id
	if err == nil {
		delete(s.getErrs, key)
		return
	}
	s.getErrs[key] = err
}

func (s *Store) Find(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.findErrs[q.Collection]; err != nil {
		return nil, err
	}
	c := s.collections[q.Collection]
	if c == nil {
		return nil, nil
	}
	for _, f := range q.Filters {
		if _, ok := c.fields[f.Field]; !ok {
			return nil, store.ErrUnknownField
		}
	}
	if (q.Range != nil || q.Sort != nil) && !s.indexed(q) {
		return nil, store.ErrIndexRequired
	}

	var out []store.Document
	for _, doc := range c.docs {
		if !matches(doc, q.Filters) {
			continue
		}
		if q.Range != nil {
			ts, ok := fieldTime(doc, q.Range.Field)
			if !ok || ts.Before(q.Range.From) || !ts.Before(q.Range.To) {
				continue
			}
		}
		out = append(out, doc)
	}
	if q.Sort != nil {
		field := q.Sort.Field
		sort.Slice(out, func(i, j int) bool {
			ti, _ := fieldTime(out[i], field)
			tj, _ := fieldTime(out[j], field)
			if ti.Equal(tj) {
				return out[i].ID() < out[j].ID()
			}
			return ti.Before(tj)
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	}
	return out, nil
}

func (s *Store) GetByID(ctx context.Context, name, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.getErrs[name+"/"+id]; err != nil {
		return nil, err
	}
	c := s.collections[name]
	if c == nil {
		return nil, store.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (s *Store) indexed(q store.Query) bool {
	rangeField := ""
	if q.Range != nil {
		rangeField = q.Range.Field
	} else if q.Sort != nil {
		rangeField = q.Sort.Field
	}
	eq := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		eq = append(eq, f.Field)
	}
	sort.Strings(eq)
	for _, idx := range s.indexes {
		if idx.Collection != q.Collection || idx.RangeField != rangeField {
			continue
		}
		declared := append([]string(nil), idx.EqualityFields...)
		sort.Strings(declared)
		if strings.Join(declared, ",") == strings.Join(eq, ",") {
			return true
		}
	}
	return false
}

func matches(doc store.Document, filters []store.Filter) bool {
	for _, f := range filters {
		if want, ok := f.Value.(string); ok {
			if doc.String(f.Field) != want {
				return false
			}
			continue
		}
		if doc[f.Field] != f.Value {
			return false
		}
	}
	return true
}

// fieldTime coerces the shapes timestamp fields take in the underlying
// collections: native time.Time, RFC3339 strings, and the
// {_seconds,_nanoseconds} map form.
func fieldTime(doc store.Document, field string) (time.Time, bool) {
	switch v := doc[field].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	case map[string]any:
		m := store.Document(v)
		if m.Has("_seconds") {
			sec, nsec := int64(0), int64(0)
			if f, ok := m["_seconds"].(float64); ok {
				sec = int64(f)
			} else if i, ok := m["_seconds"].(int64); ok {
				sec = i
			} else if i, ok := m["_seconds"].(int); ok {
				sec = int64(i)
			}
			if f, ok := m["_nanoseconds"].(float64); ok {
				nsec = int64(f)
			} else if i, ok := m["_nanoseconds"].(int64); ok {
				nsec = i
			} else if i, ok := m["_nanoseconds"].(int); ok {
				nsec = int64(i)
			}
			return time.Unix(sec, nsec), true
		}
	}
	return time.Time{}, false
}
