// Package redistore implements the document-store contract over redis.
// Documents are JSON values; equality filters are served from
// per-field-value sets maintained on write, and range/sort queries are
// served from per-field sorted sets only when a matching composite
// index was registered, matching the capability limits of the hosted
// document database.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/careview-api/internal/store"
)

type Store struct {
	client *redis.Client

	mu      sync.RWMutex
	indexes []store.IndexSpec
}

type Config struct {
	URL string
}

func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// RegisterIndex declares a composite index. The corresponding sorted
// sets are maintained on write for every timestamp field, so
// registration is purely a capability switch.
func (s *Store) RegisterIndex(spec store.IndexSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, spec)
}

func docKey(collection, id string) string { return "doc:" + collection + ":" + id }
func idsKey(collection string) string     { return "ids:" + collection }
func fieldsKey(collection string) string  { return "fields:" + collection }
func eqKey(collection, field, value string) string {
	return "idx:" + collection + ":" + field + ":" + value
}
func tsKey(collection, field string) string { return "ts:" + collection + ":" + field }

// indexableFields are the scalar fields maintained as equality sets.
// Nested maps and arrays are not filterable, which matches how the
// collections are actually queried.
func indexableFields(doc store.Document) []string {
	fields := make([]string, 0, len(doc))
	for k, v := range doc {
		switch v.(type) {
		case string, float64, int, int64, bool:
			fields = append(fields, k)
		}
	}
	return fields
}

// Put writes a document and maintains its equality and timestamp
// indexes. Write traffic comes from the sync worker, not this service's
// request path.
func (s *Store) Put(ctx context.Context, collection string, doc store.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no id")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), body, 0)
	pipe.SAdd(ctx, idsKey(collection), id)
	for _, field := range indexableFields(doc) {
		pipe.SAdd(ctx, fieldsKey(collection), field)
		pipe.SAdd(ctx, eqKey(collection, field, doc.String(field)), id)
	}
	for field, raw := range doc {
		if ts, ok := fieldInstant(raw); ok {
			pipe.SAdd(ctx, fieldsKey(collection), field)
			pipe.ZAdd(ctx, tsKey(collection, field), redis.Z{
				Score:  float64(ts.UnixMilli()),
				Member: id,
			})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, q store.Query) ([]store.Document, error) {
	known, err := s.client.SMembers(ctx, fieldsKey(q.Collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read collection fields: %w", err)
	}
	knownSet := make(map[string]bool, len(known))
	for _, f := range known {
		knownSet[f] = true
	}
	for _, f := range q.Filters {
		if !knownSet[f.Field] {
			return nil, store.ErrUnknownField
		}
	}
	if (q.Range != nil || q.Sort != nil) && !s.indexed(q) {
		return nil, store.ErrIndexRequired
	}

	ids, err := s.candidateIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if q.Range != nil || q.Sort != nil {
		field := ""
		if q.Range != nil {
			field = q.Range.Field
		} else {
			field = q.Sort.Field
		}
		ids, err = s.orderByTimestamp(ctx, q, field, ids)
		if err != nil {
			return nil, err
		}
	} else {
		sort.Strings(ids)
	}

	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetByID(ctx, q.Collection, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (store.Document, error) {
	body, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc := store.Document{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Store) candidateIDs(ctx context.Context, q store.Query) ([]string, error) {
	if len(q.Filters) == 0 {
		ids, err := s.client.SMembers(ctx, idsKey(q.Collection)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list collection ids: %w", err)
		}
		return ids, nil
	}
	keys := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		keys = append(keys, eqKey(q.Collection, f.Field, fmt.Sprintf("%v", f.Value)))
	}
	ids, err := s.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to intersect equality indexes: %w", err)
	}
	return ids, nil
}

// orderByTimestamp orders (and range-bounds) candidate ids by the
// field's sorted set: ascending by timestamp, ties broken by id.
func (s *Store) orderByTimestamp(ctx context.Context, q store.Query, field string, ids []string) ([]string, error) {
	min, max := "-inf", "+inf"
	if q.Range != nil {
		min = fmt.Sprintf("%d", q.Range.From.UnixMilli())
		max = fmt.Sprintf("(%d", q.Range.To.UnixMilli())
	}
	members, err := s.client.ZRangeByScoreWithScores(ctx, tsKey(q.Collection, field), &redis.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp index: %w", err)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	type entry struct {
		id    string
		score float64
	}
	ordered := make([]entry, 0, len(members))
	for _, m := range members {
		id, _ := m.Member.(string)
		if wanted[id] {
			ordered = append(ordered, entry{id: id, score: m.Score})
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score == ordered[j].score {
			return ordered[i].id < ordered[j].id
		}
		return ordered[i].score < ordered[j].score
	})
	out := make([]string, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, e.id)
	}
	return out, nil
}

// fieldInstant coerces the timestamp shapes documents carry: native
// time values, RFC3339 strings, and {_seconds,_nanoseconds} maps.
func fieldInstant(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	case map[string]any:
		m := store.Document(v)
		if !m.Has("_seconds") {
			return time.Time{}, false
		}
		sec, ok := m["_seconds"].(float64)
		if !ok {
			return time.Time{}, false
		}
		nsec, _ := m["_nanoseconds"].(float64)
		return time.Unix(int64(sec), int64(nsec)), true
	}
	return time.Time{}, false
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

	s.mu.RLock()
	defer s.mu.RUnlock()
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
