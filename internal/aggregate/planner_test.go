package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/internal/store/memstore"
)

// countingStore wraps a store and counts Find calls.
type countingStore struct {
	store.Store
	finds atomic.Int64
}

func (c *countingStore) Find(ctx context.Context, q store.Query) ([]store.Document, error) {
	c.finds.Add(1)
	return c.Store.Find(ctx, q)
}

func seedLabRequests(ms *memstore.Store) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"L3", "L1", "L2"} {
		ms.Put(CollectionLabRequests, store.Document{
			"id":        id,
			"doctorId":  "D1",
			"status":    "pending",
			"createdAt": base.Add(time.Duration(i) * time.Hour),
		})
	}
	// Same timestamp as L2 to exercise the id tiebreak.
	ms.Put(CollectionLabRequests, store.Document{
		"id":        "L0",
		"doctorId":  "D1",
		"status":    "pending",
		"createdAt": base.Add(2 * time.Hour),
	})
	ms.Put(CollectionLabRequests, store.Document{
		"id":        "L9",
		"doctorId":  "D2",
		"status":    "pending",
		"createdAt": base,
	})
}

func plannerSpec() QuerySpec {
	return QuerySpec{
		Collection: CollectionLabRequests,
		Owner:      &OwnerFilter{Candidates: DoctorIDFields, Value: "D1"},
		Filters:    []store.Filter{{Field: "status", Value: "pending"}},
		Sort:       &store.Sort{Field: "createdAt"},
	}
}

func ids(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}

func TestPlannerIndexedPath(t *testing.T) {
	ms := memstore.New()
	seedLabRequests(ms)
	ms.RegisterIndex(store.IndexSpec{
		Collection:     CollectionLabRequests,
		EqualityFields: []string{"doctorId", "status"},
		RangeField:     "createdAt",
	})

	p := NewPlanner(ms, zerolog.Nop(), nil)
	res := p.Query(context.Background(), plannerSpec())

	assert.False(t, res.Degraded)
	assert.Empty(t, res.Failure)
	assert.Equal(t, []string{"L3", "L1", "L0", "L2"}, ids(res.Docs))
}

func TestPlannerIndexMissingFallback(t *testing.T) {
	indexed := memstore.New()
	seedLabRequests(indexed)
	indexed.RegisterIndex(store.IndexSpec{
		Collection:     CollectionLabRequests,
		EqualityFields: []string{"doctorId", "status"},
		RangeField:     "createdAt",
	})
	unindexed := memstore.New()
	seedLabRequests(unindexed)

	want := NewPlanner(indexed, zerolog.Nop(), nil).Query(context.Background(), plannerSpec())
	require.False(t, want.Degraded)

	cs := &countingStore{Store: unindexed}
	res := NewPlanner(cs, zerolog.Nop(), nil).Query(context.Background(), plannerSpec())

	assert.True(t, res.Degraded)
	assert.Empty(t, res.Failure)
	assert.Equal(t, int64(2), cs.finds.Load(), "primary attempt plus exactly one equality-only fallback")
	assert.Equal(t, ids(want.Docs), ids(res.Docs), "in-memory ordering must match the indexed ordering")
}

func TestPlannerRangeFallbackFiltersInMemory(t *testing.T) {
	ms := memstore.New()
	seedLabRequests(ms)

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	res := NewPlanner(ms, zerolog.Nop(), nil).Query(context.Background(), QuerySpec{
		Collection: CollectionLabRequests,
		Owner:      &OwnerFilter{Candidates: DoctorIDFields, Value: "D1"},
		Range:      &store.RangeFilter{Field: "createdAt", From: base, To: base.Add(90 * time.Minute)},
		Sort:       &store.Sort{Field: "createdAt"},
	})

	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"L3", "L1"}, ids(res.Docs))
}

func TestPlannerRetriesNextOwnerAlias(t *testing.T) {
	ms := memstore.New()
	// This collection only ever carried the legacy spelling.
	ms.Put(CollectionPatients, store.Document{"id": "P1", "assignedDoctorId": "D1"})

	res := NewPlanner(ms, zerolog.Nop(), nil).Query(context.Background(), QuerySpec{
		Collection: CollectionPatients,
		Owner:      &OwnerFilter{Candidates: []string{"doctorId", "assignedDoctorId"}, Value: "D1"},
	})

	assert.Empty(t, res.Failure)
	assert.Equal(t, []string{"P1"}, ids(res.Docs))
}

func TestPlannerAbsorbsTotalFailure(t *testing.T) {
	ms := memstore.New()
	seedLabRequests(ms)
	ms.FailFind(CollectionLabRequests, errors.New("store outage"))

	res := NewPlanner(ms, zerolog.Nop(), nil).Query(context.Background(), plannerSpec())

	assert.True(t, res.Degraded)
	assert.Equal(t, "store outage", res.Failure)
	assert.Empty(t, res.Docs)
}

func TestPlannerExcludesUnparseableTimestamps(t *testing.T) {
	ms := memstore.New()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ms.Put(CollectionLabRequests, store.Document{"id": "OK", "doctorId": "D1", "createdAt": base})
	ms.Put(CollectionLabRequests, store.Document{"id": "BAD", "doctorId": "D1", "createdAt": "yesterday-ish"})

	res := NewPlanner(ms, zerolog.Nop(), nil).Query(context.Background(), QuerySpec{
		Collection: CollectionLabRequests,
		Owner:      &OwnerFilter{Candidates: DoctorIDFields, Value: "D1"},
		Range:      &store.RangeFilter{Field: "createdAt", From: base.Add(-time.Hour), To: base.Add(time.Hour)},
	})

	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"OK"}, ids(res.Docs), "records that cannot be placed in the window are excluded, not crashed on")
}
