package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/careview-api/internal/store"
)

func TestFindEqualityOnly(t *testing.T) {
	ms := New()
	ms.Put("patients", store.Document{"id": "P1", "assignedDoctorId": "D1"})
	ms.Put("patients", store.Document{"id": "P2", "assignedDoctorId": "D2"})

	docs, err := ms.Find(context.Background(), store.Query{
		Collection: "patients",
		Filters:    []store.Filter{{Field: "assignedDoctorId", Value: "D1"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "P1", docs[0].ID())
}

func TestFindUnknownField(t *testing.T) {
	ms := New()
	ms.Put("patients", store.Document{"id": "P1", "assignedDoctorId": "D1"})

	_, err := ms.Find(context.Background(), store.Query{
		Collection: "patients",
		Filters:    []store.Filter{{Field: "doctorId", Value: "D1"}},
	})
	assert.ErrorIs(t, err, store.ErrUnknownField)
}

func TestFindRequiresRegisteredIndex(t *testing.T) {
	ms := New()
	base := time.Now()
	ms.Put("labs", store.Document{"id": "L1", "doctorId": "D1", "createdAt": base})

	q := store.Query{
		Collection: "labs",
		Filters:    []store.Filter{{Field: "doctorId", Value: "D1"}},
		Range:      &store.RangeFilter{Field: "createdAt", From: base.Add(-time.Hour), To: base.Add(time.Hour)},
		Sort:       &store.Sort{Field: "createdAt"},
	}
	_, err := ms.Find(context.Background(), q)
	assert.ErrorIs(t, err, store.ErrIndexRequired)

	ms.RegisterIndex(store.IndexSpec{
		Collection:     "labs",
		EqualityFields: []string{"doctorId"},
		RangeField:     "createdAt",
	})
	docs, err := ms.Find(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFindRangeTimestampShapes(t *testing.T) {
	ms := New()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ms.Put("labs", store.Document{"id": "L1", "createdAt": base})
	ms.Put("labs", store.Document{"id": "L2", "createdAt": base.Format(time.RFC3339)})
	ms.Put("labs", store.Document{"id": "L3", "createdAt": map[string]any{
		"_seconds":     float64(base.Unix()),
		"_nanoseconds": float64(0),
	}})
	ms.Put("labs", store.Document{"id": "L4", "createdAt": "malformed"})
	ms.RegisterIndex(store.IndexSpec{Collection: "labs", RangeField: "createdAt"})

	docs, err := ms.Find(context.Background(), store.Query{
		Collection: "labs",
		Range:      &store.RangeFilter{Field: "createdAt", From: base.Add(-time.Minute), To: base.Add(time.Minute)},
		Sort:       &store.Sort{Field: "createdAt"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2", "L3"}, idsOf(docs))
}

func TestGetByID(t *testing.T) {
	ms := New()
	ms.Put("doctors", store.Document{"id": "D1", "name": "Dr. Grey"})

	doc, err := ms.GetByID(context.Background(), "doctors", "D1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Grey", doc.String("name"))

	_, err = ms.GetByID(context.Background(), "doctors", "D2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = ms.GetByID(context.Background(), "missing", "D1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailureInjection(t *testing.T) {
	ms := New()
	ms.Put("doctors", store.Document{"id": "D1"})

	ms.FailGet("doctors", "D1", assert.AnError)
	_, err := ms.GetByID(context.Background(), "doctors", "D1")
	assert.ErrorIs(t, err, assert.AnError)

	ms.FailGet("doctors", "D1", nil)
	_, err = ms.GetByID(context.Background(), "doctors", "D1")
	assert.NoError(t, err)

	ms.FailFind("doctors", assert.AnError)
	_, err = ms.Find(context.Background(), store.Query{Collection: "doctors"})
	assert.ErrorIs(t, err, assert.AnError)
}

func idsOf(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}
