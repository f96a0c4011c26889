package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/careview-api/internal/store"
)

func TestResolveOwnerIDCandidateOrder(t *testing.T) {
	doc := store.Document{
		"doctorId":         "D1",
		"assignedDoctorId": "D2",
	}
	got, ok := ResolveOwnerID(doc, DoctorIDFields)
	require.True(t, ok)
	assert.Equal(t, "D1", got, "first candidate wins even when later aliases are present")
}

func TestResolveOwnerIDSkipsEmpty(t *testing.T) {
	doc := store.Document{
		"doctorId":         "",
		"assignedDoctorId": "D2",
	}
	got, ok := ResolveOwnerID(doc, DoctorIDFields)
	require.True(t, ok)
	assert.Equal(t, "D2", got)

	_, ok = ResolveOwnerID(store.Document{}, DoctorIDFields)
	assert.False(t, ok)
}

func TestResolveOwnerIDNumericID(t *testing.T) {
	got, ok := ResolveOwnerID(store.Document{"doctorId": float64(42)}, DoctorIDFields)
	require.True(t, ok)
	assert.Equal(t, "42", got)
}

func TestDetectMultiRoleLink(t *testing.T) {
	idx := BuildPatientIndex([]store.Document{
		{"id": "P1", "name": "Pat One"},
		{"id": "P2", "name": "Nina", "staffId": "N1"},
	})

	patientID, linked := DetectMultiRoleLink("N1", idx)
	require.True(t, linked)
	assert.Equal(t, "P2", patientID)

	patientID, linked = DetectMultiRoleLink("P1", idx)
	require.True(t, linked)
	assert.Equal(t, "P1", patientID)

	_, linked = DetectMultiRoleLink("D9", idx)
	assert.False(t, linked)

	_, linked = DetectMultiRoleLink("", idx)
	assert.False(t, linked)
}
