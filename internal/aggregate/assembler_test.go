package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/careview-api/internal/model"
	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/internal/store/memstore"
)

var testNow = time.Date(2024, 2, 20, 10, 0, 0, 0, time.Local)

func newTestAssembler(ms *memstore.Store) *Assembler {
	planner := NewPlanner(ms, zerolog.Nop(), nil)
	joiner := NewJoiner(ms, zerolog.Nop(), nil)
	return NewAssembler(planner, joiner, zerolog.Nop(), nil).WithClock(func() time.Time { return testNow })
}

// seedClinic populates a small clinic: doctor D1 with patients P1 and
// P2, nurse N1 who is also patient P2, plus today's records.
func seedClinic(ms *memstore.Store) {
	ms.Put(CollectionDoctors, store.Document{"id": "D1", "name": "Dr. Grey"})
	ms.Put(CollectionNurses, store.Document{"id": "N1", "name": "Nina Reyes"})

	ms.Put(CollectionPatients, store.Document{
		"id": "P1", "name": "Pat One",
		"assignedDoctorId": "D1", "assignedNurseId": "N1",
	})
	ms.Put(CollectionPatients, store.Document{
		"id": "P2", "name": "Nina Reyes", "staffId": "N1",
		"assignedDoctorId": "D1", "assignedNurseId": "N1",
	})

	// Shared web collection: split date/time strings, plus a stale
	// combined timestamp that must lose to the pair.
	ms.Put(CollectionWebAppointments, store.Document{
		"id": "WA1", "doctorId": "D1", "nurseId": "N1", "patientId": "P1",
		"date": "2024-02-20", "time": "14:30",
		"appointmentDate": time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC),
		"room":            "2B", "reason": "follow-up",
	})
	ms.Put(CollectionWebAppointments, store.Document{
		"id": "WA2", "doctorId": "D1", "patientId": "P2",
		"date": "2024-02-21", "time": "09:00",
	})

	// Phone-app collection: combined timestamp only.
	ms.Put(CollectionMobileAppointments, store.Document{
		"id": "MA1", "doctorId": "D1", "patientId": "P2",
		"appointmentDate": time.Date(2024, 2, 20, 9, 0, 0, 0, time.Local),
		"reason":          "blood draw",
	})

	ms.Put(CollectionLabRequests, store.Document{
		"id": "LQ1", "doctorId": "D1", "patientId": "P1",
		"testType": "CBC", "status": "pending",
		"createdAt": time.Date(2024, 2, 19, 8, 0, 0, 0, time.UTC),
	})

	ms.Put(CollectionPrescriptions, store.Document{
		"id": "RX1", "doctorId": "D1", "patientId": "P1",
		"medication": "amoxicillin",
		"createdAt":  testNow.Add(-48 * time.Hour),
	})
	ms.Put(CollectionPrescriptions, store.Document{
		"id": "RX2", "doctorId": "D1", "patientId": "P2",
		"medication": "lisinopril",
		"createdAt":  testNow.Add(-30 * 24 * time.Hour),
	})

	ms.Put(CollectionOverrides, store.Document{
		"id": "OV1", "doctorId": "D1", "nurseId": "N1", "patientId": "P1",
		"requestingRole": "nurse", "reviewingRole": "doctor",
		"message": "increase dosage", "status": "pending",
		"createdAt": time.Date(2024, 2, 20, 7, 0, 0, 0, time.UTC),
	})
}

func TestBuildSnapshotDoctor(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	a := newTestAssembler(ms)

	snap, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "D1")
	require.NoError(t, err)

	assert.False(t, snap.Partial)
	assert.Empty(t, snap.FailedSections)
	assert.Equal(t, "Dr. Grey", snap.ForUser.DisplayName)
	assert.Equal(t, model.RoleDoctor, snap.ForUser.Role)

	require.Len(t, snap.Patients, 2)
	assert.Equal(t, "P2", snap.Patients[0].ID) // Nina Reyes sorts first
	assert.Equal(t, "P1", snap.Patients[1].ID)

	// WA2 is tomorrow; MA1 (09:00) sorts before WA1 (14:30).
	require.Len(t, snap.AppointmentsToday, 2)
	assert.Equal(t, "MA1", snap.AppointmentsToday[0].ID)
	assert.Equal(t, CollectionMobileAppointments, snap.AppointmentsToday[0].Source)
	assert.Equal(t, "WA1", snap.AppointmentsToday[1].ID)
	assert.Equal(t, time.Date(2024, 2, 20, 14, 30, 0, 0, time.Local), snap.AppointmentsToday[1].OccursAt,
		"split date/time pair wins over the stale combined timestamp")
	assert.Equal(t, "Pat One", snap.AppointmentsToday[1].Patient.DisplayName)

	require.Len(t, snap.PendingLabRequests, 1)
	assert.Equal(t, "CBC", snap.PendingLabRequests[0].TestType)
	assert.Equal(t, "Pat One", snap.PendingLabRequests[0].Patient.DisplayName)

	assert.Equal(t, 1, snap.RecentPrescriptionsCount, "only prescriptions inside the lookback window count")

	require.Len(t, snap.PendingOverrides, 1)
	assert.Equal(t, model.RoleNurse, snap.PendingOverrides[0].RequestingRole)
}

func TestBuildSnapshotNurseMultiRole(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	a := newTestAssembler(ms)

	snap, err := a.BuildSnapshot(context.Background(), model.RoleNurse, "N1")
	require.NoError(t, err)

	assert.Equal(t, "Nina Reyes", snap.ForUser.DisplayName)
	assert.Equal(t, "P2", snap.ForUser.LinkedPatientID, "nurse's own patient record is linked, not duplicated")
	assert.True(t, snap.ForUser.IsAlsoPatient())

	// P2 is folded into ForUser; only P1 remains a listed patient.
	require.Len(t, snap.Patients, 1)
	assert.Equal(t, "P1", snap.Patients[0].ID)
}

func TestBuildSnapshotSectionOutage(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	ms.FailFind(CollectionLabRequests, errors.New("store outage"))
	a := newTestAssembler(ms)

	snap, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "D1")
	require.NoError(t, err, "one section's outage never aborts the build")

	assert.True(t, snap.Partial)
	assert.Equal(t, []string{model.SectionPendingLabs}, snap.FailedSections)
	assert.Empty(t, snap.PendingLabRequests)
	assert.Len(t, snap.Patients, 2, "unrelated sections stay fully populated")
	assert.Len(t, snap.AppointmentsToday, 2)
}

func TestBuildSnapshotIdempotent(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	a := newTestAssembler(ms)

	first, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "D1")
	require.NoError(t, err)
	second, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "D1")
	require.NoError(t, err)

	assert.NotEqual(t, first.BuildID, second.BuildID)
	assert.True(t, first.EqualData(second), "no data change means field-for-field equal snapshots")
}

func TestBuildSnapshotRequiresUser(t *testing.T) {
	a := newTestAssembler(memstore.New())

	_, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "")
	assert.ErrorIs(t, err, ErrNoCurrentUser)

	_, err = a.BuildSnapshot(context.Background(), model.RolePatient, "P1")
	assert.ErrorIs(t, err, ErrUnsupportedRole)
}

func TestBuildSnapshotCancelledContext(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	a := newTestAssembler(ms)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.BuildSnapshot(ctx, model.RoleDoctor, "D1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildSnapshotMissingProfileDefaults(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	ms.Delete(CollectionDoctors, "D1")
	a := newTestAssembler(ms)

	snap, err := a.BuildSnapshot(context.Background(), model.RoleDoctor, "D1")
	require.NoError(t, err)
	assert.Equal(t, UnknownPerson, snap.ForUser.DisplayName)
	assert.Equal(t, "D1", snap.ForUser.ID)
}

func TestLabResultsForDoctor(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	ms.Put(CollectionLabRequests, store.Document{
		"id": "LQ2", "doctorId": "D1", "patientId": "P1",
		"testType": "A1C", "status": "completed",
		"createdAt": time.Date(2024, 2, 18, 8, 0, 0, 0, time.UTC),
	})
	ms.Put(CollectionLabResults, store.Document{
		"id": "LR1", "doctorId": "D1", "requestId": "LQ2",
		"results":   []any{map[string]any{"name": "A1C", "value": "5.4"}},
		"createdAt": time.Date(2024, 2, 19, 8, 0, 0, 0, time.UTC),
	})
	ms.Put(CollectionLabResults, store.Document{
		"id": "LR2", "doctorId": "D1", "requestId": "gone",
		"createdAt": time.Date(2024, 2, 19, 9, 0, 0, 0, time.UTC),
	})
	a := newTestAssembler(ms)

	results, degraded, err := a.LabResultsForDoctor(context.Background(), "D1")
	require.NoError(t, err)
	assert.True(t, degraded, "no composite index is registered for this sort")
	require.Len(t, results, 2)

	assert.False(t, results[0].RequestStub)
	assert.Equal(t, "A1C", results[0].Request.TestType)
	assert.Equal(t, "Dr. Grey", results[0].Request.Doctor.DisplayName)

	assert.True(t, results[1].RequestStub)
	assert.Equal(t, UnknownPhysician, results[1].Request.Doctor.DisplayName)
}

func TestLabResultSingle(t *testing.T) {
	ms := memstore.New()
	seedClinic(ms)
	ms.Put(CollectionLabResults, store.Document{
		"id": "LR9", "requestId": "LQ1",
		"results":      map[string]any{"WBC": "6.1", "RBC": "4.7"},
		"reviewerNote": "recheck in two weeks",
	})
	a := newTestAssembler(ms)

	result, err := a.LabResult(context.Background(), "LR9")
	require.NoError(t, err)
	assert.Equal(t, "CBC", result.Request.TestType)
	assert.Equal(t, "recheck in two weeks", result.ReviewerNote)
	require.Len(t, result.ResultFields, 2)
	assert.Equal(t, "RBC", result.ResultFields[0].Name, "legacy map panels emit sorted keys")

	_, err = a.LabResult(context.Background(), "nope")
	assert.Error(t, err)
}
