package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/careview-api/internal/model"
	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/pkg/metrics"
)

var (
	// ErrNoCurrentUser is the one fatal build error: no per-role data
	// is meaningful without an authenticated user.
	ErrNoCurrentUser = errors.New("cannot build snapshot without an authenticated user")

	// ErrUnsupportedRole is returned for roles without a coordination
	// view (patients use a separate surface).
	ErrUnsupportedRole = errors.New("no snapshot defined for role")
)

// recentPrescriptionWindow is the lookback for the recent-prescriptions
// count on the staff dashboard.
const recentPrescriptionWindow = 7 * 24 * time.Hour

// Assembler builds role-scoped snapshots. It is the only entry point
// the presentation layer calls; it composes the planner, joiner,
// identity resolution and timestamp normalization and never bypasses
// them. Each build owns its own working set; nothing is shared across
// builds except the store and the joiner's profile cache.
type Assembler struct {
	planner *Planner
	joiner  *Joiner
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAssembler(planner *Planner, joiner *Joiner, logger zerolog.Logger, m *metrics.Metrics) *Assembler {
	return &Assembler{
		planner: planner,
		joiner:  joiner,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock fixes the assembler's clock. Tests use this to pin the
// today-window.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

type sectionResult[T any] struct {
	value  T
	failed bool
}

// BuildSnapshot assembles the full view for one staff user. Data needs
// fan out concurrently; one section's total failure degrades that
// section to empty and marks the snapshot partial instead of aborting
// the build.
func (a *Assembler) BuildSnapshot(ctx context.Context, role model.Role, userID string) (*model.RoleSnapshot, error) {
	if userID == "" {
		return nil, ErrNoCurrentUser
	}
	switch role {
	case model.RoleDoctor, model.RoleNurse:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRole, role)
	}

	started := a.now()
	// One window per build: every date-bounded section uses this exact
	// window, so sections evaluated at different moments cannot drift.
	dayStart := time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, time.Local)
	today := store.RangeFilter{From: dayStart, To: dayStart.Add(24 * time.Hour)}

	ownerFields := PatientsByDoctorFields
	recordFields := DoctorIDFields
	if role == model.RoleNurse {
		ownerFields = PatientsByNurseFields
		recordFields = NurseIDFields
	}

	var (
		wg            sync.WaitGroup
		patients      sectionResult[[]store.Document]
		appointments  sectionResult[[]model.Appointment]
		labs          sectionResult[[]model.LabRequest]
		prescriptions sectionResult[int]
		overrides     sectionResult[[]model.OverrideRequest]
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		patients = a.patientsSection(ctx, ownerFields, userID)
	}()
	go func() {
		defer wg.Done()
		appointments = a.appointmentsSection(ctx, recordFields, userID, today)
	}()
	go func() {
		defer wg.Done()
		labs = a.pendingLabsSection(ctx, recordFields, userID)
	}()
	go func() {
		defer wg.Done()
		prescriptions = a.prescriptionCountSection(ctx, recordFields, userID, started)
	}()
	go func() {
		defer wg.Done()
		overrides = a.pendingOverridesSection(ctx, recordFields, userID)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// The caller abandoned this build; its results are discarded.
		return nil, err
	}

	snapshot := &model.RoleSnapshot{
		BuildID:                  uuid.New(),
		BuiltAt:                  started,
		AppointmentsToday:        appointments.value,
		PendingLabRequests:       labs.value,
		RecentPrescriptionsCount: prescriptions.value,
		PendingOverrides:         overrides.value,
	}

	patientIndex := BuildPatientIndex(patients.value)
	snapshot.ForUser = a.userRef(ctx, role, userID, patientIndex)
	snapshot.Patients = patientRefs(patients.value, snapshot.ForUser)

	for section, failed := range map[string]bool{
		model.SectionPatients:          patients.failed,
		model.SectionAppointmentsToday: appointments.failed,
		model.SectionPendingLabs:       labs.failed,
		model.SectionPrescriptions:     prescriptions.failed,
		model.SectionPendingOverrides:  overrides.failed,
	} {
		if failed {
			snapshot.FailedSections = append(snapshot.FailedSections, section)
			if a.metrics != nil {
				a.metrics.SectionFailures.WithLabelValues(section).Inc()
			}
		}
	}
	sort.Strings(snapshot.FailedSections)
	snapshot.Partial = len(snapshot.FailedSections) > 0

	if a.metrics != nil {
		status := "complete"
		if snapshot.Partial {
			status = "partial"
		}
		a.metrics.SnapshotBuilds.WithLabelValues(string(role), status).Inc()
		a.metrics.SnapshotBuildDuration.WithLabelValues(string(role)).Observe(time.Since(started).Seconds())
	}
	a.logger.Info().
		Str("role", string(role)).
		Str("user_id", userID).
		Bool("partial", snapshot.Partial).
		Strs("failed_sections", snapshot.FailedSections).
		Msg("snapshot built")

	return snapshot, nil
}

func (a *Assembler) patientsSection(ctx context.Context, ownerFields []string, userID string) sectionResult[[]store.Document] {
	res := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionPatients,
		Owner:      &OwnerFilter{Candidates: ownerFields, Value: userID},
	})
	if res.Failure != "" {
		return sectionResult[[]store.Document]{failed: true}
	}
	return sectionResult[[]store.Document]{value: res.Docs}
}

func (a *Assembler) appointmentsSection(ctx context.Context, recordFields []string, userID string, today store.RangeFilter) sectionResult[[]model.Appointment] {
	// The shared web collection records the day as a plain string, so
	// "today" is an equality filter there; the phone-app collection
	// carries a combined timestamp and takes the range path.
	webRes := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionWebAppointments,
		Owner:      &OwnerFilter{Candidates: recordFields, Value: userID},
		Filters:    []store.Filter{{Field: "date", Value: today.From.Format("2006-01-02")}},
	})
	mobileRes := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionMobileAppointments,
		Owner:      &OwnerFilter{Candidates: recordFields, Value: userID},
		Range:      &store.RangeFilter{Field: "appointmentDate", From: today.From, To: today.To},
		Sort:       &store.Sort{Field: "appointmentDate"},
	})
	if webRes.Failure != "" && mobileRes.Failure != "" {
		return sectionResult[[]model.Appointment]{failed: true}
	}

	plan := []JoinStep{
		{
			ForeignKey:       PatientIDFields,
			TargetCollection: CollectionPatients,
			TargetFields:     displayNameFields,
			As:               "patient",
			DefaultOnMiss:    map[string]any{"name": UnknownPatient},
		},
		{
			ForeignKey:       DoctorIDFields,
			TargetCollection: CollectionDoctors,
			TargetFields:     displayNameFields,
			As:               "doctor",
			DefaultOnMiss:    map[string]any{"name": UnknownPhysician},
		},
		{
			ForeignKey:       NurseIDFields,
			TargetCollection: CollectionNurses,
			TargetFields:     displayNameFields,
			As:               "nurse",
			DefaultOnMiss:    map[string]any{"name": UnknownPerson},
		},
	}

	var appointments []model.Appointment
	for _, batch := range []struct {
		docs   []store.Document
		source string
	}{
		{webRes.Docs, CollectionWebAppointments},
		{mobileRes.Docs, CollectionMobileAppointments},
	} {
		for _, doc := range a.joiner.EnrichAll(ctx, batch.docs, plan) {
			apt, ok := appointmentFromDoc(doc, batch.source)
			if !ok {
				a.logger.Warn().
					Str("collection", batch.source).
					Str("id", doc.ID()).
					Msg("appointment has no resolvable time, excluded from schedule")
				continue
			}
			// Equality-matched web rows still need the window check
			// once date+time resolve to a real instant.
			if apt.OccursAt.Before(today.From) || !apt.OccursAt.Before(today.To) {
				continue
			}
			appointments = append(appointments, apt)
		}
	}
	sort.SliceStable(appointments, func(i, j int) bool {
		if appointments[i].OccursAt.Equal(appointments[j].OccursAt) {
			return appointments[i].ID < appointments[j].ID
		}
		return appointments[i].OccursAt.Before(appointments[j].OccursAt)
	})
	return sectionResult[[]model.Appointment]{value: appointments}
}

func (a *Assembler) pendingLabsSection(ctx context.Context, recordFields []string, userID string) sectionResult[[]model.LabRequest] {
	res := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionLabRequests,
		Owner:      &OwnerFilter{Candidates: recordFields, Value: userID},
		Filters:    []store.Filter{{Field: "status", Value: string(model.LabRequestStatusPending)}},
		Sort:       &store.Sort{Field: "createdAt"},
	})
	if res.Failure != "" {
		return sectionResult[[]model.LabRequest]{failed: true}
	}

	enriched := a.joiner.EnrichAll(ctx, res.Docs, []JoinStep{
		{
			ForeignKey:       PatientIDFields,
			TargetCollection: CollectionPatients,
			TargetFields:     displayNameFields,
			As:               "patient",
			DefaultOnMiss:    map[string]any{"name": UnknownPatient},
		},
		{
			ForeignKey:       DoctorIDFields,
			TargetCollection: CollectionDoctors,
			TargetFields:     displayNameFields,
			As:               "doctor",
			DefaultOnMiss:    map[string]any{"name": UnknownPhysician},
		},
	})
	labs := make([]model.LabRequest, 0, len(enriched))
	for _, doc := range enriched {
		labs = append(labs, labRequestFromDoc(doc))
	}
	return sectionResult[[]model.LabRequest]{value: labs}
}

func (a *Assembler) prescriptionCountSection(ctx context.Context, recordFields []string, userID string, now time.Time) sectionResult[int] {
	res := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionPrescriptions,
		Owner:      &OwnerFilter{Candidates: recordFields, Value: userID},
		Range:      &store.RangeFilter{Field: "createdAt", From: now.Add(-recentPrescriptionWindow), To: now},
	})
	if res.Failure != "" {
		return sectionResult[int]{failed: true}
	}
	return sectionResult[int]{value: len(res.Docs)}
}

func (a *Assembler) pendingOverridesSection(ctx context.Context, recordFields []string, userID string) sectionResult[[]model.OverrideRequest] {
	res := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionOverrides,
		Owner:      &OwnerFilter{Candidates: recordFields, Value: userID},
		Filters:    []store.Filter{{Field: "status", Value: string(model.OverrideStatusPending)}},
		Sort:       &store.Sort{Field: "createdAt"},
	})
	if res.Failure != "" {
		return sectionResult[[]model.OverrideRequest]{failed: true}
	}

	enriched := a.joiner.EnrichAll(ctx, res.Docs, []JoinStep{
		{
			ForeignKey:       PatientIDFields,
			TargetCollection: CollectionPatients,
			TargetFields:     displayNameFields,
			As:               "patient",
			DefaultOnMiss:    map[string]any{"name": UnknownPatient},
		},
	})
	overrides := make([]model.OverrideRequest, 0, len(enriched))
	for _, doc := range enriched {
		overrides = append(overrides, overrideFromDoc(doc))
	}
	return sectionResult[[]model.OverrideRequest]{value: overrides}
}

// userRef loads the snapshot owner's profile and annotates the
// multi-role linkage once. A profile fetch miss degrades to a stub; it
// is not one of the snapshot's data sections.
func (a *Assembler) userRef(ctx context.Context, role model.Role, userID string, idx PatientIndex) model.PersonRef {
	collection := CollectionDoctors
	if role == model.RoleNurse {
		collection = CollectionNurses
	}
	ref := model.PersonRef{ID: userID, DisplayName: UnknownPerson, Role: role}
	if doc := a.joiner.Enrich(ctx, store.Document{"id": userID}, []JoinStep{{
		ForeignKey:       []string{"id"},
		TargetCollection: collection,
		TargetFields:     displayNameFields,
		As:               "profile",
	}}); doc.Map("profile") != nil {
		ref.DisplayName = displayName(doc.Map("profile"), UnknownPerson)
	}
	if patientID, linked := DetectMultiRoleLink(userID, idx); linked {
		ref.LinkedPatientID = patientID
	}
	return ref
}

// patientRefs maps patient documents, folding the record that belongs
// to the snapshot user themself into ForUser: a linked person appears
// once, tagged with both roles, never twice in the same list.
func patientRefs(docs []store.Document, forUser model.PersonRef) []model.PersonRef {
	refs := make([]model.PersonRef, 0, len(docs))
	for _, doc := range docs {
		if forUser.LinkedPatientID != "" && doc.ID() == forUser.LinkedPatientID {
			continue
		}
		refs = append(refs, personFromDoc(doc, model.RolePatient))
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DisplayName == refs[j].DisplayName {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].DisplayName < refs[j].DisplayName
	})
	return refs
}
