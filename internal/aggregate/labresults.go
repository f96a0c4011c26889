package aggregate

import (
	"context"
	"fmt"

	"github.com/jwalitptl/careview-api/internal/model"
	"github.com/jwalitptl/careview-api/internal/store"
)

// labResultPlan is the bounded two-hop join for result documents:
// result -> originating request -> ordering doctor's profile, plus the
// patient attribution. Deeper or recursive joins are deliberately not
// expressible here.
var labResultPlan = []JoinStep{
	{
		ForeignKey:       []string{"requestId", "labRequestId"},
		TargetCollection: CollectionLabRequests,
		TargetFields:     []string{"patientId", "doctorId", "assignedDoctorId", "testType", "status", "createdAt"},
		As:               "request",
	},
	{
		ForeignKey:       []string{"request.doctorId", "request.assignedDoctorId"},
		TargetCollection: CollectionDoctors,
		TargetFields:     displayNameFields,
		As:               "doctor",
		DefaultOnMiss:    map[string]any{"name": UnknownPhysician},
	},
	{
		ForeignKey:       []string{"request.patientId", "patientId"},
		TargetCollection: CollectionPatients,
		TargetFields:     displayNameFields,
		As:               "patient",
		DefaultOnMiss:    map[string]any{"name": UnknownPatient},
	},
}

// LabResult resolves one result document with its originating request
// and the ordering doctor. A deleted or unreachable request yields a
// stubbed attribution, never an error.
func (a *Assembler) LabResult(ctx context.Context, resultID string) (*model.LabResult, error) {
	if resultID == "" {
		return nil, fmt.Errorf("lab result id is required")
	}
	doc, err := a.joiner.store.GetByID(ctx, CollectionLabResults, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lab result %s: %w", resultID, err)
	}
	result := labResultFromDoc(a.joiner.Enrich(ctx, doc, labResultPlan))
	return &result, nil
}

// LabResultsForDoctor lists a doctor's result documents, each enriched
// through the two-hop plan. Results whose request was deleted still
// render with defaults.
func (a *Assembler) LabResultsForDoctor(ctx context.Context, doctorID string) ([]model.LabResult, bool, error) {
	if doctorID == "" {
		return nil, false, ErrNoCurrentUser
	}
	res := a.planner.Query(ctx, QuerySpec{
		Collection: CollectionLabResults,
		Owner:      &OwnerFilter{Candidates: DoctorIDFields, Value: doctorID},
		Sort:       &store.Sort{Field: "createdAt"},
	})
	if res.Failure != "" {
		return nil, true, fmt.Errorf("lab results unavailable: %s", res.Failure)
	}

	enriched := a.joiner.EnrichAll(ctx, res.Docs, labResultPlan)
	results := make([]model.LabResult, 0, len(enriched))
	for _, doc := range enriched {
		results = append(results, labResultFromDoc(doc))
	}
	return results, res.Degraded, nil
}
