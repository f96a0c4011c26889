package aggregate

import (
	"github.com/jwalitptl/careview-api/internal/model"
	"github.com/jwalitptl/careview-api/internal/store"
)

// Collection names, split by origin. mobile_* collections hold
// phone-app-only data; unprefixed and web_* collections are shared with
// the web app. These names are fixed for compatibility with the
// deployed database.
const (
	CollectionPatients           = "patients"
	CollectionDoctors            = "doctors"
	CollectionNurses             = "nurses"
	CollectionWebAppointments    = "web_appointments"
	CollectionMobileAppointments = "mobile_appointments"
	CollectionLabRequests        = "mobile_lab_requests"
	CollectionLabResults         = "mobile_lab_results"
	CollectionPrescriptions      = "mobile_prescriptions"
	CollectionOverrides          = "mobile_override_requests"
)

// Defaults used when a join target is missing.
const (
	UnknownPhysician = "Unknown physician"
	UnknownPatient   = "Unknown patient"
	UnknownPerson    = "Unknown"
)

// displayNameFields are the name aliases people records carry.
var displayNameFields = []string{"name", "fullName", "displayName"}

func displayName(doc store.Document, fallback string) string {
	for _, field := range displayNameFields {
		if v := doc.String(field); v != "" {
			return v
		}
	}
	return fallback
}

// personFromDoc builds a PersonRef from a people-collection document.
func personFromDoc(doc store.Document, role model.Role) model.PersonRef {
	return model.PersonRef{
		ID:          doc.ID(),
		DisplayName: displayName(doc, UnknownPerson),
		Role:        role,
	}
}

// personFromJoin builds a PersonRef from a merged join namespace, which
// may be a defaults-only stub when the target was missing.
func personFromJoin(doc store.Document, key string, role model.Role, fallbackName string) model.PersonRef {
	joined := doc.Map(key)
	if joined == nil {
		return model.PersonRef{Role: role, DisplayName: fallbackName}
	}
	return model.PersonRef{
		ID:          joined.ID(),
		DisplayName: displayName(joined, fallbackName),
		Role:        role,
	}
}

// appointmentFromDoc maps an enriched appointment document. The second
// return is false when the record has no resolvable instant and must be
// excluded from the schedule.
func appointmentFromDoc(doc store.Document, source string) (model.Appointment, bool) {
	occursAt, ok := ResolveOccursAt(doc)
	if !ok {
		return model.Appointment{}, false
	}
	apt := model.Appointment{
		ID:       doc.ID(),
		Patient:  personFromJoin(doc, "patient", model.RolePatient, UnknownPatient),
		Doctor:   personFromJoin(doc, "doctor", model.RoleDoctor, UnknownPhysician),
		Room:     doc.String("room"),
		Reason:   doc.String("reason"),
		OccursAt: occursAt,
		Source:   source,
	}
	if hasAny(doc, NurseIDFields) {
		nurse := personFromJoin(doc, "nurse", model.RoleNurse, UnknownPerson)
		apt.Nurse = &nurse
	}
	return apt, true
}

func labRequestFromDoc(doc store.Document) model.LabRequest {
	createdAt, _ := ResolveCreatedAt(doc)
	return model.LabRequest{
		ID:        doc.ID(),
		Patient:   personFromJoin(doc, "patient", model.RolePatient, UnknownPatient),
		Doctor:    personFromJoin(doc, "doctor", model.RoleDoctor, UnknownPhysician),
		TestType:  doc.String("testType"),
		Status:    model.LabRequestStatus(doc.String("status")),
		CreatedAt: createdAt,
	}
}

// labResultFromDoc maps an enriched result document. The request join
// may have missed (deleted request); the stubbed request still renders
// with safe defaults instead of failing the view.
func labResultFromDoc(doc store.Document) model.LabResult {
	request := doc.Map("request")
	stub := request == nil || request.ID() == ""

	var req model.LabRequest
	if request != nil {
		createdAt, _ := ResolveCreatedAt(request)
		req = model.LabRequest{
			ID:        request.ID(),
			TestType:  request.String("testType"),
			Status:    model.LabRequestStatus(request.String("status")),
			CreatedAt: createdAt,
		}
	}
	req.Doctor = personFromJoin(doc, "doctor", model.RoleDoctor, UnknownPhysician)
	req.Patient = personFromJoin(doc, "patient", model.RolePatient, UnknownPatient)

	fields := doc.OrderedFields("results")
	resultFields := make([]model.ResultField, 0, len(fields))
	for _, f := range fields {
		resultFields = append(resultFields, model.ResultField{Name: f[0], Value: f[1]})
	}

	return model.LabResult{
		ID:           doc.ID(),
		Request:      req,
		RequestStub:  stub,
		ResultFields: resultFields,
		ReviewerNote: doc.String("reviewerNote"),
	}
}

func overrideFromDoc(doc store.Document) model.OverrideRequest {
	createdAt, _ := ResolveCreatedAt(doc)
	return model.OverrideRequest{
		ID:             doc.ID(),
		Patient:        personFromJoin(doc, "patient", model.RolePatient, UnknownPatient),
		RequestingRole: model.Role(doc.String("requestingRole")),
		ReviewingRole:  model.Role(doc.String("reviewingRole")),
		Message:        doc.String("message"),
		Status:         model.OverrideStatus(doc.String("status")),
		CreatedAt:      createdAt,
	}
}

func hasAny(doc store.Document, fields []string) bool {
	for _, f := range fields {
		if doc.Has(f) {
			return true
		}
	}
	return false
}
