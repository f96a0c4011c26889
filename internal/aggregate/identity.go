package aggregate

import "github.com/jwalitptl/careview-api/internal/store"

// Ownership field aliases. The same relationship is spelled differently
// across collections that evolved independently: phone-app collections
// use doctorId/nurseId, the shared patients collection uses the older
// assignedDoctorId/assignedNurseId. Every call site consumes these
// shared candidate lists so precedence evolves in one place.
var (
	DoctorIDFields  = []string{"doctorId", "assignedDoctorId"}
	NurseIDFields   = []string{"nurseId", "assignedNurseId"}
	PatientIDFields = []string{"patientId", "patient_id"}

	// Patient-collection ownership, queried from the staff side. The
	// shared collection's assigned* spelling is the common case there.
	PatientsByDoctorFields = []string{"assignedDoctorId", "doctorId"}
	PatientsByNurseFields  = []string{"assignedNurseId", "nurseId"}
)

// ResolveOwnerID returns the first present non-empty candidate field's
// value. Later candidates are ignored even when also present.
func ResolveOwnerID(doc store.Document, candidates []string) (string, bool) {
	for _, field := range candidates {
		if v := doc.String(field); v != "" {
			return v, true
		}
	}
	return "", false
}

// PatientIndex maps identifiers to patient record ids for multi-role
// detection. An entry exists for each patient record id and for any
// staffId alias a patient record carries.
type PatientIndex map[string]string

// BuildPatientIndex indexes patient documents for linkage lookups.
func BuildPatientIndex(patients []store.Document) PatientIndex {
	idx := make(PatientIndex, len(patients))
	for _, doc := range patients {
		id := doc.ID()
		if id == "" {
			continue
		}
		idx[id] = id
		if staffID := doc.String("staffId"); staffID != "" {
			idx[staffID] = id
		}
	}
	return idx
}

// DetectMultiRoleLink reports whether a staff id also identifies a
// patient record. Linkage is established only through an explicit shared
// identifier, never by name matching, to avoid false-positive clinical
// mismatches.
func DetectMultiRoleLink(personID string, idx PatientIndex) (string, bool) {
	if personID == "" {
		return "", false
	}
	patientID, ok := idx[personID]
	return patientID, ok
}
