package model

// Role identifies which kind of user a person record represents.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RolePatient Role = "patient"
)

// Valid reports whether the role is one the aggregation layer knows how
// to build views for.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RolePatient:
		return true
	}
	return false
}

// PersonRef is a normalized reference to a person assembled from one of
// the people collections. LinkedPatientID is set when a staff member's id
// also appears as a patient record id, so the UI can tag them "also a
// patient" instead of listing them twice.
type PersonRef struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Role            Role   `json:"role"`
	LinkedPatientID string `json:"linked_patient_id,omitempty"`
}

// IsAlsoPatient reports whether this staff member is linked to a patient
// record for the same human.
func (p PersonRef) IsAlsoPatient() bool {
	return p.Role != RolePatient && p.LinkedPatientID != ""
}
