package model

import (
	"time"

	"github.com/google/uuid"
)

// Section names reported in RoleSnapshot.FailedSections. These are the
// human-readable markers the UI shows next to a degraded section.
const (
	SectionPatients          = "patients"
	SectionAppointmentsToday = "appointmentsToday"
	SectionPendingLabs       = "pendingLabRequests"
	SectionPrescriptions     = "recentPrescriptions"
	SectionPendingOverrides  = "pendingOverrides"
)

// RoleSnapshot is the immutable, per-build view handed to the
// presentation layer. It is constructed fresh on every load; a refresh
// replaces the whole value, nothing is mutated in place. BuildID and
// BuiltAt are build metadata and excluded from snapshot equality.
type RoleSnapshot struct {
	BuildID uuid.UUID `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`

	ForUser                  PersonRef         `json:"for_user"`
	Patients                 []PersonRef       `json:"patients"`
	AppointmentsToday        []Appointment     `json:"appointments_today"`
	PendingLabRequests       []LabRequest      `json:"pending_lab_requests"`
	RecentPrescriptionsCount int               `json:"recent_prescriptions_count"`
	PendingOverrides         []OverrideRequest `json:"pending_overrides"`

	Partial        bool     `json:"partial"`
	FailedSections []string `json:"failed_sections,omitempty"`
}

// EqualData reports whether two snapshots carry the same view data,
// ignoring build metadata. Used to verify refresh idempotence.
func (s *RoleSnapshot) EqualData(o *RoleSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ForUser != o.ForUser ||
		s.RecentPrescriptionsCount != o.RecentPrescriptionsCount ||
		s.Partial != o.Partial {
		return false
	}
	if len(s.Patients) != len(o.Patients) ||
		len(s.AppointmentsToday) != len(o.AppointmentsToday) ||
		len(s.PendingLabRequests) != len(o.PendingLabRequests) ||
		len(s.PendingOverrides) != len(o.PendingOverrides) ||
		len(s.FailedSections) != len(o.FailedSections) {
		return false
	}
	for i := range s.Patients {
		if s.Patients[i] != o.Patients[i] {
			return false
		}
	}
	for i := range s.AppointmentsToday {
		if !s.AppointmentsToday[i].OccursAt.Equal(o.AppointmentsToday[i].OccursAt) {
			return false
		}
		a, b := s.AppointmentsToday[i], o.AppointmentsToday[i]
		if a.ID != b.ID || a.Patient != b.Patient || a.Doctor != b.Doctor ||
			a.Room != b.Room || a.Reason != b.Reason || a.Source != b.Source {
			return false
		}
		if (a.Nurse == nil) != (b.Nurse == nil) || (a.Nurse != nil && *a.Nurse != *b.Nurse) {
			return false
		}
	}
	for i := range s.PendingLabRequests {
		if !labRequestEqual(s.PendingLabRequests[i], o.PendingLabRequests[i]) {
			return false
		}
	}
	for i := range s.PendingOverrides {
		if !overrideEqual(s.PendingOverrides[i], o.PendingOverrides[i]) {
			return false
		}
	}
	for i := range s.FailedSections {
		if s.FailedSections[i] != o.FailedSections[i] {
			return false
		}
	}
	return true
}

func labRequestEqual(a, b LabRequest) bool {
	return a.ID == b.ID && a.Patient == b.Patient && a.Doctor == b.Doctor &&
		a.TestType == b.TestType && a.Status == b.Status && a.CreatedAt.Equal(b.CreatedAt)
}

func overrideEqual(a, b OverrideRequest) bool {
	return a.ID == b.ID && a.Patient == b.Patient && a.RequestingRole == b.RequestingRole &&
		a.ReviewingRole == b.ReviewingRole && a.Message == b.Message &&
		a.Status == b.Status && a.CreatedAt.Equal(b.CreatedAt)
}
