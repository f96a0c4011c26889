package model

import "time"

// Appointment is a normalized appointment read-model. Records originate
// from either the shared web collection (separate date/time string
// fields) or the phone-app collection (combined timestamp); by the time
// an Appointment exists, OccursAt is always a fully resolved instant.
type Appointment struct {
	ID       string     `json:"id"`
	Patient  PersonRef  `json:"patient"`
	Doctor   PersonRef  `json:"doctor"`
	Nurse    *PersonRef `json:"nurse,omitempty"`
	Room     string     `json:"room,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	OccursAt time.Time  `json:"occurs_at"`
	Source   string     `json:"source"`
}
