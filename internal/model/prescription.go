package model

import "time"

// Prescription is a normalized medication order. The snapshot only
// surfaces a recent-count, but the full shape is kept so the joiner can
// enrich prescription rows for detail screens.
type Prescription struct {
	ID         string    `json:"id"`
	Patient    PersonRef `json:"patient"`
	Doctor     PersonRef `json:"doctor"`
	Medication string    `json:"medication"`
	Dosage     string    `json:"dosage,omitempty"`
	Frequency  string    `json:"frequency,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
