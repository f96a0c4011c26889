package model

import "time"

type OverrideStatus string

const (
	OverrideStatusPending  OverrideStatus = "pending"
	OverrideStatusApproved OverrideStatus = "approved"
	OverrideStatusRejected OverrideStatus = "rejected"
)

// OverrideRequest is a request by one role (typically a nurse) asking
// another role (typically a doctor) to override a medication or care
// instruction for a patient.
type OverrideRequest struct {
	ID             string         `json:"id"`
	Patient        PersonRef      `json:"patient"`
	RequestingRole Role           `json:"requesting_role"`
	ReviewingRole  Role           `json:"reviewing_role"`
	Message        string         `json:"message"`
	Status         OverrideStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}
