package model

import "time"

type LabRequestStatus string

const (
	LabRequestStatusPending   LabRequestStatus = "pending"
	LabRequestStatusCompleted LabRequestStatus = "completed"
	LabRequestStatusCancelled LabRequestStatus = "cancelled"
)

// LabRequest is a normalized lab test request.
type LabRequest struct {
	ID        string           `json:"id"`
	Patient   PersonRef        `json:"patient"`
	Doctor    PersonRef        `json:"doctor"`
	TestType  string           `json:"test_type"`
	Status    LabRequestStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// ResultField is one key/value pair of a lab result panel. Order is
// preserved from the source document so panels render the way the lab
// entered them.
type ResultField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LabResult joins a result document with its originating request. When
// the request document is missing the Request field carries a stub built
// from defaults ("unknown physician") rather than failing the view.
type LabResult struct {
	ID           string        `json:"id"`
	Request      LabRequest    `json:"request"`
	RequestStub  bool          `json:"request_stub,omitempty"`
	ResultFields []ResultField `json:"result_fields"`
	ReviewerNote string        `json:"reviewer_note,omitempty"`
}
