package models

import "time"

// RequestStatus tracks a registration request through advisor review.
type RequestStatus string

// Possible request statuses.
const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
)

// RegistrationRequest is a student's ask for advisor approval, optionally
// tied to a plan.
type RegistrationRequest struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	AdvisorID       *string       `db:"advisor_id" json:"advisor_id,omitempty"`
	PlanID          *string       `db:"plan_id" json:"plan_id,omitempty"`
	Status          RequestStatus `db:"status" json:"status"`
	Notes           string        `db:"notes" json:"notes"`
	AdvisorComments string        `db:"advisor_comments" json:"advisor_comments"`
	SubmittedAt     time.Time     `db:"submitted_at" json:"submitted_at"`
	ReviewedAt      *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// RequestFilter provides filters for listing registration requests.
type RequestFilter struct {
	StudentID string
	AdvisorID string
	Status    RequestStatus
	Page      int
	PageSize  int
}
