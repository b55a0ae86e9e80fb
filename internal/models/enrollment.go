package models

import (
	"encoding/json"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// Active reports whether the status occupies the (student, section) slot.
func (s EnrollmentStatus) Active() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusWaitlisted
}

// Enrollment ties a student to a course section. At most one row exists per
// (student, section); re-enrolling after a drop reactivates the row.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	SectionID  string           `db:"section_id" json:"section_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	Grade      string           `db:"grade" json:"grade,omitempty"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt  *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches an enrollment with section and course info.
type EnrollmentDetail struct {
	Enrollment
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseTitle   string `db:"course_title" json:"course_title"`
	SectionNumber string `db:"section_number" json:"section_number"`
	Term          string `db:"term" json:"term"`
	Year          int    `db:"year" json:"year"`
	Credits       int    `db:"credits" json:"credits"`
	MeetingDays   string `db:"meeting_days" json:"meeting_days"`
	StartMinutes  int    `db:"start_minutes" json:"start_minutes"`
	EndMinutes    int    `db:"end_minutes" json:"end_minutes"`
	Location      string `db:"location" json:"location"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SectionID string
	Status    EnrollmentStatus
	Term      string
	Year      int
	Page      int
	PageSize  int
}

// LogAction enumerates auditable registration actions.
type LogAction string

// Audit log actions.
const (
	LogActionRegister LogAction = "REGISTER"
	LogActionWaitlist LogAction = "WAITLIST"
	LogActionDrop     LogAction = "DROP"
	LogActionApprove  LogAction = "APPROVE"
	LogActionReject   LogAction = "REJECT"
)

// RegistrationLog is an append-only audit record of a state transition.
type RegistrationLog struct {
	ID           string          `db:"id" json:"id"`
	UserID       *string         `db:"user_id" json:"user_id,omitempty"`
	EnrollmentID *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	RequestID    *string         `db:"request_id" json:"request_id,omitempty"`
	Action       LogAction       `db:"action" json:"action"`
	Details      json.RawMessage `db:"details" json:"details"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
