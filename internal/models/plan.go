package models

import "time"

// PlanStatus tracks a plan through advisor review.
type PlanStatus string

// Possible plan statuses.
const (
	PlanStatusDraft     PlanStatus = "DRAFT"
	PlanStatusSubmitted PlanStatus = "SUBMITTED"
	PlanStatusApproved  PlanStatus = "APPROVED"
	PlanStatusRejected  PlanStatus = "REJECTED"
)

// StudentPlan is a candidate schedule a student assembles before
// registering. Its conflict set is derived and recomputed on every
// membership change, never patched in place.
type StudentPlan struct {
	ID              string     `db:"id" json:"id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	AdvisorID       *string    `db:"advisor_id" json:"advisor_id,omitempty"`
	Term            string     `db:"term" json:"term"`
	Year            int        `db:"year" json:"year"`
	Status          PlanStatus `db:"status" json:"status"`
	Name            string     `db:"name" json:"name"`
	Notes           string     `db:"notes" json:"notes"`
	AdvisorComments string     `db:"advisor_comments" json:"advisor_comments"`
	SubmittedAt     *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// PlannedCourse is one section placement inside a plan.
type PlannedCourse struct {
	ID        string    `db:"id" json:"id"`
	PlanID    string    `db:"plan_id" json:"plan_id"`
	SectionID string    `db:"section_id" json:"section_id"`
	Priority  int       `db:"priority" json:"priority"`
	Notes     string    `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PlannedCourseDetail carries the section schedule data conflict detection
// operates on.
type PlannedCourseDetail struct {
	PlannedCourse
	CourseCode   string `db:"course_code" json:"course_code"`
	CourseTitle  string `db:"course_title" json:"course_title"`
	Credits      int    `db:"credits" json:"credits"`
	MeetingDays  string `db:"meeting_days" json:"meeting_days"`
	StartMinutes int    `db:"start_minutes" json:"start_minutes"`
	EndMinutes   int    `db:"end_minutes" json:"end_minutes"`
	Location     string `db:"location" json:"location"`
}

// ScheduleConflict is a derived record referencing two planned courses in
// the same plan.
type ScheduleConflict struct {
	ID             string    `db:"id" json:"id"`
	PlanID         string    `db:"plan_id" json:"plan_id"`
	PlannedCourse1 string    `db:"planned_course_1" json:"planned_course_1"`
	PlannedCourse2 string    `db:"planned_course_2" json:"planned_course_2"`
	ConflictType   string    `db:"conflict_type" json:"conflict_type"`
	Description    string    `db:"description" json:"description"`
	IsResolved     bool      `db:"is_resolved" json:"is_resolved"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PrerequisiteCheck reports prerequisite satisfaction for one course.
type PrerequisiteCheck struct {
	Met     bool        `json:"met"`
	Missing []CourseRef `json:"missing"`
}
