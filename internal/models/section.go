package models

import "time"

// Section is a scheduled offering of a course within a term.
// StartMinutes/EndMinutes are minutes since midnight; MeetingDays is a
// letter-per-day string (M, T, W, R, F, S, U).
type Section struct {
	ID                string    `db:"id" json:"id"`
	CourseID          string    `db:"course_id" json:"course_id"`
	SectionNumber     string    `db:"section_number" json:"section_number"`
	Term              string    `db:"term" json:"term"`
	Year              int       `db:"year" json:"year"`
	InstructorID      *string   `db:"instructor_id" json:"instructor_id,omitempty"`
	Location          string    `db:"location" json:"location"`
	MeetingDays       string    `db:"meeting_days" json:"meeting_days"`
	StartMinutes      int       `db:"start_minutes" json:"start_minutes"`
	EndMinutes        int       `db:"end_minutes" json:"end_minutes"`
	MaxEnrollment     int       `db:"max_enrollment" json:"max_enrollment"`
	CurrentEnrollment int       `db:"current_enrollment" json:"current_enrollment"`
	IsAvailable       bool      `db:"is_available" json:"is_available"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// IsFull reports whether the section has no seats left.
func (s *Section) IsFull() bool {
	return s.CurrentEnrollment >= s.MaxEnrollment
}

// AvailableSeats never reports a negative seat count.
func (s *Section) AvailableSeats() int {
	if seats := s.MaxEnrollment - s.CurrentEnrollment; seats > 0 {
		return seats
	}
	return 0
}

// SectionDetail enriches a section with course and instructor info.
type SectionDetail struct {
	Section
	CourseCode       string  `db:"course_code" json:"course_code"`
	CourseTitle      string  `db:"course_title" json:"course_title"`
	Credits          int     `db:"credits" json:"credits"`
	InstructorHandle *string `db:"instructor_handle" json:"instructor_handle,omitempty"`
}

// SectionFilter provides filters for section listings.
type SectionFilter struct {
	CourseID      string
	Term          string
	Year          int
	Department    string
	AvailableOnly bool
	Page          int
	PageSize      int
}

// SectionFieldChange records one watched field transition on a section
// update, with both values normalized to display strings.
type SectionFieldChange struct {
	Field string  `json:"field"`
	Old   *string `json:"old"`
	New   *string `json:"new"`
}
