package models

import "time"

// Course is a catalog entry. Identity is the course code.
type Course struct {
	ID          string    `db:"id" json:"id"`
	CourseCode  string    `db:"course_code" json:"course_code"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Credits     int       `db:"credits" json:"credits"`
	Department  string    `db:"department" json:"department"`
	Level       int       `db:"level" json:"level"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseRef is a lightweight course reference used in prerequisite listings.
type CourseRef struct {
	ID         string `db:"id" json:"id"`
	CourseCode string `db:"course_code" json:"course_code"`
	Title      string `db:"title" json:"title"`
}

// CourseDetail enriches a course with its prerequisite references in
// declaration order.
type CourseDetail struct {
	Course
	Prerequisites []CourseRef `json:"prerequisites"`
}

// CourseFilter provides filters for catalog listings.
type CourseFilter struct {
	Department string
	Level      int
	Search     string
	Page       int
	PageSize   int
}
