// Package schedule implements meeting-pattern parsing and time-conflict
// detection for course sections. All functions are pure.
package schedule

import (
	"fmt"
	"sort"
	"strings"
)

// Day codes in week order. Meeting-day strings use one letter per day:
// M, T, W, R (Thursday), F, S (Saturday), U (Sunday).
var weekOrder = []string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

var dayLetters = map[rune]string{
	'M': "MON",
	'T': "TUE",
	'W': "WED",
	'R': "THU",
	'F': "FRI",
	'S': "SAT",
	'U': "SUN",
}

// ParseMeetingDays expands a meeting-days string like "MWF" or "TR" into day
// codes. Unrecognized letters are dropped.
func ParseMeetingDays(meetingDays string) []string {
	var days []string
	for _, ch := range strings.ToUpper(meetingDays) {
		if day, ok := dayLetters[ch]; ok {
			days = append(days, day)
		}
	}
	return days
}

// Overlap reports whether two time windows, expressed as minutes since
// midnight, intersect. Intervals are half-open: touching endpoints do not
// overlap.
func Overlap(start1, end1, start2, end2 int) bool {
	return start1 < end2 && start2 < end1
}

// FormatMinutes renders minutes-since-midnight as a 12-hour clock string.
func FormatMinutes(minutes int) string {
	hour := minutes / 60
	minute := minutes % 60
	suffix := "AM"
	switch {
	case hour == 0:
		hour = 12
	case hour == 12:
		suffix = "PM"
	case hour > 12:
		hour -= 12
		suffix = "PM"
	}
	return fmt.Sprintf("%02d:%02d %s", hour, minute, suffix)
}

// Placement is a candidate occupancy of a section, carrying only the data
// conflict detection needs.
type Placement struct {
	ID           string
	CourseCode   string
	MeetingDays  string
	StartMinutes int
	EndMinutes   int
}

// Conflict is a detected pairwise time overlap between two placements.
type Conflict struct {
	First       Placement
	Second      Placement
	Type        string
	Description string
}

// ConflictTypeTimeOverlap is the only conflict type currently produced.
// PREREQUISITE_MISSING is reserved in the schema but prerequisite failures
// are reported directly, not stored as conflict rows.
const ConflictTypeTimeOverlap = "TIME_OVERLAP"

// PlacementsConflict reports whether two placements meet on a shared weekday
// with overlapping time windows, and renders a description when they do.
func PlacementsConflict(a, b Placement) (bool, string) {
	daysA := ParseMeetingDays(a.MeetingDays)
	daysB := ParseMeetingDays(b.MeetingDays)

	inB := make(map[string]struct{}, len(daysB))
	for _, d := range daysB {
		inB[d] = struct{}{}
	}
	shared := make(map[string]struct{})
	for _, d := range daysA {
		if _, ok := inB[d]; ok {
			shared[d] = struct{}{}
		}
	}
	if len(shared) == 0 {
		return false, ""
	}

	if !Overlap(a.StartMinutes, a.EndMinutes, b.StartMinutes, b.EndMinutes) {
		return false, ""
	}

	common := make([]string, 0, len(shared))
	for _, d := range weekOrder {
		if _, ok := shared[d]; ok {
			common = append(common, d)
		}
	}

	description := fmt.Sprintf("Time conflict on %s: %s meets %s-%s, %s meets %s-%s",
		strings.Join(common, ", "),
		a.CourseCode, FormatMinutes(a.StartMinutes), FormatMinutes(a.EndMinutes),
		b.CourseCode, FormatMinutes(b.StartMinutes), FormatMinutes(b.EndMinutes),
	)
	return true, description
}

// DetectConflicts checks every unordered pair of placements in input order
// and returns one conflict record per overlapping pair.
func DetectConflicts(placements []Placement) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(placements); i++ {
		for j := i + 1; j < len(placements); j++ {
			if ok, description := PlacementsConflict(placements[i], placements[j]); ok {
				conflicts = append(conflicts, Conflict{
					First:       placements[i],
					Second:      placements[j],
					Type:        ConflictTypeTimeOverlap,
					Description: description,
				})
			}
		}
	}
	return conflicts
}

// GridEntry is a single meeting block on the weekly grid.
type GridEntry struct {
	CourseCode   string `json:"course_code"`
	CourseTitle  string `json:"course_title"`
	Section      string `json:"section"`
	StartMinutes int    `json:"start_minutes"`
	EndMinutes   int    `json:"end_minutes"`
	StartLabel   string `json:"start_label"`
	EndLabel     string `json:"end_label"`
	Location     string `json:"location"`
	Instructor   string `json:"instructor"`
	Credits      int    `json:"credits"`
}

// Grid holds a student's weekly schedule keyed by day code, each day sorted
// by start time.
type Grid struct {
	Days     []string               `json:"days"`
	Schedule map[string][]GridEntry `json:"schedule"`
}

// GridSource supplies the fields needed to place an entry on the grid.
type GridSource struct {
	MeetingDays string
	Entry       GridEntry
}

// BuildGrid lays out meeting blocks on a weekly grid for visualization.
func BuildGrid(sources []GridSource) Grid {
	grid := Grid{Days: weekOrder, Schedule: make(map[string][]GridEntry, len(weekOrder))}
	for _, day := range weekOrder {
		grid.Schedule[day] = []GridEntry{}
	}
	for _, src := range sources {
		entry := src.Entry
		entry.StartLabel = FormatMinutes(entry.StartMinutes)
		entry.EndLabel = FormatMinutes(entry.EndMinutes)
		for _, day := range ParseMeetingDays(src.MeetingDays) {
			grid.Schedule[day] = append(grid.Schedule[day], entry)
		}
	}
	for _, day := range weekOrder {
		entries := grid.Schedule[day]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].StartMinutes < entries[j].StartMinutes
		})
	}
	return grid
}
