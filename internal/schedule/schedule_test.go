package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeetingDays(t *testing.T) {
	assert.Equal(t, []string{"MON", "WED", "FRI"}, ParseMeetingDays("MWF"))
	assert.Equal(t, []string{"TUE", "THU"}, ParseMeetingDays("TR"))
	assert.Equal(t, []string{"SAT", "SUN"}, ParseMeetingDays("SU"))
	assert.Equal(t, []string{"MON", "WED"}, ParseMeetingDays("mXwZ"))
	assert.Empty(t, ParseMeetingDays(""))
}

func TestOverlapHalfOpen(t *testing.T) {
	// 09:00-10:00 vs 09:30-10:30
	assert.True(t, Overlap(540, 600, 570, 630))
	// touching endpoints never overlap
	assert.False(t, Overlap(540, 600, 600, 660))
	assert.False(t, Overlap(600, 660, 540, 600))
	// containment
	assert.True(t, Overlap(540, 660, 570, 600))
	// disjoint
	assert.False(t, Overlap(540, 600, 720, 780))
}

func TestOverlapSymmetric(t *testing.T) {
	cases := [][4]int{
		{540, 600, 570, 630},
		{540, 600, 600, 660},
		{480, 1320, 0, 481},
		{0, 1, 1, 2},
	}
	for _, c := range cases {
		assert.Equal(t,
			Overlap(c[0], c[1], c[2], c[3]),
			Overlap(c[2], c[3], c[0], c[1]),
		)
	}
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "09:00 AM", FormatMinutes(540))
	assert.Equal(t, "12:00 PM", FormatMinutes(720))
	assert.Equal(t, "12:00 AM", FormatMinutes(0))
	assert.Equal(t, "01:30 PM", FormatMinutes(810))
	assert.Equal(t, "11:59 PM", FormatMinutes(1439))
}

func TestPlacementsConflictSharedDay(t *testing.T) {
	a := Placement{ID: "1", CourseCode: "CS101", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600}
	b := Placement{ID: "2", CourseCode: "CS102", MeetingDays: "WF", StartMinutes: 570, EndMinutes: 630}

	ok, description := PlacementsConflict(a, b)
	require.True(t, ok)
	assert.Equal(t, "Time conflict on WED, FRI: CS101 meets 09:00 AM-10:00 AM, CS102 meets 09:30 AM-10:30 AM", description)
}

func TestPlacementsConflictNoSharedDay(t *testing.T) {
	a := Placement{CourseCode: "CS101", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600}
	b := Placement{CourseCode: "CS102", MeetingDays: "TR", StartMinutes: 540, EndMinutes: 600}

	ok, _ := PlacementsConflict(a, b)
	assert.False(t, ok, "identical times on disjoint days must not conflict")
}

func TestPlacementsConflictTouchingWindows(t *testing.T) {
	a := Placement{CourseCode: "CS101", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600}
	b := Placement{CourseCode: "CS102", MeetingDays: "MWF", StartMinutes: 600, EndMinutes: 660}

	ok, _ := PlacementsConflict(a, b)
	assert.False(t, ok)
}

func TestDetectConflictsSinglePair(t *testing.T) {
	placements := []Placement{
		{ID: "a", CourseCode: "CS101", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600},
		{ID: "b", CourseCode: "CS102", MeetingDays: "MW", StartMinutes: 570, EndMinutes: 630},
		{ID: "c", CourseCode: "CS103", MeetingDays: "TR", StartMinutes: 540, EndMinutes: 600},
	}

	conflicts := DetectConflicts(placements)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "a", conflicts[0].First.ID)
	assert.Equal(t, "b", conflicts[0].Second.ID)
	assert.Equal(t, ConflictTypeTimeOverlap, conflicts[0].Type)
}

func TestDetectConflictsEmitsOnePerUnorderedPair(t *testing.T) {
	placements := []Placement{
		{ID: "a", CourseCode: "CS101", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600},
		{ID: "b", CourseCode: "CS102", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600},
		{ID: "c", CourseCode: "CS103", MeetingDays: "MWF", StartMinutes: 540, EndMinutes: 600},
	}

	conflicts := DetectConflicts(placements)
	require.Len(t, conflicts, 3)
	seen := map[string]bool{}
	for _, c := range conflicts {
		key := c.First.ID + "/" + c.Second.ID
		assert.False(t, seen[key])
		seen[key] = true
		assert.Less(t, c.First.ID, c.Second.ID, "pairs follow stable input order")
	}
}

func TestDetectConflictsEmptyAndSingle(t *testing.T) {
	assert.Empty(t, DetectConflicts(nil))
	assert.Empty(t, DetectConflicts([]Placement{{ID: "only"}}))
}

func TestBuildGridSortsByStartTime(t *testing.T) {
	grid := BuildGrid([]GridSource{
		{MeetingDays: "MW", Entry: GridEntry{CourseCode: "CS102", StartMinutes: 660, EndMinutes: 720}},
		{MeetingDays: "M", Entry: GridEntry{CourseCode: "CS101", StartMinutes: 540, EndMinutes: 600}},
	})

	require.Len(t, grid.Schedule["MON"], 2)
	assert.Equal(t, "CS101", grid.Schedule["MON"][0].CourseCode)
	assert.Equal(t, "CS102", grid.Schedule["MON"][1].CourseCode)
	assert.Equal(t, "09:00 AM", grid.Schedule["MON"][0].StartLabel)
	require.Len(t, grid.Schedule["WED"], 1)
	assert.Empty(t, grid.Schedule["TUE"])
}
