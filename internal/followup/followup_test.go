package followup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidline/internal/domain"
)

func strp(s string) *string { return &s }

func datep(s string) *Date {
	d := MustParseDate(s)
	return &d
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Date
		ok    bool
	}{
		{name: "date only", input: "2024-06-12", want: Date{2024, time.June, 12}, ok: true},
		{name: "date time", input: "2024-06-12T23:30:00", want: Date{2024, time.June, 12}, ok: true},
		{name: "date time with zone", input: "2024-06-12T23:30:00-07:00", want: Date{2024, time.June, 12}, ok: true},
		{name: "date time utc near midnight", input: "2024-06-12T00:00:00Z", want: Date{2024, time.June, 12}, ok: true},
		{name: "space separated", input: "2024-06-12 08:00:00", want: Date{2024, time.June, 12}, ok: true},
		{name: "surrounding whitespace", input: "  2024-06-12 ", want: Date{2024, time.June, 12}, ok: true},
		{name: "leap day", input: "2024-02-29", want: Date{2024, time.February, 29}, ok: true},
		{name: "impossible day", input: "2023-02-29"},
		{name: "month out of range", input: "2024-13-01"},
		{name: "slashes", input: "2024/06/12"},
		{name: "trailing garbage", input: "2024-06-12x"},
		{name: "empty", input: ""},
		{name: "words", input: "next week"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDateArithmetic(t *testing.T) {
	d := MustParseDate("2024-03-09")
	assert.Equal(t, "2024-03-11", d.AddDays(2).String())
	// crosses the US DST switch on 2024-03-10
	assert.Equal(t, 2, d.DaysUntil(MustParseDate("2024-03-11")))
	assert.Equal(t, -9, d.DaysUntil(MustParseDate("2024-02-29")))
	assert.True(t, d.Before(MustParseDate("2024-03-10")))
	assert.Equal(t, 0, d.Compare(MustParseDate("2024-03-09T18:00:00")))
	assert.Equal(t, time.Saturday, d.Weekday())
}

func TestClassifyScenarios(t *testing.T) {
	today := MustParseDate("2024-06-10")
	assert.Equal(t, Overdue, Classify(today, datep("2024-06-09")))
	assert.Equal(t, DueToday, Classify(today, datep("2024-06-10")))
	assert.Equal(t, Critical, Classify(today, datep("2024-06-12")))
	assert.Equal(t, Normal, Classify(today, nil))
}

func TestClassifyBusinessDayWindow(t *testing.T) {
	// 2024-06-14 is a Friday.
	friday := MustParseDate("2024-06-14")
	tests := []struct {
		followUp string
		want     Level
	}{
		{"2024-06-15", Critical}, // Saturday: zero business days away
		{"2024-06-16", Critical}, // Sunday
		{"2024-06-17", Critical}, // Monday, 1
		{"2024-06-19", Critical}, // Wednesday, 3
		{"2024-06-20", Normal},   // Thursday, 4
		{"2024-05-01", Overdue},
	}
	for _, tt := range tests {
		t.Run(tt.followUp, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier.Classify(friday, datep(tt.followUp)))
		})
	}
}

func TestClassifyCalendarDayWindow(t *testing.T) {
	c := Classifier{CriticalDays: 3}
	friday := MustParseDate("2024-06-14")
	assert.Equal(t, Critical, c.Classify(friday, datep("2024-06-17")))
	assert.Equal(t, Normal, c.Classify(friday, datep("2024-06-18")))

	disabled := Classifier{}
	assert.Equal(t, Normal, disabled.Classify(friday, datep("2024-06-15")))
	assert.Equal(t, DueToday, disabled.Classify(friday, datep("2024-06-14")))
}

func TestClassifyIsPure(t *testing.T) {
	today := MustParseDate("2024-06-10")
	for _, raw := range []string{"2024-01-01", "2024-06-10", "2024-06-11", "2025-01-01"} {
		first := DefaultClassifier.ClassifyString(today, raw)
		for i := 0; i < 5; i++ {
			require.Equal(t, first, DefaultClassifier.ClassifyString(today, raw))
		}
	}
	assert.Equal(t, Normal, DefaultClassifier.ClassifyString(today, "not a date"))
}

func TestClassifyOverdueForAnyEarlierDate(t *testing.T) {
	today := MustParseDate("2024-06-10")
	for d := today.AddDays(-400); d.Before(today); d = d.AddDays(1) {
		require.Equal(t, Overdue, Classify(today, &d), d.String())
	}
}

func TestBusinessDaysBetween(t *testing.T) {
	monday := MustParseDate("2024-06-10")
	assert.Equal(t, 0, BusinessDaysBetween(monday, monday))
	assert.Equal(t, 4, BusinessDaysBetween(monday, MustParseDate("2024-06-14")))
	assert.Equal(t, 5, BusinessDaysBetween(monday, MustParseDate("2024-06-17")))
	assert.Equal(t, 10, BusinessDaysBetween(monday, MustParseDate("2024-06-24")))
	assert.Equal(t, 0, BusinessDaysBetween(monday, MustParseDate("2024-06-01")))
}

func TestSoonestOpenPhase(t *testing.T) {
	a := domain.VendorAssignment{
		ID: 1,
		Phases: []domain.Phase{
			{ID: 1, PhaseName: "Requested", FollowUpDate: strp("2024-06-15")},
			{ID: 2, PhaseName: "Closeout", FollowUpDate: strp("2024-06-12")},
		},
	}
	got := SoonestOpenPhase(a)
	require.NotNil(t, got.SoonestDate)
	assert.Equal(t, "2024-06-12", got.SoonestDate.String())
	require.Len(t, got.Phases, 1)
	assert.Equal(t, "Closeout", got.Phases[0].PhaseName)
}

func TestSoonestOpenPhaseSkipsResolved(t *testing.T) {
	a := domain.VendorAssignment{
		Phases: []domain.Phase{
			{ID: 1, PhaseName: "Submittals", FollowUpDate: strp("2024-06-01"), ReceivedDate: strp("2024-06-02")},
			{ID: 2, PhaseName: "Warranty", FollowUpDate: strp("2024-06-03"), Status: domain.PhaseCompleted},
			{ID: 3, PhaseName: "O&M", FollowUpDate: strp("2024-06-20T10:00:00")},
			{ID: 4, PhaseName: "As-builts"},
			{ID: 5, PhaseName: "Bogus", FollowUpDate: strp("soon")},
		},
	}
	got := SoonestOpenPhase(a)
	require.NotNil(t, got.SoonestDate)
	assert.Equal(t, "2024-06-20", got.SoonestDate.String())
	require.Len(t, got.Phases, 1)
	assert.Equal(t, int64(3), got.Phases[0].ID)
}

func TestSoonestOpenPhaseKeepsTies(t *testing.T) {
	a := domain.VendorAssignment{
		Phases: []domain.Phase{
			{ID: 1, PhaseName: "Requested", FollowUpDate: strp("2024-06-12T09:00:00")},
			{ID: 2, PhaseName: "Later", FollowUpDate: strp("2024-06-30")},
			{ID: 3, PhaseName: "Closeout", FollowUpDate: strp("2024-06-12")},
		},
	}
	got := SoonestOpenPhase(a)
	require.Len(t, got.Phases, 2)
	assert.Equal(t, "Requested", got.Phases[0].PhaseName)
	assert.Equal(t, "Closeout", got.Phases[1].PhaseName)
}

func TestSoonestOpenPhaseNone(t *testing.T) {
	got := SoonestOpenPhase(domain.VendorAssignment{})
	assert.Nil(t, got.SoonestDate)
	assert.Empty(t, got.Phases)
}

func TestNextDeadlineLegacyFallback(t *testing.T) {
	legacy := domain.VendorAssignment{FollowUpDate: strp("2024-06-11")}
	d, phases := NextDeadline(legacy)
	require.NotNil(t, d)
	assert.Equal(t, "2024-06-11", d.String())
	assert.Empty(t, phases)

	// phases present but all resolved: the legacy field is not consulted
	withPhases := domain.VendorAssignment{
		FollowUpDate: strp("2024-06-11"),
		Phases:       []domain.Phase{{PhaseName: "Done", Status: domain.PhaseReceived, FollowUpDate: strp("2024-06-01")}},
	}
	d, _ = NextDeadline(withPhases)
	assert.Nil(t, d)

	closed := domain.VendorAssignment{FollowUpDate: strp("2024-06-11"), CloseoutReceivedDate: strp("2024-06-01")}
	d, _ = NextDeadline(closed)
	assert.Nil(t, d)
}

func TestSoonestAcrossAssignments(t *testing.T) {
	assignments := []domain.VendorAssignment{
		{ID: 1, Phases: []domain.Phase{
			{PhaseName: "Requested", FollowUpDate: strp("2024-06-12")},
			{PhaseName: "Closeout", FollowUpDate: strp("2024-06-12")},
		}},
		{ID: 2, Phases: []domain.Phase{
			{PhaseName: "Submittals", FollowUpDate: strp("2024-06-12T15:00:00")},
			{PhaseName: "Closeout", FollowUpDate: strp("2024-06-20")},
		}},
		{ID: 3, Phases: []domain.Phase{{PhaseName: "Quote", FollowUpDate: strp("2024-06-13")}}},
		// closed with an earlier date: excluded
		{ID: 4, CloseoutReceivedDate: strp("2024-06-01"), Phases: []domain.Phase{{PhaseName: "Early", FollowUpDate: strp("2024-06-01")}}},
		// resolved earlier phase: excluded
		{ID: 5, Phases: []domain.Phase{{PhaseName: "Received", FollowUpDate: strp("2024-06-02"), ReceivedDate: strp("2024-06-03")}}},
	}
	got := SoonestAcrossAssignments(assignments)
	require.NotNil(t, got.Date)
	assert.Equal(t, "2024-06-12", got.Date.String())
	assert.Equal(t, 2, got.AssignmentCount)
	assert.Equal(t, []string{"Closeout", "Requested", "Submittals"}, got.PhaseNames)
}

func TestSoonestAcrossAssignmentsEmpty(t *testing.T) {
	got := SoonestAcrossAssignments([]domain.VendorAssignment{
		{CloseoutReceivedDate: strp("2024-06-01"), FollowUpDate: strp("2024-05-01")},
		{Phases: []domain.Phase{{PhaseName: "x"}}},
	})
	assert.Nil(t, got.Date)
	assert.Equal(t, 0, got.AssignmentCount)
	assert.Empty(t, got.PhaseNames)
}

func TestCountUrgencyOneBucketPerAssignment(t *testing.T) {
	today := MustParseDate("2024-06-10")
	assignments := []domain.VendorAssignment{
		// overdue and critical phases: counted once, as overdue
		{ID: 1, Phases: []domain.Phase{
			{PhaseName: "a", FollowUpDate: strp("2024-06-05")},
			{PhaseName: "b", FollowUpDate: strp("2024-06-11")},
		}},
		{ID: 2, Phases: []domain.Phase{{PhaseName: "c", FollowUpDate: strp("2024-06-10")}}},
		{ID: 3, FollowUpDate: strp("2024-06-12")},
		{ID: 4, Phases: []domain.Phase{{PhaseName: "d", FollowUpDate: strp("2024-07-10")}}},
		{ID: 5, CloseoutReceivedDate: strp("2024-06-01"), Phases: []domain.Phase{{PhaseName: "e", FollowUpDate: strp("2024-06-01")}}},
		{ID: 6},
	}
	got := CountUrgency(today, assignments, DefaultClassifier)
	assert.Equal(t, UrgencyCounts{Overdue: 1, DueToday: 1, Critical: 1, Normal: 1, Total: 4}, got)
	assert.Equal(t, 1, got.Get(Critical))
}

func TestDateTextRoundTrip(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2024-06-12T08:00:00")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-12", string(b))
	assert.Error(t, d.UnmarshalText([]byte("tomorrow")))
}
