package followup

import "time"

// Level is the urgency of a follow-up date relative to today.
type Level string

const (
	Overdue  Level = "overdue"
	DueToday Level = "due_today"
	Critical Level = "critical"
	Normal   Level = "normal"
)

// Levels lists every level from most to least urgent.
var Levels = []Level{Overdue, DueToday, Critical, Normal}

const DefaultCriticalDays = 3

// Classifier holds the "due soon" window.
type Classifier struct {
	// CriticalDays is the width of the due-soon window. Zero disables it.
	CriticalDays int
	// BusinessDays counts only Monday through Friday toward the window.
	BusinessDays bool
}

// DefaultClassifier is a 3 business-day window.
var DefaultClassifier = Classifier{CriticalDays: DefaultCriticalDays, BusinessDays: true}

// Classify uses DefaultClassifier.
func Classify(today Date, followUp *Date) Level {
	return DefaultClassifier.Classify(today, followUp)
}

// Classify derives the urgency of followUp as seen on today. A nil followUp is
// Normal.
func (c Classifier) Classify(today Date, followUp *Date) Level {
	if followUp == nil {
		return Normal
	}
	delta := today.DaysUntil(*followUp)
	switch {
	case delta < 0:
		return Overdue
	case delta == 0:
		return DueToday
	case c.withinWindow(today, *followUp, delta):
		return Critical
	default:
		return Normal
	}
}

// ClassifyString parses a raw collaborator date first; unparsable input is Normal.
func (c Classifier) ClassifyString(today Date, raw string) Level {
	d, ok := ParseDate(raw)
	if !ok {
		return Normal
	}
	return c.Classify(today, &d)
}

func (c Classifier) withinWindow(today, followUp Date, delta int) bool {
	if c.CriticalDays <= 0 {
		return false
	}
	if !c.BusinessDays {
		return delta <= c.CriticalDays
	}
	// A weekend deadline before the next weekday counts zero business days.
	return BusinessDaysBetween(today, followUp) <= c.CriticalDays
}

// BusinessDaysBetween counts weekdays in (from, to]. It returns 0 when to is
// not after from.
func BusinessDaysBetween(from, to Date) int {
	days := from.DaysUntil(to)
	if days <= 0 {
		return 0
	}
	weeks := days / 7
	count := weeks * 5
	cur := from.AddDays(weeks * 7)
	for i := 0; i < days%7; i++ {
		cur = cur.AddDays(1)
		if isWeekday(cur.Weekday()) {
			count++
		}
	}
	return count
}

func isWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}
