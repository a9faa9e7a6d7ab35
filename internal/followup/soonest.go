package followup

import (
	"sort"

	"bidline/internal/domain"
)

// OpenPhases is the soonest unresolved deadline of one assignment.
type OpenPhases struct {
	SoonestDate *Date          `json:"soonest_date"`
	Phases      []domain.Phase `json:"phases"`
}

// SoonestOpenPhase finds the earliest follow-up date among the assignment's
// open phases and every phase that shares it, in their original order.
// Resolved phases and phases whose follow-up date cannot be parsed are skipped.
// The caller is expected to have dropped closed assignments already.
func SoonestOpenPhase(a domain.VendorAssignment) OpenPhases {
	var (
		soonest *Date
		dates   = make([]*Date, len(a.Phases))
	)
	for i, p := range a.Phases {
		if !p.IsOpen() {
			continue
		}
		d := ParseDatePtr(p.FollowUpDate)
		if d == nil {
			continue
		}
		dates[i] = d
		if soonest == nil || d.Before(*soonest) {
			soonest = d
		}
	}
	if soonest == nil {
		return OpenPhases{Phases: []domain.Phase{}}
	}
	out := OpenPhases{SoonestDate: soonest, Phases: []domain.Phase{}}
	for i, d := range dates {
		if d != nil && d.Equal(*soonest) {
			out.Phases = append(out.Phases, a.Phases[i])
		}
	}
	return out
}

// LegacyFollowUpDate returns the assignment-level follow-up date kept for
// assignments that predate per-phase tracking.
func LegacyFollowUpDate(a domain.VendorAssignment) *Date {
	return ParseDatePtr(a.FollowUpDate)
}

// NextDeadline is the date callers badge an assignment with: its soonest open
// phase, or the legacy field when the assignment has no phases at all. Closed
// assignments have no deadline.
func NextDeadline(a domain.VendorAssignment) (*Date, []domain.Phase) {
	if a.IsClosed() {
		return nil, nil
	}
	if len(a.Phases) == 0 {
		return LegacyFollowUpDate(a), nil
	}
	open := SoonestOpenPhase(a)
	return open.SoonestDate, open.Phases
}

// Deadline is the most pressing follow-up across many assignments.
type Deadline struct {
	Date            *Date    `json:"date"`
	PhaseNames      []string `json:"phase_names"`
	AssignmentCount int      `json:"assignment_count"`
}

// SoonestAcrossAssignments returns the global earliest deadline, the union of
// phase names due on it, and how many assignments share it. Closed assignments
// never contribute.
func SoonestAcrossAssignments(assignments []domain.VendorAssignment) Deadline {
	type candidate struct {
		date   *Date
		phases []domain.Phase
	}
	var (
		global     *Date
		candidates = make([]candidate, 0, len(assignments))
	)
	for _, a := range assignments {
		d, phases := NextDeadline(a)
		if d == nil {
			continue
		}
		candidates = append(candidates, candidate{date: d, phases: phases})
		if global == nil || d.Before(*global) {
			global = d
		}
	}
	if global == nil {
		return Deadline{PhaseNames: []string{}}
	}
	names := map[string]struct{}{}
	out := Deadline{Date: global}
	for _, c := range candidates {
		if !c.date.Equal(*global) {
			continue
		}
		out.AssignmentCount++
		for _, p := range c.phases {
			names[p.PhaseName] = struct{}{}
		}
	}
	out.PhaseNames = make([]string, 0, len(names))
	for n := range names {
		out.PhaseNames = append(out.PhaseNames, n)
	}
	sort.Strings(out.PhaseNames)
	return out
}

// UrgencyCounts tallies assignments by the level of their single next deadline.
type UrgencyCounts struct {
	Overdue  int `json:"overdue"`
	DueToday int `json:"due_today"`
	Critical int `json:"critical"`
	Normal   int `json:"normal"`
	Total    int `json:"total"`
}

func (u *UrgencyCounts) add(l Level) {
	switch l {
	case Overdue:
		u.Overdue++
	case DueToday:
		u.DueToday++
	case Critical:
		u.Critical++
	default:
		u.Normal++
	}
	u.Total++
}

// Get returns the count for one level.
func (u UrgencyCounts) Get(l Level) int {
	switch l {
	case Overdue:
		return u.Overdue
	case DueToday:
		return u.DueToday
	case Critical:
		return u.Critical
	default:
		return u.Normal
	}
}

// CountUrgency classifies every open assignment once. Assignments without any
// deadline are not counted.
func CountUrgency(today Date, assignments []domain.VendorAssignment, c Classifier) UrgencyCounts {
	var counts UrgencyCounts
	for _, a := range assignments {
		d, _ := NextDeadline(a)
		if d == nil {
			continue
		}
		counts.add(c.Classify(today, d))
	}
	return counts
}
