package engine

import (
	"context"
	"sort"

	"bidline/internal/domain"
	"bidline/internal/followup"
	"bidline/internal/lifecycle"
	"bidline/internal/repo"
)

// DashboardFilter selects projects by derived state. Empty fields match all.
type DashboardFilter struct {
	General lifecycle.GeneralState
	Apm     lifecycle.ApmState
}

// FollowUpRow is one open assignment with its next deadline.
type FollowUpRow struct {
	AssignmentID int64          `json:"assignment_id"`
	ProjectID    int64          `json:"project_id"`
	ProjectName  string         `json:"project_name"`
	VendorName   string         `json:"vendor_name"`
	NextFollowUp *followup.Date `json:"next_follow_up,omitempty"`
	Level        followup.Level `json:"level,omitempty"`
	PhaseNames   []string       `json:"phase_names"`
}

type Dashboard struct {
	Today   followup.Date          `json:"today"`
	Counts  followup.UrgencyCounts `json:"counts"`
	Soonest followup.Deadline      `json:"soonest"`
	Rows    []FollowUpRow          `json:"rows"`
}

// FollowUpDashboard aggregates every open assignment of the selected projects.
func (e Engine) FollowUpDashboard(ctx context.Context, today followup.Date, f DashboardFilter) (Dashboard, error) {
	views, err := e.ListProjects(ctx, f.General, f.Apm)
	if err != nil {
		return Dashboard{}, err
	}
	if len(views) == 0 {
		return e.buildDashboard(today, nil, nil), nil
	}
	ids := make([]int64, len(views))
	names := make(map[int64]string, len(views))
	for i, v := range views {
		ids[i] = v.Project.ID
		names[v.Project.ID] = v.Project.Name
	}
	assignments, err := e.Store.ListAssignments(ctx, repo.AssignmentFilter{ProjectIDs: ids})
	if err != nil {
		return Dashboard{}, err
	}
	return e.buildDashboard(today, assignments, names), nil
}

// ProjectFollowUps returns the follow-up rows of one project.
func (e Engine) ProjectFollowUps(ctx context.Context, projectID int64, today followup.Date) (Dashboard, error) {
	p, err := e.Store.GetProject(ctx, projectID)
	if err != nil {
		return Dashboard{}, err
	}
	assignments, err := e.Store.ListAssignments(ctx, repo.AssignmentFilter{ProjectIDs: []int64{projectID}})
	if err != nil {
		return Dashboard{}, err
	}
	return e.buildDashboard(today, assignments, map[int64]string{p.ID: p.Name}), nil
}

func (e Engine) buildDashboard(today followup.Date, assignments []domain.VendorAssignment, names map[int64]string) Dashboard {
	c := e.classifier()
	d := Dashboard{
		Today:   today,
		Counts:  followup.CountUrgency(today, assignments, c),
		Soonest: followup.SoonestAcrossAssignments(assignments),
		Rows:    make([]FollowUpRow, 0, len(assignments)),
	}
	for _, a := range assignments {
		if a.IsClosed() {
			continue
		}
		date, phases := followup.NextDeadline(a)
		row := FollowUpRow{
			AssignmentID: a.ID,
			ProjectID:    a.ProjectID,
			ProjectName:  names[a.ProjectID],
			VendorName:   a.VendorName,
			NextFollowUp: date,
			PhaseNames:   make([]string, 0, len(phases)),
		}
		if date != nil {
			row.Level = c.Classify(today, date)
		}
		for _, p := range phases {
			row.PhaseNames = append(row.PhaseNames, p.PhaseName)
		}
		d.Rows = append(d.Rows, row)
	}
	sort.SliceStable(d.Rows, func(i, j int) bool {
		a, b := d.Rows[i].NextFollowUp, d.Rows[j].NextFollowUp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return d
}
