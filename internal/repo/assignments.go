package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"bidline/internal/domain"
	"bidline/internal/events"
)

// AssignmentFilter narrows ListAssignments. Zero value lists everything.
type AssignmentFilter struct {
	ProjectIDs    []int64
	IncludeClosed bool
}

const assignmentSelect = `SELECT bv.id, bv.project_id, bv.vendor_id, COALESCE(v.company_name,'') AS vendor_name,
bv.closeout_received_date, bv.follow_up_date
FROM bid_vendors bv LEFT JOIN vendors v ON v.id = bv.vendor_id`

const phaseColumns = `id,assignment_id,phase_name,status,requested_date,follow_up_date,received_date,sort_order`

func (r Repo) InsertAssignment(ctx context.Context, a domain.VendorAssignment) (domain.VendorAssignment, error) {
	if a.ProjectID == 0 || a.VendorID == 0 {
		return a, fmt.Errorf("assignment requires project and vendor")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO bid_vendors(id,project_id,vendor_id,closeout_received_date,follow_up_date) VALUES (?,?,?,?,?)`,
		nullableID(a.ID), a.ProjectID, a.VendorID, nullableStringPtr(a.CloseoutReceivedDate), nullableStringPtr(a.FollowUpDate))
	if err != nil {
		return a, fmt.Errorf("insert assignment: %w", err)
	}
	if a.ID == 0 {
		if a.ID, err = res.LastInsertId(); err != nil {
			return a, err
		}
	}
	for i := range a.Phases {
		p := &a.Phases[i]
		p.AssignmentID = a.ID
		if p.Status == "" {
			p.Status = domain.PhasePending
		}
		if !domain.ValidPhaseStatuses[p.Status] {
			return a, fmt.Errorf("invalid phase status %q", p.Status)
		}
		if p.SortOrder == 0 {
			p.SortOrder = i + 1
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO bid_vendor_phases(`+phaseColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
			nullableID(p.ID), p.AssignmentID, p.PhaseName, string(p.Status),
			nullableStringPtr(p.RequestedDate), nullableStringPtr(p.FollowUpDate), nullableStringPtr(p.ReceivedDate), p.SortOrder)
		if err != nil {
			return a, fmt.Errorf("insert phase %q: %w", p.PhaseName, err)
		}
		if p.ID == 0 {
			if p.ID, err = res.LastInsertId(); err != nil {
				return a, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ListAssignments returns assignments with their phases in sort order.
func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilter) ([]domain.VendorAssignment, error) {
	x := r.x()
	var (
		clauses []string
		args    []any
	)
	if len(f.ProjectIDs) > 0 {
		clauses = append(clauses, "bv.project_id IN (?)")
		args = append(args, f.ProjectIDs)
	}
	if !f.IncludeClosed {
		clauses = append(clauses, "(bv.closeout_received_date IS NULL OR TRIM(bv.closeout_received_date) = '')")
	}
	query := assignmentSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY bv.project_id, bv.id"
	if len(f.ProjectIDs) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, err
		}
		query = x.Rebind(query)
	}
	out := []domain.VendorAssignment{}
	if err := x.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if err := r.attachPhases(ctx, x, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Repo) GetAssignment(ctx context.Context, id int64) (domain.VendorAssignment, error) {
	x := r.x()
	var a domain.VendorAssignment
	err := x.GetContext(ctx, &a, assignmentSelect+` WHERE bv.id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("assignment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return a, err
	}
	list := []domain.VendorAssignment{a}
	if err := r.attachPhases(ctx, x, list); err != nil {
		return a, err
	}
	return list[0], nil
}

func (r Repo) attachPhases(ctx context.Context, x *sqlx.DB, assignments []domain.VendorAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	ids := make([]int64, len(assignments))
	index := make(map[int64]int, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
		index[a.ID] = i
		assignments[i].Phases = []domain.Phase{}
	}
	query, args, err := sqlx.In(`SELECT `+phaseColumns+` FROM bid_vendor_phases WHERE assignment_id IN (?) ORDER BY assignment_id, sort_order, id`, ids)
	if err != nil {
		return err
	}
	var phases []domain.Phase
	if err := x.SelectContext(ctx, &phases, x.Rebind(query), args...); err != nil {
		return fmt.Errorf("list phases: %w", err)
	}
	for _, p := range phases {
		i := index[p.AssignmentID]
		assignments[i].Phases = append(assignments[i].Phases, p)
	}
	return nil
}

// UpdateVendorAssignment applies an assignment patch and logs it.
func (r Repo) UpdateVendorAssignment(ctx context.Context, id int64, patch domain.AssignmentPatch, change domain.Change) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var projectID int64
	err = tx.QueryRowContext(ctx, `SELECT project_id FROM bid_vendors WHERE id=?`, id).Scan(&projectID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assignment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	payload := events.EventPayload{"action": change.Action}
	var (
		fields []string
		args   []any
	)
	if patch.CloseoutReceivedDate != nil {
		fields = append(fields, "closeout_received_date=?")
		args = append(args, nullableStringPtr(patch.CloseoutReceivedDate))
		payload["closeout_received_date"] = *patch.CloseoutReceivedDate
	}
	if patch.FollowUpDate != nil {
		fields = append(fields, "follow_up_date=?")
		args = append(args, nullableStringPtr(patch.FollowUpDate))
		payload["follow_up_date"] = *patch.FollowUpDate
	}
	if len(fields) > 0 {
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE bid_vendors SET %s WHERE id=?`, strings.Join(fields, ",")), args...); err != nil {
			return fmt.Errorf("update assignment %d: %w", id, err)
		}
	}
	if patch.Phase != nil {
		if err := updatePhaseTx(ctx, tx, id, *patch.Phase); err != nil {
			return err
		}
		payload["phase_id"] = patch.Phase.PhaseID
	} else if len(fields) == 0 {
		return fmt.Errorf("empty patch for assignment %d", id)
	}
	evtType := events.AssignmentUpdated
	switch {
	case patch.Phase != nil && patch.Phase.ReceivedDate != nil:
		evtType = events.PhaseReceived
	case patch.CloseoutReceivedDate != nil:
		evtType = events.AssignmentCloseout
	}
	if err := r.Events.Append(ctx, tx, events.Entry{
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: "assignment",
		EntityID:   id,
		ActorID:    change.ActorID,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func updatePhaseTx(ctx context.Context, tx *sql.Tx, assignmentID int64, p domain.PhasePatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Status != nil {
		if !domain.ValidPhaseStatuses[*p.Status] {
			return fmt.Errorf("invalid phase status %q", *p.Status)
		}
		fields = append(fields, "status=?")
		args = append(args, string(*p.Status))
	}
	if p.FollowUpDate != nil {
		fields = append(fields, "follow_up_date=?")
		args = append(args, nullableStringPtr(p.FollowUpDate))
	}
	if p.ReceivedDate != nil {
		fields = append(fields, "received_date=?")
		args = append(args, nullableStringPtr(p.ReceivedDate))
	}
	if len(fields) == 0 {
		return fmt.Errorf("empty patch for phase %d", p.PhaseID)
	}
	args = append(args, p.PhaseID, assignmentID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE bid_vendor_phases SET %s WHERE id=? AND assignment_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return fmt.Errorf("update phase %d: %w", p.PhaseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phase %d of assignment %d: %w", p.PhaseID, assignmentID, ErrNotFound)
	}
	return nil
}
