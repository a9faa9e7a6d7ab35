package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"bidline/internal/domain"
	"bidline/internal/events"
	"bidline/internal/lifecycle"
)

// Repo is the SQLite entity store. Writes go through database/sql
// transactions that also append to the event log; snapshot reads use sqlx.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}, Now: time.Now}
}

func (r Repo) x() *sqlx.DB {
	return sqlx.NewDb(r.DB, "sqlite")
}

func (r Repo) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

const projectColumns = `id,name,address,general_contractor,bid_date,archived,on_hold,archived_at,sent_to_apm,sent_to_apm_at,apm_archived,apm_on_hold,apm_archived_at,created_at,updated_at`

// InsertProject stores a project. A zero ID lets SQLite assign one.
func (r Repo) InsertProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return p, fmt.Errorf("project name is required")
	}
	if err := lifecycle.FlagsOf(p).Validate(); err != nil {
		return p, err
	}
	now := r.now()
	if p.CreatedAt == "" {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	res, err := r.DB.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullableID(p.ID), p.Name, p.Address, p.GeneralContractor, nullableStringPtr(p.BidDate),
		p.Archived, p.OnHold, nullableStringPtr(p.ArchivedAt),
		p.SentToApm, nullableStringPtr(p.SentToApmAt), p.ApmArchived, p.ApmOnHold, nullableStringPtr(p.ApmArchivedAt),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if p.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return p, err
		}
		p.ID = id
	}
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var p domain.Project
	err := r.x().GetContext(ctx, &p, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	res := []domain.Project{}
	if err := r.x().SelectContext(ctx, &res, `SELECT `+projectColumns+` FROM projects ORDER BY id`); err != nil {
		return nil, err
	}
	return res, nil
}

func getProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	var p domain.Project
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	var bidDate, archivedAt, sentAt, apmArchivedAt sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Address, &p.GeneralContractor, &bidDate, &p.Archived, &p.OnHold, &archivedAt,
		&p.SentToApm, &sentAt, &p.ApmArchived, &p.ApmOnHold, &apmArchivedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.BidDate = stringPtr(bidDate)
	p.ArchivedAt = stringPtr(archivedAt)
	p.SentToApmAt = stringPtr(sentAt)
	p.ApmArchivedAt = stringPtr(apmArchivedAt)
	return p, nil
}

// UpdateProject writes a lifecycle flag patch and logs it. Writing a flag to
// the value it already holds succeeds; the *_at timestamps only move when the
// flag actually flips.
func (r Repo) UpdateProject(ctx context.Context, id int64, patch lifecycle.FlagPatch, change domain.Change) error {
	if patch.IsEmpty() {
		return fmt.Errorf("empty patch for project %d", id)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	before, err := getProjectTx(ctx, tx, id)
	if err != nil {
		return err
	}
	oldFlags := lifecycle.FlagsOf(before)
	newFlags := patch.Apply(oldFlags)
	if err := newFlags.Validate(); err != nil {
		return err
	}
	now := r.now()
	var (
		fields []string
		args   []any
	)
	for col, val := range patch.Fields() {
		fields = append(fields, col+"=?")
		args = append(args, val)
	}
	stamp := func(col string, was, is bool) {
		switch {
		case is && !was:
			fields = append(fields, col+"=?")
			args = append(args, now)
		case !is:
			fields = append(fields, col+"=NULL")
		}
	}
	stamp("archived_at", oldFlags.Archived, newFlags.Archived)
	stamp("sent_to_apm_at", oldFlags.SentToApm, newFlags.SentToApm)
	stamp("apm_archived_at", oldFlags.ApmArchived, newFlags.ApmArchived)
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...); err != nil {
		return fmt.Errorf("update project %d: %w", id, err)
	}
	from, to := lifecycle.Derive(oldFlags), lifecycle.Derive(newFlags)
	payload := events.EventPayload{
		"action":       change.Action,
		"patch":        patch.Fields(),
		"from_general": from.General,
		"from_apm":     from.Apm,
		"to_general":   to.General,
		"to_apm":       to.Apm,
	}
	if change.BatchID != "" {
		payload["batch_id"] = change.BatchID
	}
	if err := r.Events.Append(ctx, tx, events.Entry{
		Type:       events.ProjectTransitioned,
		ProjectID:  id,
		EntityKind: "project",
		EntityID:   id,
		ActorID:    change.ActorID,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertVendor(ctx context.Context, v domain.Vendor) (domain.Vendor, error) {
	if strings.TrimSpace(v.CompanyName) == "" {
		return v, fmt.Errorf("vendor company name is required")
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO vendors(id,company_name,contact_name,email,phone) VALUES (?,?,?,?,?)`,
		nullableID(v.ID), v.CompanyName, v.ContactName, v.Email, v.Phone)
	if err != nil {
		return v, fmt.Errorf("insert vendor: %w", err)
	}
	if v.ID == 0 {
		if v.ID, err = res.LastInsertId(); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (r Repo) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	res := []domain.Vendor{}
	if err := r.x().SelectContext(ctx, &res, `SELECT id,company_name,contact_name,email,phone FROM vendors ORDER BY company_name, id`); err != nil {
		return nil, err
	}
	return res, nil
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
