package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"bidline/internal/config"
	"bidline/internal/domain"
	"bidline/internal/followup"
	"bidline/internal/lifecycle"
	"bidline/internal/logging"
	"bidline/internal/repo"
	"bidline/internal/telemetry"
)

var (
	// ErrNoIDs rejects a bulk request with nothing to act on.
	ErrNoIDs = errors.New("no ids given")
	// ErrInvalidDate rejects a date that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
)

// Store is the entity store the engine reads snapshots from and writes flag
// patches to. Every write is independent; there is no cross-entity transaction.
type Store interface {
	GetProject(ctx context.Context, id int64) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetAssignment(ctx context.Context, id int64) (domain.VendorAssignment, error)
	ListAssignments(ctx context.Context, f repo.AssignmentFilter) ([]domain.VendorAssignment, error)
	UpdateProject(ctx context.Context, id int64, patch lifecycle.FlagPatch, change domain.Change) error
	UpdateVendorAssignment(ctx context.Context, id int64, patch domain.AssignmentPatch, change domain.Change) error
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Store  Store
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time

	bulkWrites metric.Int64Counter
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.New(db)
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:     db,
		Repo:   r,
		Store:  r,
		Config: cfg,
		Logger: logging.New(cfg.Log.Level, cfg.Log.JSON),
		Now:    time.Now,
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	c, err := telemetry.Meter("bidline/engine").Int64Counter("bidline.bulk.writes",
		metric.WithDescription("Project writes issued by bulk transitions"),
		metric.WithUnit("{write}"),
	)
	if err == nil {
		e.bulkWrites = c
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

// Today is the current local calendar day.
func (e Engine) Today() followup.Date {
	return followup.DateOf(e.now())
}

func (e Engine) classifier() followup.Classifier {
	return e.Config.Classifier()
}

func (e Engine) concurrency() int {
	if e.Config == nil {
		return 8
	}
	return e.Config.Bulk.Concurrency
}

// ProjectView is a project with its derived states and offered moves.
type ProjectView struct {
	Project   domain.Project         `json:"project"`
	States    lifecycle.States       `json:"states"`
	Available []lifecycle.Transition `json:"available_transitions"`
}

func viewOf(p domain.Project) ProjectView {
	f := lifecycle.FlagsOf(p)
	return ProjectView{Project: p, States: lifecycle.Derive(f), Available: lifecycle.AvailableTransitions(f)}
}

// ProjectState loads one project and derives both lifecycle views.
func (e Engine) ProjectState(ctx context.Context, id int64) (ProjectView, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	return viewOf(p), nil
}

// ListProjects returns projects in the given states; empty states match all.
func (e Engine) ListProjects(ctx context.Context, general lifecycle.GeneralState, apm lifecycle.ApmState) ([]ProjectView, error) {
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := []ProjectView{}
	for _, p := range projects {
		v := viewOf(p)
		if v.States.Matches(general, apm) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Transition applies one lifecycle move to one project and returns it as
// stored afterwards.
func (e Engine) Transition(ctx context.Context, id int64, t lifecycle.Transition, actorID string) (ProjectView, error) {
	if _, err := lifecycle.PatchFor(t); err != nil {
		return ProjectView{}, err
	}
	change := domain.Change{ActorID: actorID, Action: t.Verb()}
	if err := e.transitionOne(ctx, id, t, change); err != nil {
		return ProjectView{}, err
	}
	return e.ProjectState(ctx, id)
}

func (e Engine) transitionOne(ctx context.Context, id int64, t lifecycle.Transition, change domain.Change) error {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	patch, err := lifecycle.RequestTransition(lifecycle.FlagsOf(p), t)
	if err != nil {
		return err
	}
	return e.Store.UpdateProject(ctx, id, patch, change)
}

// SoonestOpenPhase returns the earliest open phases of one assignment.
func (e Engine) SoonestOpenPhase(ctx context.Context, assignmentID int64) (followup.OpenPhases, error) {
	a, err := e.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return followup.OpenPhases{}, err
	}
	return followup.SoonestOpenPhase(a), nil
}

// ReceivePhase marks a phase received on the given date.
func (e Engine) ReceivePhase(ctx context.Context, assignmentID, phaseID int64, receivedDate, actorID string) error {
	if _, ok := followup.ParseDate(receivedDate); !ok {
		return fmt.Errorf("%w: received_date %q", ErrInvalidDate, receivedDate)
	}
	status := domain.PhaseReceived
	patch := domain.AssignmentPatch{Phase: &domain.PhasePatch{
		PhaseID:      phaseID,
		Status:       &status,
		ReceivedDate: &receivedDate,
	}}
	return e.Store.UpdateVendorAssignment(ctx, assignmentID, patch, domain.Change{ActorID: actorID, Action: "receive phase"})
}

// Closeout records the closeout date of an assignment. An empty date reopens it.
func (e Engine) Closeout(ctx context.Context, assignmentID int64, date, actorID string) error {
	action := "closeout"
	if date == "" {
		action = "reopen"
	} else if _, ok := followup.ParseDate(date); !ok {
		return fmt.Errorf("%w: closeout_received_date %q", ErrInvalidDate, date)
	}
	patch := domain.AssignmentPatch{CloseoutReceivedDate: &date}
	return e.Store.UpdateVendorAssignment(ctx, assignmentID, patch, domain.Change{ActorID: actorID, Action: action})
}
