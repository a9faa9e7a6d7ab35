package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/followup"
	"bidline/internal/lifecycle"
	"bidline/internal/migrate"
	"bidline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Log.Level = "error"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local) }
	return testEnv{Engine: eng, Repo: eng.Repo, Ctx: context.Background()}
}

func (env testEnv) project(t *testing.T, p domain.Project) domain.Project {
	t.Helper()
	p, err := env.Repo.InsertProject(env.Ctx, p)
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

// fakeStore records writes and fails the ids in failUpdate.
type fakeStore struct {
	mu         sync.Mutex
	projects   map[int64]domain.Project
	failUpdate map[int64]error
	writes     []int64
}

func newFakeStore(projects ...domain.Project) *fakeStore {
	s := &fakeStore{projects: map[int64]domain.Project{}, failUpdate: map[int64]error{}}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetProject(_ context.Context, id int64) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return p, fmt.Errorf("project %d: %w", id, repo.ErrNotFound)
	}
	return p, nil
}

func (s *fakeStore) ListProjects(context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) GetAssignment(context.Context, int64) (domain.VendorAssignment, error) {
	return domain.VendorAssignment{}, repo.ErrNotFound
}

func (s *fakeStore) ListAssignments(context.Context, repo.AssignmentFilter) ([]domain.VendorAssignment, error) {
	return nil, nil
}

func (s *fakeStore) UpdateProject(_ context.Context, id int64, patch lifecycle.FlagPatch, _ domain.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, id)
	if err := s.failUpdate[id]; err != nil {
		return err
	}
	p := s.projects[id]
	f := patch.Apply(lifecycle.FlagsOf(p))
	p.Archived, p.OnHold, p.SentToApm, p.ApmArchived, p.ApmOnHold = f.Archived, f.OnHold, f.SentToApm, f.ApmArchived, f.ApmOnHold
	s.projects[id] = p
	return nil
}

func (s *fakeStore) UpdateVendorAssignment(context.Context, int64, domain.AssignmentPatch, domain.Change) error {
	return nil
}

func TestBulkArchivePartialFailure(t *testing.T) {
	store := newFakeStore(domain.Project{ID: 101, Name: "a"}, domain.Project{ID: 102, Name: "b"}, domain.Project{ID: 103, Name: "c"})
	store.failUpdate[102] = errors.New("db locked")
	eng := engine.Engine{Store: store, Config: config.Default()}

	res, err := eng.BulkTransition(context.Background(), []int64{101, 102, 103}, lifecycle.Archive, "estimator")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Success || res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Failed to archive bid 102: db locked" {
		t.Fatalf("unexpected errors: %q", res.Errors)
	}
	if len(store.writes) != 3 {
		t.Fatalf("expected an attempt for every id, got %v", store.writes)
	}
	if !store.projects[101].Archived || !store.projects[103].Archived || store.projects[102].Archived {
		t.Fatalf("unexpected flags after bulk: %+v", store.projects)
	}
	if res.BatchID == "" {
		t.Fatalf("expected batch id")
	}
}

func TestBulkApmHoldRequiresEnrolment(t *testing.T) {
	store := newFakeStore(domain.Project{ID: 7, Name: "not sent"}, domain.Project{ID: 8, Name: "sent", SentToApm: true})
	eng := engine.Engine{Store: store, Config: config.Default()}
	res, err := eng.BulkTransition(context.Background(), []int64{7, 8}, lifecycle.ApmHold, "pm")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(res.Errors[0], "Failed to put on hold in APM bid 7: ") {
		t.Fatalf("unexpected error: %q", res.Errors[0])
	}
	if len(store.writes) != 1 || store.writes[0] != 8 {
		t.Fatalf("expected a single write for 8, got %v", store.writes)
	}
	if store.projects[7].ApmOnHold || !store.projects[8].ApmOnHold {
		t.Fatalf("unexpected flags: %+v", store.projects)
	}
}

func TestBulkRejectsEmptyIDs(t *testing.T) {
	store := newFakeStore()
	eng := engine.Engine{Store: store}
	if _, err := eng.BulkTransition(context.Background(), nil, lifecycle.Archive, "x"); !errors.Is(err, engine.ErrNoIDs) {
		t.Fatalf("expected ErrNoIDs, got %v", err)
	}
	if _, err := eng.BulkTransition(context.Background(), []int64{1}, lifecycle.Transition("explode"), "x"); !errors.Is(err, lifecycle.ErrUnknownTransition) {
		t.Fatalf("expected unknown transition, got %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("no writes expected, got %v", store.writes)
	}
}

func TestBulkMissingProject(t *testing.T) {
	store := newFakeStore(domain.Project{ID: 1, Name: "a"})
	eng := engine.Engine{Store: store}
	res, err := eng.BulkTransition(context.Background(), []int64{1, 2}, lifecycle.Hold, "x")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 || !strings.HasPrefix(res.Errors[0], "Failed to put on hold bid 2:") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestBulkUnboundedConcurrency(t *testing.T) {
	var projects []domain.Project
	var ids []int64
	for i := int64(1); i <= 50; i++ {
		projects = append(projects, domain.Project{ID: i, Name: "p"})
		ids = append(ids, i)
	}
	store := newFakeStore(projects...)
	cfg := config.Default()
	cfg.Bulk.Concurrency = 0
	eng := engine.Engine{Store: store, Config: cfg}
	res, err := eng.BulkTransition(context.Background(), ids, lifecycle.ApmSend, "x")
	if err != nil || !res.Success || res.SuccessCount != 50 {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
}

func TestBulkIdempotentAgainstSQLite(t *testing.T) {
	env := newTestEnv(t)
	a := env.project(t, domain.Project{Name: "Annex"})
	b := env.project(t, domain.Project{Name: "Depot", OnHold: true})
	ids := []int64{a.ID, b.ID}
	for run := 0; run < 2; run++ {
		res, err := env.Engine.BulkTransition(env.Ctx, ids, lifecycle.Archive, "estimator")
		if err != nil || !res.Success || res.SuccessCount != 2 {
			t.Fatalf("run %d: unexpected result %+v %v", run, res, err)
		}
	}
	for _, id := range ids {
		v, err := env.Engine.ProjectState(env.Ctx, id)
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if v.States.General != lifecycle.Archived || v.Project.OnHold {
			t.Fatalf("project %d not archived: %+v", id, v)
		}
	}
	evts, err := env.Repo.EventsAfter(env.Ctx, 10, 0, repo.EventFilter{})
	if err != nil || len(evts) != 4 {
		t.Fatalf("expected 4 events, got %d (%v)", len(evts), err)
	}
}

func TestTransitionSendAndRemoveFromApm(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.Project{Name: "Annex", Archived: true})
	v, err := env.Engine.Transition(env.Ctx, p.ID, lifecycle.ApmSend, "pm")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if v.States.Apm != lifecycle.ApmActive || v.States.General != lifecycle.Archived || v.Project.SentToApmAt == nil {
		t.Fatalf("unexpected after send: %+v", v)
	}
	if _, err := env.Engine.Transition(env.Ctx, p.ID, lifecycle.ApmArchive, "pm"); err != nil {
		t.Fatalf("apm archive: %v", err)
	}
	v, err = env.Engine.Transition(env.Ctx, p.ID, lifecycle.ApmRemove, "pm")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if v.States.Apm != lifecycle.ApmNotEnrolled || v.Project.ApmArchived || v.Project.ApmArchivedAt != nil {
		t.Fatalf("unexpected after remove: %+v", v)
	}
	if _, err := env.Engine.Transition(env.Ctx, p.ID, lifecycle.ApmActivate, "pm"); !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, 999, lifecycle.Archive, "pm"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListProjectsByState(t *testing.T) {
	env := newTestEnv(t)
	env.project(t, domain.Project{Name: "a"})
	env.project(t, domain.Project{Name: "b", OnHold: true, SentToApm: true})
	env.project(t, domain.Project{Name: "c", Archived: true, SentToApm: true, ApmArchived: true})
	all, _ := env.Engine.ListProjects(env.Ctx, "", "")
	held, _ := env.Engine.ListProjects(env.Ctx, lifecycle.OnHold, "")
	apmArchived, _ := env.Engine.ListProjects(env.Ctx, "", lifecycle.ApmArchived)
	if len(all) != 3 || len(held) != 1 || held[0].Project.Name != "b" || len(apmArchived) != 1 || apmArchived[0].Project.Name != "c" {
		t.Fatalf("unexpected filters: all=%d held=%+v apm=%+v", len(all), held, apmArchived)
	}
}

func seedDashboard(t *testing.T, env testEnv) (domain.Project, domain.VendorAssignment) {
	t.Helper()
	strp := func(s string) *string { return &s }
	glass, _ := env.Repo.InsertVendor(env.Ctx, domain.Vendor{CompanyName: "Acme Glass"})
	steel, _ := env.Repo.InsertVendor(env.Ctx, domain.Vendor{CompanyName: "Bolt Steel"})
	roof, _ := env.Repo.InsertVendor(env.Ctx, domain.Vendor{CompanyName: "Crest Roofing"})
	annex := env.project(t, domain.Project{Name: "Annex"})
	archived := env.project(t, domain.Project{Name: "Old", Archived: true})
	a, err := env.Repo.InsertAssignment(env.Ctx, domain.VendorAssignment{ProjectID: annex.ID, VendorID: glass.ID, Phases: []domain.Phase{
		{PhaseName: "Submittals", FollowUpDate: strp("2024-06-12")},
		{PhaseName: "Samples", FollowUpDate: strp("2024-06-08")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.InsertAssignment(env.Ctx, domain.VendorAssignment{ProjectID: annex.ID, VendorID: steel.ID, FollowUpDate: strp("2024-06-10")}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.InsertAssignment(env.Ctx, domain.VendorAssignment{ProjectID: annex.ID, VendorID: roof.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.InsertAssignment(env.Ctx, domain.VendorAssignment{ProjectID: archived.ID, VendorID: glass.ID, FollowUpDate: strp("2024-06-01")}); err != nil {
		t.Fatal(err)
	}
	return annex, a
}

func TestFollowUpDashboard(t *testing.T) {
	env := newTestEnv(t)
	_, glass := seedDashboard(t, env)
	today := env.Engine.Today()
	if today != followup.NewDate(2024, 6, 10) {
		t.Fatalf("unexpected today %s", today)
	}
	d, err := env.Engine.FollowUpDashboard(env.Ctx, today, engine.DashboardFilter{General: lifecycle.Active})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Counts != (followup.UrgencyCounts{Overdue: 1, DueToday: 1, Total: 2}) {
		t.Fatalf("unexpected counts: %+v", d.Counts)
	}
	if d.Soonest.Date == nil || d.Soonest.Date.String() != "2024-06-08" || d.Soonest.AssignmentCount != 1 {
		t.Fatalf("unexpected soonest: %+v", d.Soonest)
	}
	if len(d.Rows) != 3 || d.Rows[0].AssignmentID != glass.ID || d.Rows[0].Level != followup.Overdue || d.Rows[2].NextFollowUp != nil {
		t.Fatalf("unexpected rows: %+v", d.Rows)
	}
	if d.Rows[1].VendorName != "Bolt Steel" || d.Rows[1].Level != followup.DueToday {
		t.Fatalf("unexpected legacy row: %+v", d.Rows[1])
	}

	all, err := env.Engine.FollowUpDashboard(env.Ctx, today, engine.DashboardFilter{})
	if err != nil || all.Counts.Total != 3 || all.Counts.Overdue != 2 {
		t.Fatalf("unexpected unfiltered counts: %+v %v", all.Counts, err)
	}
}

func TestReceivePhaseMovesDeadline(t *testing.T) {
	env := newTestEnv(t)
	annex, glass := seedDashboard(t, env)
	samples := glass.Phases[1]
	if err := env.Engine.ReceivePhase(env.Ctx, glass.ID, samples.ID, "2024-06-09", "pm"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	open, err := env.Engine.SoonestOpenPhase(env.Ctx, glass.ID)
	if err != nil {
		t.Fatalf("soonest: %v", err)
	}
	if open.SoonestDate == nil || open.SoonestDate.String() != "2024-06-12" || len(open.Phases) != 1 {
		t.Fatalf("unexpected soonest after receive: %+v", open)
	}
	if err := env.Engine.ReceivePhase(env.Ctx, glass.ID, samples.ID, "June 9th", "pm"); !errors.Is(err, engine.ErrInvalidDate) {
		t.Fatalf("expected invalid date, got %v", err)
	}

	if err := env.Engine.Closeout(env.Ctx, glass.ID, "2024-06-10", "pm"); err != nil {
		t.Fatalf("closeout: %v", err)
	}
	d, err := env.Engine.ProjectFollowUps(env.Ctx, annex.ID, env.Engine.Today())
	if err != nil {
		t.Fatalf("project followups: %v", err)
	}
	for _, row := range d.Rows {
		if row.AssignmentID == glass.ID {
			t.Fatalf("closed assignment still on dashboard")
		}
	}
	if err := env.Engine.Closeout(env.Ctx, glass.ID, "", "pm"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d, _ = env.Engine.ProjectFollowUps(env.Ctx, annex.ID, env.Engine.Today())
	if len(d.Rows) != 3 {
		t.Fatalf("expected reopened assignment back, got %d rows", len(d.Rows))
	}
}
