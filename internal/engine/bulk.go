package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"bidline/internal/domain"
	"bidline/internal/lifecycle"
)

// BulkResult summarises one bulk batch. Errors keep the order of the input ids.
type BulkResult struct {
	Success      bool     `json:"success"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors"`
	BatchID      string   `json:"batch_id"`
}

// PatchFunc computes the patch for one id. A returned error fails that id
// without a write.
type PatchFunc func(ctx context.Context, id int64) (lifecycle.FlagPatch, error)

// ExecuteBulk issues one independent write per id and waits for all of them.
// A failure never cancels or skips the others; there is no rollback of the
// ones that succeeded. change.Action is the verb used in error strings.
func (e Engine) ExecuteBulk(ctx context.Context, ids []int64, change domain.Change, patchFn PatchFunc) BulkResult {
	if change.BatchID == "" {
		change.BatchID = uuid.NewString()
	}
	errs := make([]error, len(ids))
	var g errgroup.Group
	if n := e.concurrency(); n > 0 {
		g.SetLimit(n)
	}
	for i, id := range ids {
		g.Go(func() error {
			patch, err := patchFn(ctx, id)
			if err == nil {
				err = e.Store.UpdateProject(ctx, id, patch, change)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Errors: []string{}, BatchID: change.BatchID}
	for i, err := range errs {
		if err == nil {
			res.SuccessCount++
			continue
		}
		res.FailureCount++
		res.Errors = append(res.Errors, fmt.Sprintf("Failed to %s bid %d: %v", change.Action, ids[i], err))
		e.log().Warn("bulk write failed", "batch_id", change.BatchID, "verb", change.Action, "bid", ids[i], "err", err)
	}
	res.Success = res.FailureCount == 0
	e.record(ctx, change.Action, res)
	e.log().Info("bulk batch settled", "batch_id", res.BatchID, "verb", change.Action,
		"success_count", res.SuccessCount, "failure_count", res.FailureCount)
	return res
}

func (e Engine) record(ctx context.Context, verb string, res BulkResult) {
	if e.bulkWrites == nil {
		return
	}
	if res.SuccessCount > 0 {
		e.bulkWrites.Add(ctx, int64(res.SuccessCount), metric.WithAttributes(
			attribute.String("verb", verb), attribute.String("outcome", "success")))
	}
	if res.FailureCount > 0 {
		e.bulkWrites.Add(ctx, int64(res.FailureCount), metric.WithAttributes(
			attribute.String("verb", verb), attribute.String("outcome", "failure")))
	}
}

// BulkTransition applies one lifecycle move to every id. Preconditions are
// checked per project; a project that fails them is reported without a write.
func (e Engine) BulkTransition(ctx context.Context, ids []int64, t lifecycle.Transition, actorID string) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, ErrNoIDs
	}
	if _, err := lifecycle.PatchFor(t); err != nil {
		return BulkResult{}, err
	}
	change := domain.Change{ActorID: actorID, Action: t.Verb()}
	return e.ExecuteBulk(ctx, ids, change, func(ctx context.Context, id int64) (lifecycle.FlagPatch, error) {
		p, err := e.Store.GetProject(ctx, id)
		if err != nil {
			return lifecycle.FlagPatch{}, err
		}
		return lifecycle.RequestTransition(lifecycle.FlagsOf(p), t)
	}), nil
}
