// Package events appends change records to the event log. Every successful
// write to a project or assignment leaves one row here; the webhook dispatcher
// and the /events feed read them back for real-time refresh.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event types.
const (
	ProjectTransitioned = "project.transitioned"
	PhaseReceived       = "assignment.phase_received"
	AssignmentCloseout  = "assignment.closeout"
	AssignmentUpdated   = "assignment.updated"
	SnapshotImported    = "snapshot.imported"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one event to append.
type Entry struct {
	Type       string
	ProjectID  int64
	EntityKind string
	EntityID   int64
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullableID(e.ProjectID), e.EntityKind, nullableEntity(e.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableEntity(v int64) any {
	if v == 0 {
		return nil
	}
	return strconv.FormatInt(v, 10)
}
