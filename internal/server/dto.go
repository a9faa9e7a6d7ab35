package server

import (
	"encoding/json"

	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/followup"
)

// Request payloads

type TransitionRequest struct {
	Transition string `json:"transition" enum:"archive,hold,activate,apm_send,apm_archive,apm_hold,apm_activate,apm_remove" validate:"required"`
}

type BulkTransitionRequest struct {
	IDs        []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Transition string  `json:"transition" enum:"archive,hold,activate,apm_send,apm_archive,apm_hold,apm_activate,apm_remove" validate:"required"`
}

type ReceivePhaseRequest struct {
	ReceivedDate string `json:"received_date" format:"date" validate:"required"`
}

type CloseoutRequest struct {
	// Empty reopens the assignment.
	CloseoutReceivedDate string `json:"closeout_received_date,omitempty"`
}

// Response payloads

type ProjectResponse = engine.ProjectView

type ProjectListResponse struct {
	Items []ProjectResponse `json:"items"`
}

type BulkResultResponse = engine.BulkResult

type DashboardResponse = engine.Dashboard

type SoonestResponse struct {
	AssignmentID int64          `json:"assignment_id"`
	SoonestDate  *followup.Date `json:"soonest_date,omitempty"`
	Phases       []domain.Phase `json:"phases"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  int64           `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
	// NextAfter is the cursor to pass as ?after= on the next poll.
	NextAfter int64 `json:"next_after"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
