package bidlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBulkTransitionSendsActor(t *testing.T) {
	var gotActor string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/projects/transitions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotActor = r.Header.Get("X-Actor-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"success_count":1,"failure_count":1,"errors":["Failed to archive bid 102: db locked"],"batch_id":"b1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.ActorID = "estimator"
	res, err := c.BulkTransition(context.Background(), []int64{101, 102}, "archive")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if gotActor != "estimator" || gotBody["transition"] != "archive" {
		t.Fatalf("unexpected request actor=%q body=%v", gotActor, gotBody)
	}
	if res.Success || res.FailureCount != 1 || res.Errors[0] != "Failed to archive bid 102: db locked" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"invalid_state","message":"invalid state: project is not in APM"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Transition(context.Background(), 7, "apm_hold")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_state" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestReceivePhaseNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/assignments/3/phases/9/receive" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(srv.URL).ReceivePhase(context.Background(), 3, 9, "2024-06-11"); err != nil {
		t.Fatalf("receive: %v", err)
	}
}
