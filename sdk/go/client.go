package bidlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bidline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the stored project flags (partial).
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Archived    bool   `json:"archived"`
	OnHold      bool   `json:"on_hold"`
	SentToApm   bool   `json:"sent_to_apm"`
	ApmArchived bool   `json:"apm_archived"`
	ApmOnHold   bool   `json:"apm_on_hold"`
}

// ProjectView is a project with its derived states.
type ProjectView struct {
	Project Project `json:"project"`
	States  struct {
		General string `json:"general"`
		Apm     string `json:"apm"`
	} `json:"states"`
	Available []string `json:"available_transitions"`
}

// BulkResult reports a bulk transition. Success is true only when every id
// was written.
type BulkResult struct {
	Success      bool     `json:"success"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors"`
	BatchID      string   `json:"batch_id"`
}

type UrgencyCounts struct {
	Overdue  int `json:"overdue"`
	DueToday int `json:"due_today"`
	Critical int `json:"critical"`
	Normal   int `json:"normal"`
	Total    int `json:"total"`
}

type Deadline struct {
	Date            *string  `json:"date"`
	PhaseNames      []string `json:"phase_names"`
	AssignmentCount int      `json:"assignment_count"`
}

type FollowUpRow struct {
	AssignmentID int64    `json:"assignment_id"`
	ProjectID    int64    `json:"project_id"`
	ProjectName  string   `json:"project_name"`
	VendorName   string   `json:"vendor_name"`
	NextFollowUp *string  `json:"next_follow_up"`
	Level        string   `json:"level"`
	PhaseNames   []string `json:"phase_names"`
}

// Dashboard is the follow-up summary for a day.
type Dashboard struct {
	Today   string        `json:"today"`
	Counts  UrgencyCounts `json:"counts"`
	Soonest Deadline      `json:"soonest"`
	Rows    []FollowUpRow `json:"rows"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  int64          `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// EventPage is one page of the event feed.
type EventPage struct {
	Items     []Event `json:"items"`
	NextAfter int64   `json:"next_after"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Project returns one project with its derived states.
func (c *Client) Project(ctx context.Context, id int64) (ProjectView, error) {
	var resp ProjectView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects/%d", id), nil, &resp)
	return resp, err
}

// Transition applies one lifecycle transition, e.g. "archive" or "apm_hold".
func (c *Client) Transition(ctx context.Context, id int64, transition string) (ProjectView, error) {
	var resp ProjectView
	body := map[string]any{"transition": transition}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%d/transitions", id), body, &resp)
	return resp, err
}

// BulkTransition applies one transition to every id. A partial failure is not
// an error; inspect the result.
func (c *Client) BulkTransition(ctx context.Context, ids []int64, transition string) (BulkResult, error) {
	var resp BulkResult
	body := map[string]any{"ids": ids, "transition": transition}
	err := c.do(ctx, http.MethodPost, "v0/projects/transitions", body, &resp)
	return resp, err
}

// Dashboard returns the follow-up dashboard. today may be empty, a date or a
// phrase like "tomorrow".
func (c *Client) Dashboard(ctx context.Context, today, state, apmState string) (Dashboard, error) {
	q := url.Values{}
	if today != "" {
		q.Set("today", today)
	}
	if state != "" {
		q.Set("state", state)
	}
	if apmState != "" {
		q.Set("apm_state", apmState)
	}
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withQuery("v0/followups/dashboard", q), nil, &resp)
	return resp, err
}

// ReceivePhase marks a phase of an assignment received.
func (c *Client) ReceivePhase(ctx context.Context, assignmentID, phaseID int64, receivedDate string) error {
	body := map[string]any{"received_date": receivedDate}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/assignments/%d/phases/%d/receive", assignmentID, phaseID), body, nil)
}

// Events returns events after the cursor, oldest first.
func (c *Client) Events(ctx context.Context, after int64, limit int) (EventPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
