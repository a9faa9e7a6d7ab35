package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bidline/internal/config"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// hookState is one configured webhook and how far it has read the log.
type hookState struct {
	cfg     config.WebhookConfig
	filter  eventFilter
	client  *http.Client
	cursor  int64
	started bool
}

type webhookDispatcher struct {
	engine engine.Engine
	log    *slog.Logger
	mu     sync.Mutex
	hooks  []*hookState
}

// StartWebhooks polls the event log and posts new events to the configured
// hooks until ctx is done. Each hook starts from the latest event at startup.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e, logger)
	if d == nil {
		return
	}
	go d.run(ctx, defaultWebhookInterval)
}

func newWebhookDispatcher(e engine.Engine, logger *slog.Logger) *webhookDispatcher {
	if e.Config == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &webhookDispatcher{engine: e, log: logger}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			cfg:    hook,
			filter: newEventFilter(hook.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

func (d *webhookDispatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatchHook(ctx, h)
	}
}

// dispatchHook delivers the hook's pending events in order and stops at the
// first failed delivery, leaving the cursor on the last delivered event.
func (d *webhookDispatcher) dispatchHook(ctx context.Context, h *hookState) {
	if !h.started {
		latest, err := d.engine.Repo.LatestEventID(ctx, 0)
		if err != nil {
			d.log.Error("webhook: init cursor failed", "url", h.cfg.URL, "err", err)
			return
		}
		h.cursor, h.started = latest, true
	}
	pending, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, h.cursor, repo.EventFilter{})
	if err != nil {
		d.log.Error("webhook: fetch events failed", "err", err)
		return
	}
	for _, evt := range pending {
		if h.filter.match(evt.Type) {
			if err := d.postEvent(ctx, h, evt); err != nil {
				d.log.Warn("webhook: delivery failed", "url", h.cfg.URL, "event_id", evt.ID, "err", err)
				return
			}
			d.log.Debug("webhook: delivered", "url", h.cfg.URL, "event_id", evt.ID, "type", evt.Type)
		}
		h.cursor = evt.ID
	}
}

func (d *webhookDispatcher) postEvent(ctx context.Context, h *hookState, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bidline-Event", evt.Type)
	req.Header.Set("X-Bidline-Delivery", strconv.FormatInt(evt.ID, 10))
	if evt.ProjectID != 0 {
		req.Header.Set("X-Bidline-Project", strconv.FormatInt(evt.ProjectID, 10))
	}
	if strings.TrimSpace(h.cfg.Secret) != "" {
		req.Header.Set("X-Bidline-Secret", h.cfg.Secret)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
