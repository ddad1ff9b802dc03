package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var eventPattern = regexp.MustCompile(`events/(.+)/registrations`)

const (
	inventoryJS = `() => inventory.inventory`
	recaptchaJS = `() => TIXGLOBAL.pageInfo.recaptcha`
)

// refreshHandle is the single in-flight status refresh.
type refreshHandle struct {
	id         string
	generation uint64
	eventURL   string
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
}

// StatusTracker keeps the latest ShowStatus of the event page open in the
// browser. Starting a refresh cancels the previous one, and only the
// latest refresh may publish.
type StatusTracker struct {
	page      Page
	api       *apiClient
	endpoints vendorEndpoints
	now       func() time.Time
	retries   int
	backoff   time.Duration
	logger    *slog.Logger

	root context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	current    *ShowStatus
	inflight   *refreshHandle
	generation uint64
}

func NewStatusTracker(page Page, api *apiClient, endpoints vendorEndpoints, now func() time.Time, retries int, backoff time.Duration, logger *slog.Logger) *StatusTracker {
	if now == nil {
		now = time.Now
	}
	if retries <= 0 {
		retries = 1
	}
	root, stop := context.WithCancel(context.Background())
	return &StatusTracker{
		page:      page,
		api:       api,
		endpoints: endpoints,
		now:       now,
		retries:   retries,
		backoff:   backoff,
		logger:    loggerOrDiscard(logger).With("component", "status"),
		root:      root,
		stop:      stop,
	}
}

// Current returns the published snapshot, or nil when unknown.
func (t *StatusTracker) Current() *ShowStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// HandleResponse reacts to browser navigation seen on the network feed.
func (t *StatusTracker) HandleResponse(event ResponseEvent) {
	url := event.URL
	switch {
	case url == t.endpoints.Home:
		t.clear()
	case strings.HasPrefix(url, t.endpoints.Home) && strings.Contains(url, "events") && strings.HasSuffix(url, "registrations/new"):
		t.Start(t.root, url)
	}
}

func (t *StatusTracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelInflightLocked()
	t.generation++
	t.current = nil
}

func (t *StatusTracker) cancelInflightLocked() {
	if t.inflight == nil {
		return
	}
	t.logger.Warn("cancel previous task", "operation", t.inflight.id, "url", t.inflight.eventURL)
	t.inflight.cancel()
	t.inflight = nil
}

// Start cancels any in-flight refresh and begins a new one for eventURL.
func (t *StatusTracker) Start(ctx context.Context, eventURL string) *refreshHandle {
	t.mu.Lock()
	t.cancelInflightLocked()
	t.generation++

	runCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(t.root, cancel)
	h := &refreshHandle{
		id:         uuid.New().String(),
		generation: t.generation,
		eventURL:   eventURL,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	t.inflight = h
	t.mu.Unlock()

	go func() {
		defer close(h.done)
		defer stopOnClose()
		defer cancel()

		h.err = t.refresh(runCtx, h)

		t.mu.Lock()
		if t.inflight == h {
			t.inflight = nil
		}
		t.mu.Unlock()

		switch {
		case h.err == nil:
		case isCanceled(h.err):
			t.logger.Debug("status refresh cancelled", "operation", h.id, "url", eventURL)
		default:
			t.logger.Error("status refresh failed", "operation", h.id, "url", eventURL, "error", h.err)
		}
	}()
	return h
}

// Refresh runs a refresh for eventURL and waits for it. A newer navigation
// supersedes it, in which case context.Canceled is returned.
func (t *StatusTracker) Refresh(ctx context.Context, eventURL string) error {
	h := t.Start(ctx, eventURL)
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no refresh is in flight.
func (t *StatusTracker) Wait() {
	for {
		t.mu.Lock()
		h := t.inflight
		t.mu.Unlock()
		if h == nil {
			return
		}
		<-h.done
	}
}

// Close cancels the in-flight refresh and stops future ones.
func (t *StatusTracker) Close() {
	t.stop()
	t.Wait()
}

func (t *StatusTracker) refresh(ctx context.Context, h *refreshHandle) error {
	match := eventPattern.FindStringSubmatch(h.eventURL)
	if match == nil {
		return fmt.Errorf("%w: %s", ErrNoEventID, h.eventURL)
	}
	eventID := match[1]
	t.logger.Debug("getting show info", "event_id", eventID, "url", h.eventURL, "operation", h.id)

	inv, err := t.readInventory(ctx)
	if err != nil {
		return err
	}

	var base baseInfoResponse
	baseURL := fmt.Sprintf(t.endpoints.BaseInfo, eventID)
	err = retryOnNetworkError(ctx, t.logger, 3, "base info", func() error {
		return t.api.getJSON(ctx, baseURL, &base)
	})
	if err != nil {
		return fmt.Errorf("get base info: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	meta, err := t.captchaMeta(ctx, eventID, CaptchaKind(base.EventData.Event.CaptchaType))
	if err != nil {
		return err
	}

	status, err := newShowStatus(eventID, inv, base.EventData, meta, t.now())
	if err != nil {
		return fmt.Errorf("assemble show status: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || t.generation != h.generation {
		return context.Canceled
	}
	t.current = status
	t.logger.Debug("status published", "operation", h.id, "status", status.String())
	return nil
}

// readInventory waits for the page to settle and reads the inventory
// object, backing off between failed evaluations.
func (t *StatusTracker) readInventory(ctx context.Context) (inventorySnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= t.retries; attempt++ {
		if err := t.page.WaitIdle(ctx); err != nil {
			if ctx.Err() != nil {
				return inventorySnapshot{}, ctx.Err()
			}
			t.logger.Debug("wait idle failed", "error", err)
		}

		value, err := t.page.Eval(ctx, inventoryJS)
		if err == nil {
			raw, marshalErr := value.MarshalJSON()
			if marshalErr == nil {
				var inv inventorySnapshot
				if err = json.Unmarshal(raw, &inv); err == nil {
					return inv, nil
				}
			} else {
				err = marshalErr
			}
		}
		if ctx.Err() != nil {
			return inventorySnapshot{}, ctx.Err()
		}

		lastErr = err
		t.logger.Error("evaluate error of getting inventory", "attempt", attempt, "error", err)
		if err := sleepContext(ctx, t.backoff); err != nil {
			return inventorySnapshot{}, err
		}
	}
	return inventorySnapshot{}, fmt.Errorf("%w after %d attempts: %v", ErrRefreshExhausted, t.retries, lastErr)
}

func (t *StatusTracker) captchaMeta(ctx context.Context, eventID string, kind CaptchaKind) (captchaMeta, error) {
	var meta captchaMeta
	switch {
	case kind.isRecaptcha():
		value, err := t.page.Eval(ctx, recaptchaJS)
		if err != nil {
			if ctx.Err() != nil {
				return meta, ctx.Err()
			}
			t.logger.Warn("recaptcha info not found on page", "error", err)
			return meta, nil
		}
		var info recaptchaInfo
		raw, err := value.MarshalJSON()
		if err == nil {
			err = json.Unmarshal(raw, &info)
		}
		if err != nil {
			t.logger.Warn("recaptcha info is malformed", "value", value.String(), "error", err)
		}
		if kind == CaptchaRecaptcha {
			meta.SiteKey = info.SitekeyNormal
		} else {
			meta.SiteKey = info.SitekeyAdvanced
		}

	case kind == CaptchaText:
		var info registerInfoResponse
		url := fmt.Sprintf(t.endpoints.RegisterInfo, eventID)
		err := retryOnNetworkError(ctx, t.logger, 3, "register info", func() error {
			return t.api.getJSON(ctx, url, &info)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return meta, err
			}
			return meta, fmt.Errorf("get register info: %w", err)
		}
		if info.KTXCaptcha != nil {
			meta.Question = info.KTXCaptcha.Question
		}
	}
	return meta, nil
}
