package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sessionCookie = "user_id_v2"
	xsrfCookie    = "XSRF-TOKEN"
)

// CaptchaSolution is a captcha answer obtained outside the engine. The
// queue protocol sends it as-is; an empty solution sends placeholders.
type CaptchaSolution struct {
	// ResponseChallenge is a solved reCAPTCHA token (kinds 1 and 3).
	ResponseChallenge string
	// Answer is the reply to a text captcha question (kind 2).
	Answer string
}

type queueSubmission struct {
	AgreeTerm     bool              `json:"agreeTerm"`
	Currency      string            `json:"currency"`
	Captcha       map[string]string `json:"captcha"`
	CustomCaptcha *string           `json:"custom_captcha,omitempty"`
	Tickets       []queueTicket     `json:"tickets"`
}

type queueTicket struct {
	ID                 int64    `json:"id"`
	Quantity           int      `json:"quantity"`
	InvitationCodes    []string `json:"invitationCodes"`
	MemberCode         string   `json:"member_code"`
	UseQualificationID *int64   `json:"use_qualification_id"`
}

type queueResponse struct {
	Token string `json:"token"`
}

type orderPageResponse struct {
	ToParam json.RawMessage `json:"to_param"`
}

// pageID returns to_param as a string, or "" while it is still null.
func (r orderPageResponse) pageID() string {
	raw := strings.TrimSpace(string(r.ToParam))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ToParam, &s); err == nil {
		return s
	}
	return strings.Trim(raw, `"`)
}

// buildSubmission selects the configured offering and returns the queue
// payload. ok is false when no open offering matches.
func buildSubmission(status *ShowStatus, ticketName string, quantity int, solution CaptchaSolution) (queueSubmission, bool) {
	offering, ok := status.findOffering(ticketName)
	if !ok {
		return queueSubmission{}, false
	}

	sub := queueSubmission{
		AgreeTerm: true,
		Currency:  status.Tickets[0].Currency,
		Captcha:   map[string]string{},
		Tickets: []queueTicket{{
			ID:              offering.ID,
			Quantity:        min(quantity, offering.Inventory),
			InvitationCodes: []string{},
		}},
	}

	switch {
	case status.CaptchaKind == CaptchaText:
		answer := solution.Answer
		sub.CustomCaptcha = &answer
	case status.CaptchaKind.isRecaptcha():
		sub.Captcha["responseChallenge"] = solution.ResponseChallenge
	}
	return sub, true
}

// QueueJoiner runs the queue protocol: submit, poll for the order page id,
// then open the order page.
type QueueJoiner struct {
	page         Page
	api          *apiClient
	endpoints    vendorEndpoints
	ticketName   string
	quantity     int
	pollAttempts int
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	solution CaptchaSolution
}

func NewQueueJoiner(page Page, api *apiClient, endpoints vendorEndpoints, ticketName string, quantity, pollAttempts int, pollInterval time.Duration, logger *slog.Logger) *QueueJoiner {
	if pollAttempts <= 0 {
		pollAttempts = 1
	}
	return &QueueJoiner{
		page:         page,
		api:          api,
		endpoints:    endpoints,
		ticketName:   ticketName,
		quantity:     quantity,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
		logger:       loggerOrDiscard(logger).With("component", "queue"),
	}
}

// SetCaptchaSolution supplies the captcha answer for the next submissions.
func (q *QueueJoiner) SetCaptchaSolution(solution CaptchaSolution) {
	q.mu.Lock()
	q.solution = solution
	q.mu.Unlock()
}

func (q *QueueJoiner) captchaSolution() CaptchaSolution {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.solution
}

// SubmitAndRedirect joins the queue for status and follows the redirect.
// Rejections are logged and reported as false; ErrNotLoggedIn and
// ErrQueueTimeout are returned as errors.
func (q *QueueJoiner) SubmitAndRedirect(ctx context.Context, status *ShowStatus, cookies []*http.Cookie) (bool, error) {
	if status == nil {
		q.logger.Error("no tickets available", "reason", "show status unknown")
		return false, nil
	}

	submission, ok := buildSubmission(status, q.ticketName, q.quantity, q.captchaSolution())
	if !ok {
		q.logger.Error("no tickets available", "event_id", status.EventID, "ticket_name", q.ticketName)
		return false, nil
	}
	if status.CaptchaKind != CaptchaNone {
		q.logger.Debug("event requires captcha", "kind", status.CaptchaKind.String(), "question", status.CaptchaQuestion)
	}

	if _, ok := findCookie(cookies, sessionCookie); !ok {
		return false, ErrNotLoggedIn
	}
	xsrf, _ := findCookie(cookies, xsrfCookie)

	payload, err := json.Marshal(submission)
	if err != nil {
		return false, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	queueURL := fmt.Sprintf(q.endpoints.Queue, status.EventID, xsrf)
	code, body, err := q.api.do(ctx, http.MethodPost, queueURL, payload, cookies)
	if err != nil {
		return false, fmt.Errorf("queue request: %w", err)
	}
	if code != http.StatusOK {
		q.logger.Error("queue request rejected", "stage", "queue", "url", queueURL, "status", code, "body", string(body))
		return false, nil
	}

	var queued queueResponse
	if err := json.Unmarshal(body, &queued); err != nil || queued.Token == "" {
		q.logger.Error("failed to get queue token", "stage", "queue", "body", string(body))
		return false, nil
	}
	q.logger.Info("joined queue", "event_id", status.EventID, "ticket_id", submission.Tickets[0].ID, "quantity", submission.Tickets[0].Quantity)

	pageID, err := q.pollOrderPage(ctx, queued.Token, cookies)
	if err != nil {
		if errors.Is(err, errQueueRejected) {
			return false, nil
		}
		return false, err
	}

	redirectURL := fmt.Sprintf(q.endpoints.OrderPage, status.EventID, pageID)
	if err := q.page.Navigate(ctx, redirectURL); err != nil {
		return false, fmt.Errorf("open order page: %w", err)
	}
	q.logger.Info("order page opened", "url", redirectURL)
	return true, nil
}

var errQueueRejected = errors.New("queue token request rejected")

func (q *QueueJoiner) pollOrderPage(ctx context.Context, token string, cookies []*http.Cookie) (string, error) {
	tokenURL := fmt.Sprintf(q.endpoints.QueueToken, token)

	for attempt := 1; attempt <= q.pollAttempts; attempt++ {
		code, body, err := q.api.do(ctx, http.MethodGet, tokenURL, nil, cookies)
		if err != nil {
			return "", fmt.Errorf("order page id request: %w", err)
		}
		if code != http.StatusOK {
			q.logger.Error("order page id request rejected", "stage", "queue_token", "url", tokenURL, "status", code, "body", string(body))
			return "", errQueueRejected
		}

		var resp orderPageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			q.logger.Error("failed to parse order page id", "stage", "queue_token", "body", string(body), "error", err)
			return "", errQueueRejected
		}
		if pageID := resp.pageID(); pageID != "" {
			return pageID, nil
		}

		q.logger.Warn("failed to get order page id", "attempt", attempt, "max_attempts", q.pollAttempts)
		if attempt < q.pollAttempts {
			if err := sleepContext(ctx, q.pollInterval); err != nil {
				return "", err
			}
		}
	}
	q.logger.Error("order page id never became ready", "stage", "queue_token", "attempts", q.pollAttempts)
	return "", ErrQueueTimeout
}
