package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

var (
	ErrNoCaptchaSource  = errors.New("no captcha source received")
	ErrCaptchaNotBinary = errors.New("captcha response body is not base64 encoded")
	ErrCaptchaImage     = errors.New("captcha response body is not a decodable image")
	ErrCaptchaShape     = errors.New("OCR result is not four characters")

	ErrNoEventID        = errors.New("event id not found in url")
	ErrRefreshExhausted = errors.New("show status refresh retries exhausted")

	// ErrNotLoggedIn means the session cookie is missing. Callers must
	// re-authenticate instead of retrying.
	ErrNotLoggedIn = errors.New("user not logged in")

	// ErrQueueTimeout is returned when the order page id never became
	// ready within the poll budget. It is distinct from a rejected request.
	ErrQueueTimeout = errors.New("timed out waiting for order page id")
)

// HTTPStatusError carries the body of an unexpected vendor response so it
// can be logged with the stage that produced it.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// isNetworkError checks if an error is a network/timeout error that should be retried
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var (
		statusErr *HTTPStatusError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &statusErr) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "Client.Timeout") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host")
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// retryOnNetworkError wraps an idempotent operation with retry logic for
// network/timeout errors. Non-network errors return immediately.
func retryOnNetworkError(ctx context.Context, logger *slog.Logger, attempts int, operationName string, operation func() error) error {
	var err error
	for attemptNum := 1; attemptNum <= attempts; attemptNum++ {
		err = operation()
		if err == nil || !isNetworkError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attemptNum == attempts {
			break
		}

		delay := time.Duration(200+rand.Intn(300)) * time.Millisecond
		logger.Warn("network error, retrying",
			"operation", operationName,
			"attempt", attemptNum,
			"delay", delay,
			"error", err,
		)
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
