package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// CaptchaChannel holds the request id of the latest intercepted captcha
// image. A newer image replaces an unconsumed older one.
type CaptchaChannel struct {
	mu        sync.Mutex
	requestID string
	live      bool
}

// Offer is called from the network feed for every captcha response.
func (c *CaptchaChannel) Offer(requestID string) {
	c.mu.Lock()
	c.requestID = requestID
	c.live = true
	c.mu.Unlock()
}

// TakeLatest returns and clears the current request id.
func (c *CaptchaChannel) TakeLatest() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return "", false
	}
	id := c.requestID
	c.requestID = ""
	c.live = false
	return id, true
}

// Classifier reads the text of a captcha image.
type Classifier interface {
	Classify(ctx context.Context, img []byte) (string, error)
}

const captchaCodeLength = 4

// CaptchaResolver turns the next intercepted captcha image into a code.
type CaptchaResolver struct {
	channel      *CaptchaChannel
	page         Page
	ocr          Classifier
	maxAttempts  int
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewCaptchaResolver(channel *CaptchaChannel, page Page, ocr Classifier, maxAttempts int, pollInterval time.Duration, logger *slog.Logger) *CaptchaResolver {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &CaptchaResolver{
		channel:      channel,
		page:         page,
		ocr:          ocr,
		maxAttempts:  maxAttempts,
		pollInterval: pollInterval,
		logger:       loggerOrDiscard(logger).With("component", "captcha"),
	}
}

// Resolve waits for a captcha image and returns its upper-cased four
// character code. It makes a single OCR attempt; retrying is up to the caller.
func (r *CaptchaResolver) Resolve(ctx context.Context) (string, error) {
	requestID, err := r.waitForImage(ctx)
	if err != nil {
		return "", err
	}

	body, isBase64, err := r.page.ResponseBody(ctx, requestID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Error("response body not found", "request_id", requestID, "error", err)
		return "", fmt.Errorf("get captcha response body: %w", err)
	}
	if !isBase64 {
		r.logger.Error("response body is not base64, can't decode", "request_id", requestID)
		return "", ErrCaptchaNotBinary
	}

	img, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		r.logger.Error("captcha body decode failed", "request_id", requestID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrCaptchaNotBinary, err)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		r.logger.Error("captcha image decode failed", "request_id", requestID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrCaptchaImage, err)
	}
	r.logger.Debug("captcha image received", "request_id", requestID, "format", format, "bytes", len(img))

	text, err := r.ocr.Classify(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Error("OCR failed", "error", err)
		return "", fmt.Errorf("classify captcha: %w", err)
	}

	code := strings.ToUpper(strings.TrimSpace(text))
	if len([]rune(code)) != captchaCodeLength {
		r.logger.Error("OCR failed", "result", code)
		return "", fmt.Errorf("%w: got %q", ErrCaptchaShape, code)
	}

	r.logger.Debug("captcha resolved", "code", code)
	return code, nil
}

func (r *CaptchaResolver) waitForImage(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		if id, ok := r.channel.TakeLatest(); ok {
			return id, nil
		}
		if attempt >= r.maxAttempts {
			r.logger.Error("doesn't receive captcha source", "attempts", r.maxAttempts, "interval", r.pollInterval)
			return "", ErrNoCaptchaSource
		}
		if err := sleepContext(ctx, r.pollInterval); err != nil {
			return "", err
		}
	}
}
