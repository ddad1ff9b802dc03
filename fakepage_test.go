package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/ysmood/gson"
	"golang.org/x/image/bmp"
)

type fakeBody struct {
	body     string
	isBase64 bool
}

// fakePage is a scripted Page. evalFn, when set, answers Eval; otherwise
// Eval returns null.
type fakePage struct {
	mu          sync.Mutex
	url         string
	closed      bool
	navigations []string
	evals       []string
	inputs      map[string]string
	cookies     []*http.Cookie
	bodies      map[string]fakeBody
	handlers    []func(ResponseEvent)
	selectorErr error

	evalFn func(ctx context.Context, js string) (gson.JSON, error)
}

func newFakePage() *fakePage {
	return &fakePage{
		inputs: map[string]string{},
		bodies: map[string]fakeBody{},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) WaitIdle(ctx context.Context) error {
	return ctx.Err()
}

func (p *fakePage) Eval(ctx context.Context, js string) (gson.JSON, error) {
	p.mu.Lock()
	p.evals = append(p.evals, js)
	fn := p.evalFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, js)
	}
	return gson.New(nil), nil
}

func (p *fakePage) WaitSelector(ctx context.Context, selector string) error {
	if p.selectorErr != nil {
		return p.selectorErr
	}
	return ctx.Err()
}

func (p *fakePage) Input(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	p.inputs[selector] = text
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *fakePage) Cookies(ctx context.Context, urls ...string) ([]*http.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) ResponseBody(ctx context.Context, requestID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bodies[requestID]
	if !ok {
		return "", false, errors.New("no resource with given identifier")
	}
	return b.body, b.isBase64, nil
}

func (p *fakePage) OnResponse(fn func(ResponseEvent)) {
	p.mu.Lock()
	p.handlers = append(p.handlers, fn)
	p.mu.Unlock()
}

// emit delivers event to every registered handler, like the network feed.
func (p *fakePage) emit(event ResponseEvent) {
	p.mu.Lock()
	handlers := append([]func(ResponseEvent){}, p.handlers...)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
}

func (p *fakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.navigations...)
}

func (p *fakePage) input(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs[selector]
}

type fakeClassifier struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (c *fakeClassifier) Classify(ctx context.Context, img []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.text, c.err
}

// testPNG returns a tiny base64 encoded PNG.
func testPNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 2))); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testBMP(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("Failed to encode BMP: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// testEndpoints points every vendor URL at base.
func testEndpoints(base string) vendorEndpoints {
	return vendorEndpoints{
		Home:         base + "/",
		Login:        base + "/users/sign_in",
		BaseInfo:     base + "/g/events/%s/base_info",
		RegisterInfo: base + "/g/events/%s/register_info",
		Queue:        base + "/queue/%s?authenticity_token=%s",
		QueueToken:   base + "/queue/token/%s",
		OrderPage:    base + "/events/%s/registrations/%s",
		CookieURLs:   []string{base + "/"},
	}
}

type logEntry struct {
	level slog.Level
	msg   string
	attrs map[string]string
}

// logRecorder is a slog.Handler keeping every record it receives.
type logRecorder struct {
	mu      *sync.Mutex
	entries *[]logEntry
	attrs   []slog.Attr
}

func newLogRecorder() *logRecorder {
	return &logRecorder{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, record slog.Record) error {
	entry := logEntry{level: record.Level, msg: record.Message, attrs: map[string]string{}}
	for _, a := range r.attrs {
		entry.attrs[a.Key] = a.Value.String()
	}
	record.Attrs(func(a slog.Attr) bool {
		entry.attrs[a.Key] = a.Value.String()
		return true
	})

	r.mu.Lock()
	*r.entries = append(*r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *logRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *r
	next.attrs = append(append([]slog.Attr{}, r.attrs...), attrs...)
	return &next
}

func (r *logRecorder) WithGroup(string) slog.Handler { return r }

func (r *logRecorder) logger() *slog.Logger { return slog.New(r) }

func (r *logRecorder) records() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logEntry(nil), *r.entries...)
}

// find returns the first record with msg.
func (r *logRecorder) find(msg string) (logEntry, bool) {
	for _, e := range r.records() {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (r *logRecorder) assertNoErrors(t *testing.T) {
	t.Helper()
	for _, e := range r.records() {
		if e.level >= slog.LevelError {
			t.Errorf("Unexpected error record %q %v", e.msg, e.attrs)
		}
	}
}
