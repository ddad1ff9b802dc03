package main

import (
	"context"
	"net/http"

	"github.com/ysmood/gson"
)

// ResponseEvent is one network response observed by the browser.
type ResponseEvent struct {
	URL       string
	RequestID string
}

// Page is the browser tab the ticket flows drive. Automation provides the
// rod implementation; tests use a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitIdle(ctx context.Context) error
	// Eval runs a JS function expression such as "() => document.title"
	// in the page and returns its JSON value.
	Eval(ctx context.Context, js string) (gson.JSON, error)
	WaitSelector(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string) error
	URL() string
	Cookies(ctx context.Context, urls ...string) ([]*http.Cookie, error)
	// ResponseBody returns the body of an observed response and whether
	// it is base64 encoded.
	ResponseBody(ctx context.Context, requestID string) (string, bool, error)
	// OnResponse registers fn for every network response. fn runs on the
	// event goroutine and must not block.
	OnResponse(fn func(ResponseEvent))
	Closed() bool
}
