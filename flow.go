package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// TicketFlow is one vendor's login and purchase behaviour.
type TicketFlow interface {
	// Start performs auto login when configured and any vendor-specific
	// startup, such as the kktix queue loop.
	Start(ctx context.Context) error
	AutoLogin(ctx context.Context) error
	// GetTicket makes one purchase attempt. Only precondition violations
	// are returned as errors.
	GetTicket(ctx context.Context) (bool, error)
	CanBuy() bool
	// Stop reports whether the underlying page has been closed.
	Stop() bool
	Close()
}

// FlowDeps are the collaborators shared by every flow.
type FlowDeps struct {
	Logger     *slog.Logger
	Classifier Classifier
	HTTPClient *http.Client
	Clock      *TimeSync
}

// NewTicketFlow selects the flow for config.Platform. Unknown or
// unsupported platforms get a flow whose actions only log a warning.
func NewTicketFlow(page Page, config *Config, deps FlowDeps) TicketFlow {
	logger := loggerOrDiscard(deps.Logger)

	platform, ok := ParsePlatform(config.Platform)
	if !ok {
		logger.Warn("invalid ticket web, set to default", "platform", config.Platform, "default", DefaultPlatform)
	}

	switch platform {
	case PlatformKham:
		return newKhamFlow(page, config, deps, khamEndpoints)
	case PlatformKKTix:
		return newKKTixFlow(page, config, deps, kktixEndpoints)
	}

	logger.Warn("auto login is not supported", "platform", platform)
	return &unsupportedFlow{baseFlow: newBaseFlow(page, config, logger, platform)}
}

type baseFlow struct {
	page     Page
	config   *Config
	platform Platform
	logger   *slog.Logger
}

func newBaseFlow(page Page, config *Config, logger *slog.Logger, platform Platform) baseFlow {
	return baseFlow{
		page:     page,
		config:   config,
		platform: platform,
		logger:   loggerOrDiscard(logger).With("platform", string(platform)),
	}
}

func (b *baseFlow) start(ctx context.Context, login func(context.Context) error, loginURL string) error {
	if !b.config.AutoLogin {
		return nil
	}
	b.logger.Debug("auto login", "url", loginURL)
	return login(ctx)
}

func (b *baseFlow) Stop() bool {
	return b.page.Closed()
}

func (b *baseFlow) sleep(ctx context.Context) error {
	return sleepContext(ctx, millis(b.config.RetryDelayMs))
}

// waitURLChange polls the page URL until it differs from "from" or the
// configured timeout passes.
func (b *baseFlow) waitURLChange(ctx context.Context, from string) bool {
	deadline := time.Now().Add(millis(b.config.URLChangeTimeoutMs))
	for {
		if current := b.page.URL(); current != "" && current != from {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if err := sleepContext(ctx, 100*time.Millisecond); err != nil {
			return false
		}
	}
}

type unsupportedFlow struct {
	baseFlow
}

func (u *unsupportedFlow) Start(ctx context.Context) error {
	return u.start(ctx, u.AutoLogin, "")
}

func (u *unsupportedFlow) AutoLogin(ctx context.Context) error {
	u.logger.Warn("auto login is not supported for this platform")
	return nil
}

func (u *unsupportedFlow) GetTicket(ctx context.Context) (bool, error) {
	u.logger.Warn("get ticket is not supported for this platform")
	return false, nil
}

func (u *unsupportedFlow) CanBuy() bool { return false }

func (u *unsupportedFlow) Close() {}

// jsString renders s as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
