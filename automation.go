package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Automation owns the launched browser process.
type Automation struct {
	config   *Config
	logger   *slog.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewAutomation(config *Config, logger *slog.Logger) *Automation {
	return &Automation{
		config: config,
		logger: loggerOrDiscard(logger).With("component", "browser"),
	}
}

func (a *Automation) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Debug("browser close failed", "error", err)
		}
	}

	if a.launcher != nil {
		a.launcher.Cleanup()
	}

	a.logger.Info("browser destroyed")
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	if _, err := a.browser.Version(); err != nil {
		a.logger.Debug("browser version check failed", "error", err)
		return false
	}
	return true
}

func (a *Automation) setupBrowser() error {
	a.logger.Info("launching browser")

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	chromePath, chromeExists := launcher.LookPath()

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// Must be set before Bin() to be applied
	if a.config.BrowserProfilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.config.BrowserProfilePath)
		a.logger.Debug("browser profile set", "path", a.config.BrowserProfilePath)
	}

	if chromeExists {
		a.launcher = a.launcher.Bin(chromePath)
		a.logger.Debug("using system chrome", "path", chromePath)
	} else {
		a.logger.Info("system chrome not found, downloading chromium")
	}

	url, err := a.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			return fmt.Errorf("browser profile %s is in use by another chrome, close it and try again: %w", a.config.BrowserProfilePath, err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	a.browser = browser

	a.logger.Info("browser launched")
	return nil
}

// OpenPage creates a stealth tab and starts feeding its network responses
// to registered handlers until ctx is done.
func (a *Automation) OpenPage(ctx context.Context) (*RodPage, error) {
	if a.browser == nil {
		return nil, errors.New("browser not initialized")
	}

	page, err := stealth.Page(a.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUserAgent}); err != nil {
		a.logger.Debug("failed to set user agent", "error", err)
	}

	p := &RodPage{page: page, logger: a.logger}
	if err := p.listen(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// RodPage adapts a rod tab to the Page contract.
type RodPage struct {
	page   *rod.Page
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []func(ResponseEvent)
}

func (p *RodPage) listen(ctx context.Context) error {
	if err := (proto.NetworkEnable{}).Call(p.page); err != nil {
		return fmt.Errorf("failed to enable network events: %w", err)
	}

	wait := p.page.Context(ctx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		event := ResponseEvent{URL: e.Response.URL, RequestID: string(e.RequestID)}

		p.mu.RLock()
		handlers := p.handlers
		p.mu.RUnlock()

		for _, handler := range handlers {
			handler(event)
		}
	})
	go wait()
	return nil
}

func (p *RodPage) OnResponse(fn func(ResponseEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handlers := make([]func(ResponseEvent), len(p.handlers), len(p.handlers)+1)
	copy(handlers, p.handlers)
	p.handlers = append(handlers, fn)
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page %s failed to load: %w", url, err)
	}
	return nil
}

func (p *RodPage) WaitIdle(ctx context.Context) error {
	return p.page.Context(ctx).WaitIdle(time.Minute)
}

func (p *RodPage) Eval(ctx context.Context, js string) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (p *RodPage) WaitSelector(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

func (p *RodPage) Input(ctx context.Context, selector, text string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (p *RodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *RodPage) Cookies(ctx context.Context, urls ...string) ([]*http.Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	result := make([]*http.Cookie, 0, len(cookies))
	for _, cookie := range cookies {
		var expires time.Time
		if cookie.Expires > 0 {
			expires = time.Unix(int64(cookie.Expires), 0)
		}

		result = append(result, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		})
	}
	return result, nil
}

func (p *RodPage) ResponseBody(ctx context.Context, requestID string) (string, bool, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: proto.NetworkRequestID(requestID)}.Call(p.page.Context(ctx))
	if err != nil {
		return "", false, err
	}
	return res.Body, res.Base64Encoded, nil
}

// Closed reports whether the tab is gone.
func (p *RodPage) Closed() bool {
	_, err := p.page.Info()
	return err != nil
}
