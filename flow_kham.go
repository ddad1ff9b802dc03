package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	khamCaptchaURLFragment = "pic.aspx"
	khamCaptchaInput       = "input#CHK"
	khamPerformanceMarker  = "PERFORMANCE_ID"
	khamAddToCartJS        = `() => addShoppingCart()`
)

// khamFlow drives the captcha-protected purchase form of kham.com.tw.
type khamFlow struct {
	baseFlow
	endpoints vendorEndpoints
	channel   *CaptchaChannel
	resolver  *CaptchaResolver
}

func newKhamFlow(page Page, config *Config, deps FlowDeps, endpoints vendorEndpoints) *khamFlow {
	k := &khamFlow{
		baseFlow:  newBaseFlow(page, config, deps.Logger, PlatformKham),
		endpoints: endpoints,
		channel:   &CaptchaChannel{},
	}
	k.resolver = NewCaptchaResolver(k.channel, page, deps.Classifier,
		config.CaptchaWaitAttempts, millis(config.CaptchaPollIntervalMs), k.logger)
	page.OnResponse(k.handleResponse)
	return k
}

func (k *khamFlow) handleResponse(event ResponseEvent) {
	if strings.Contains(event.URL, khamCaptchaURLFragment) {
		k.logger.Debug("captcha url", "url", event.URL)
		k.channel.Offer(event.RequestID)
	}
}

func (k *khamFlow) Start(ctx context.Context) error {
	return k.start(ctx, k.AutoLogin, k.endpoints.Login)
}

func khamLoginJS(account, password, code string) string {
	return fmt.Sprintf(`() => {
		const o = {
			"ACCOUNT": %s,
			"PASSWORD": "㎞" + window.btoa(%s),
			"CHK": %s,
		};
		DoPost("action=DO_LOGIN&post=" + encodeURIComponent(JSON.stringify(o)), "/Application/UTK13/UTK1306_.aspx", function(i, n) {
			hideProcess()
		});
	}`, jsString(account), jsString(password), jsString(code))
}

// AutoLogin fills the login form with a solved captcha. Failures are
// logged so the operator can log in by hand.
func (k *khamFlow) AutoLogin(ctx context.Context) error {
	if err := k.page.Navigate(ctx, k.endpoints.Login); err != nil {
		return err
	}

	code, err := k.resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		k.logger.Error("captcha solve failed, please login manually", "error", err)
		return nil
	}

	k.logger.Debug("login...")
	currentURL := k.page.URL()
	user := k.config.UserInfo
	if _, err := k.page.Eval(ctx, khamLoginJS(user.Account, user.Password, code)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		k.logger.Error("login script failed, please login manually", "error", err)
		return nil
	}

	if k.waitURLChange(ctx, currentURL) {
		k.logger.Debug("login done")
	} else {
		k.logger.Error("login failed, please login manually")
	}
	return nil
}

// GetTicket keeps solving the captcha and adding to cart until the page
// moves on, the page closes, or ctx is cancelled.
func (k *khamFlow) GetTicket(ctx context.Context) (bool, error) {
	k.logger.Info("start get ticket")

	if err := k.page.WaitSelector(ctx, khamCaptchaInput); err != nil {
		return false, fmt.Errorf("wait for captcha input: %w", err)
	}

	currentURL := k.page.URL()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if k.page.Closed() {
			return false, nil
		}

		code, err := k.resolver.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, ErrNoCaptchaSource) {
				k.logger.Debug("still waiting for a captcha image", "attempt", attempt)
			}
			continue
		}

		if err := k.page.Input(ctx, khamCaptchaInput, code); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			k.logger.Warn("failed to type captcha", "error", err)
			continue
		}

		if _, err := k.page.Eval(ctx, khamAddToCartJS); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			k.logger.Warn("add to cart failed", "attempt", attempt, "error", err)
		}

		if k.waitURLChange(ctx, currentURL) {
			k.logger.Info("got ticket", "attempts", attempt, "url", k.page.URL())
			return true, nil
		}
	}
}

func (k *khamFlow) CanBuy() bool {
	return strings.Contains(k.page.URL(), khamPerformanceMarker)
}

func (k *khamFlow) Close() {}
