package main

import (
	"context"
	"fmt"
	"time"
)

const (
	kktixLoginForm = "form#new_user"
)

// kktixFlow drives the queue-based purchase of kktix.com.
type kktixFlow struct {
	baseFlow
	endpoints vendorEndpoints
	tracker   *StatusTracker
	joiner    *QueueJoiner
	sale      *SaleWindow
}

func newKKTixFlow(page Page, config *Config, deps FlowDeps, endpoints vendorEndpoints) *kktixFlow {
	k := &kktixFlow{
		baseFlow:  newBaseFlow(page, config, deps.Logger, PlatformKKTix),
		endpoints: endpoints,
	}

	api := newAPIClient(deps.HTTPClient)
	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock.Now
	}

	k.tracker = NewStatusTracker(page, api, endpoints, now,
		config.RefreshRetries, millis(config.RefreshBackoffMs), k.logger)
	k.joiner = NewQueueJoiner(page, api, endpoints,
		config.KKTix.TicketName, config.KKTix.NumOfTicket,
		config.QueuePollAttempts, millis(config.QueuePollIntervalMs), k.logger)
	if config.KKTix.CaptchaAnswer != "" {
		k.joiner.SetCaptchaSolution(CaptchaSolution{Answer: config.KKTix.CaptchaAnswer})
	}

	if config.SaleStartTime != "" {
		if start, err := ParseSaleTime(config.SaleStartTime); err == nil {
			lead := time.Duration(config.StartBeforeSaleSeconds) * time.Second
			k.sale = NewSaleWindow(start, lead, deps.Clock, k.logger)
		} else {
			k.logger.Warn("ignoring sale start time", "error", err)
		}
	}

	page.OnResponse(k.tracker.HandleResponse)
	return k
}

func kktixLoginJS(account, password string) string {
	return fmt.Sprintf(`() => {
		const userForm = document.querySelector("form#new_user");
		const formData = new FormData(userForm);
		formData.set("user[login]", %s);
		formData.set("user[password]", %s);
		fetch(userForm.action, {
			method: "POST",
			body: formData
		}).then(response => response.url)
		.then(url => window.location = url)
		.catch(error => {
			console.error("Error:", error);
			userForm.submit();
		});
	}`, jsString(account), jsString(password))
}

func (k *kktixFlow) AutoLogin(ctx context.Context) error {
	if err := k.page.Navigate(ctx, k.endpoints.Login); err != nil {
		return err
	}
	if err := k.page.WaitSelector(ctx, kktixLoginForm); err != nil {
		return fmt.Errorf("wait for login form: %w", err)
	}

	user := k.config.UserInfo
	if _, err := k.page.Eval(ctx, kktixLoginJS(user.Account, user.Password)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		k.logger.Error("login script failed, please login manually", "error", err)
	}
	return nil
}

// Start logs in, optionally waits for the sale, then keeps joining the
// queue of the configured event page while attempts succeed.
func (k *kktixFlow) Start(ctx context.Context) error {
	if err := k.start(ctx, k.AutoLogin, k.endpoints.Login); err != nil {
		return err
	}

	if !k.config.KKTix.RedirectToEventPage {
		return nil
	}

	if k.sale != nil {
		if err := k.sale.Wait(ctx); err != nil {
			return err
		}
	}

	eventPage := k.config.KKTix.EventPage
	if err := k.page.Navigate(ctx, eventPage); err != nil {
		return err
	}
	err := k.tracker.Refresh(ctx, eventPage)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case isCanceled(err):
		// Superseded by the refresh the navigation itself triggered.
		k.tracker.Wait()
	case err != nil:
		k.logger.Error("failed to get show status", "url", eventPage, "error", err)
		return nil
	}

	for {
		ok, err := k.GetTicket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("get ticket stopped", "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		if err := k.sleep(ctx); err != nil {
			return err
		}
	}
}

func (k *kktixFlow) GetTicket(ctx context.Context) (bool, error) {
	if err := k.page.WaitIdle(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		k.logger.Debug("wait idle failed", "error", err)
	}

	cookies, err := k.page.Cookies(ctx, k.endpoints.CookieURLs...)
	if err != nil {
		return false, err
	}

	return k.joiner.SubmitAndRedirect(ctx, k.tracker.Current(), cookies)
}

func (k *kktixFlow) CanBuy() bool {
	status := k.tracker.Current()
	return status != nil && status.RegisterStatus != registerStatusSoldOut
}

func (k *kktixFlow) Close() {
	k.tracker.Close()
}
