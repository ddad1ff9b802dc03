package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(T("done"))
}

type cliOptions struct {
	configPath string
	platform   string
	eventPage  string
	ticketName string
	quantity   int
	autoLogin  bool
	headless   bool
	debug      bool
	saleTime   string
}

func parseFlags(args []string) (*cliOptions, *pflag.FlagSet, error) {
	var opts cliOptions
	flagSet := pflag.NewFlagSet("ticket-helper", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")
	flagSet.StringVarP(&opts.platform, "platform", "p", "", "ticket platform: kktix, kham or tixcraft (overrides config)")
	flagSet.StringVar(&opts.eventPage, "event", "", "kktix event registration page, enables redirect to event page")
	flagSet.StringVar(&opts.ticketName, "ticket", "", "kktix ticket name to buy")
	flagSet.IntVar(&opts.quantity, "quantity", 0, "number of tickets to request")
	flagSet.BoolVar(&opts.autoLogin, "auto-login", false, "log in automatically with configured credentials")
	flagSet.BoolVar(&opts.headless, "headless", false, "run the browser headless")
	flagSet.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flagSet.StringVar(&opts.saleTime, "sale-time", "", "sale start time, e.g. 2025-01-15 16:00 (UTC) or RFC3339")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	return &opts, flagSet, nil
}

// apply overrides config values with flags that were set explicitly.
func (o *cliOptions) apply(config *Config, flagSet *pflag.FlagSet) {
	if o.platform != "" {
		config.Platform = o.platform
	}
	if o.eventPage != "" {
		config.KKTix.EventPage = o.eventPage
		config.KKTix.RedirectToEventPage = true
	}
	if o.ticketName != "" {
		config.KKTix.TicketName = o.ticketName
	}
	if o.quantity > 0 {
		config.KKTix.NumOfTicket = o.quantity
	}
	if flagSet.Changed("auto-login") {
		config.AutoLogin = o.autoLogin
	}
	if flagSet.Changed("headless") {
		config.Headless = o.headless
	}
	if o.debug {
		config.DebugMode = true
	}
	if o.saleTime != "" {
		config.SaleStartTime = o.saleTime
	}
}

func run(args []string) error {
	opts, flagSet, err := parseFlags(args)
	if err != nil {
		return err
	}

	if err := InitLocale(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: locale initialization failed, using keys: %v\n", err)
	}

	config, err := LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.apply(config, flagSet)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(config, os.Stderr)
	logger.Debug("locale loaded", "locale", GetLocale())

	fmt.Println(T("app_title"))
	fmt.Println(T("platform_selected", config.Platform))
	if config.KKTix.EventPage != "" {
		fmt.Println(T("event_page", config.KKTix.EventPage))
	}
	if config.AutoLogin {
		fmt.Println(T("auto_login_enabled"))
	}
	if config.DebugMode {
		fmt.Println(T("debug_mode"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	automation := NewAutomation(config, logger)
	defer automation.Close()

	if err := automation.setupBrowser(); err != nil {
		return err
	}

	page, err := automation.OpenPage(ctx)
	if err != nil {
		return err
	}

	clock := syncClock(ctx, timeServers(config), logger)

	flow := NewTicketFlow(page, config, FlowDeps{
		Logger:     logger,
		Classifier: NewOCRClient(config.OCREndpoint, config.httpTimeout()),
		Clock:      clock,
	})
	defer flow.Close()

	go func() {
		if err := flow.Start(ctx); err != nil && !isCanceled(err) {
			logger.Error("flow start failed", "error", err)
		}
	}()

	go watchPage(ctx, cancel, flow, automation)

	fmt.Println(T("trigger_prompt"))
	runTrigger(ctx, cancel, os.Stdin, flow, logger)

	fmt.Println(T("shutting_down"))
	return nil
}

func timeServers(config *Config) []string {
	platform, _ := ParsePlatform(config.Platform)
	switch platform {
	case PlatformKKTix:
		return []string{kktixEndpoints.Home}
	case PlatformKham:
		return []string{khamEndpoints.Home}
	}
	return []string{"https://tixcraft.com/"}
}

// syncClock measures the vendor clock offset. On failure the returned
// clock falls back to local time.
func syncClock(ctx context.Context, servers []string, logger *slog.Logger) *TimeSync {
	clock := NewTimeSync(servers, logger)
	if err := clock.Sync(ctx); err != nil {
		logger.Warn("using local clock", "error", err)
	}
	if clock.IsSynced() {
		logger.Info("clock synced with vendor", "offset", clock.GetOffset())
	}
	return clock
}

// watchPage cancels the run once the tab or the browser is gone.
func watchPage(ctx context.Context, cancel context.CancelFunc, flow TicketFlow, automation *Automation) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flow.Stop() || !automation.isBrowserAlive() {
				fmt.Println(T("browser_closed_by_user"))
				cancel()
				return
			}
		}
	}
}

// runTrigger reads the console: Enter triggers one GetTicket when the flow
// can buy, ESC or end of input quits.
func runTrigger(ctx context.Context, cancel context.CancelFunc, in io.Reader, flow TicketFlow, logger *slog.Logger) {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		reader := bufio.NewReader(in)
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-keys:
			if !ok || key == 27 {
				fmt.Println(T("user_requested_exit"))
				cancel()
				return
			}
			if key != '\n' && key != '\r' {
				continue
			}
			triggerGetTicket(ctx, flow, logger)
		}
	}
}

func triggerGetTicket(ctx context.Context, flow TicketFlow, logger *slog.Logger) {
	if !flow.CanBuy() {
		fmt.Println(T("cannot_buy_yet"))
		return
	}

	fmt.Println(T("buying"))
	ok, err := flow.GetTicket(ctx)
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		fmt.Println(T("not_logged_in"))
	case err != nil:
		if !isCanceled(err) {
			logger.Error("get ticket failed", "error", err)
			fmt.Println(T("get_ticket_failed", err))
		}
	case ok:
		fmt.Println(T("got_ticket"))
	}
}
