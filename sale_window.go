package main

import (
	"context"
	"log/slog"
	"time"
)

// SaleWindow holds the queue loop back until shortly before a sale opens.
type SaleWindow struct {
	start    time.Time
	lead     time.Duration
	clock    *TimeSync
	progress time.Duration
	logger   *slog.Logger
}

func NewSaleWindow(start time.Time, lead time.Duration, clock *TimeSync, logger *slog.Logger) *SaleWindow {
	return &SaleWindow{
		start:    start,
		lead:     lead,
		clock:    clock,
		progress: 30 * time.Second,
		logger:   loggerOrDiscard(logger).With("component", "sale_window"),
	}
}

func (w *SaleWindow) activation() time.Time {
	return w.start.Add(-w.lead)
}

func (w *SaleWindow) now() time.Time {
	if w.clock == nil {
		return time.Now()
	}
	return w.clock.Now()
}

// Wait sleeps until the activation time, resyncing the clock hourly and
// logging progress. It returns at once when the window is already open.
func (w *SaleWindow) Wait(ctx context.Context) error {
	target := w.activation()
	if remaining := target.Sub(w.now()); remaining > 0 {
		w.logger.Info("waiting for sale", "sale_time", w.start.Local().Format(time.RFC3339), "starts_in", remaining.Round(time.Second))
	}

	for {
		remaining := target.Sub(w.now())
		if remaining <= 0 {
			return nil
		}
		if remaining < w.progress {
			return sleepContext(ctx, remaining)
		}

		if err := sleepContext(ctx, w.progress); err != nil {
			return err
		}

		if w.clock != nil && w.clock.ShouldResync() {
			if err := w.clock.Sync(ctx); err != nil {
				w.logger.Warn("time resync failed", "error", err)
			}
		}
		if remaining := target.Sub(w.now()); remaining > 0 {
			w.logger.Info("still waiting for sale", "remaining", remaining.Round(time.Second))
		}
	}
}
