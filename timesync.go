package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// TimeSync estimates the vendor's clock from HTTP Date headers so sale
// start and end checks use the server's notion of now.
type TimeSync struct {
	client  *http.Client
	servers []string
	logger  *slog.Logger

	mu           sync.RWMutex
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

func NewTimeSync(servers []string, logger *slog.Logger) *TimeSync {
	return &TimeSync{
		client:  &http.Client{Timeout: 5 * time.Second},
		servers: servers,
		logger:  loggerOrDiscard(logger).With("component", "timesync"),
	}
}

// Sync averages the offset reported by every reachable server.
func (ts *TimeSync) Sync(ctx context.Context) error {
	var totalOffset time.Duration
	successCount := 0

	for _, server := range ts.servers {
		offset, err := ts.getTimeOffset(ctx, server)
		if err != nil {
			ts.logger.Debug("time sync failed", "server", server, "error", err)
			continue
		}

		totalOffset += offset
		successCount++
		ts.logger.Debug("time offset measured", "server", server, "offset", offset)
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync time with any server")
	}

	ts.mu.Lock()
	ts.offset = totalOffset / time.Duration(successCount)
	ts.lastSyncTime = time.Now()
	ts.synced = true
	offset := ts.offset
	ts.mu.Unlock()

	ts.logger.Info("time synchronized", "offset", offset)
	return nil
}

func (ts *TimeSync) getTimeOffset(ctx context.Context, url string) (time.Duration, error) {
	beforeRequest := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// Date has one second resolution; half the round trip is the best
	// estimate of when the server stamped it.
	latency := afterRequest.Sub(beforeRequest) / 2
	localTime := beforeRequest.Add(latency)
	return serverTime.Sub(localTime), nil
}

// Now returns local time adjusted by the measured offset.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.synced {
		return time.Now()
	}
	return time.Now().Add(ts.offset)
}

func (ts *TimeSync) IsSynced() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.synced
}

func (ts *TimeSync) GetOffset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// ShouldResync reports whether the last sync is older than an hour.
func (ts *TimeSync) ShouldResync() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if !ts.synced {
		return true
	}
	return time.Since(ts.lastSyncTime) > time.Hour
}
