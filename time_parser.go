package main

import (
	"fmt"
	"strings"
	"time"
)

// vendorTimeLayouts lists the timestamp shapes seen in vendor event data,
// e.g. "2024-05-01T12:00:00.000+08:00".
var vendorTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseVendorTime parses an ISO-8601 timestamp from an event payload.
// Values without a zone are taken as UTC.
func parseVendorTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range vendorTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid vendor time %q", value)
}

// ParseSaleTime parses the operator's sale start time.
// Supports (zone-less forms are UTC):
//   - "2025-01-15 16:00"
//   - "2025-01-15 16:00:00"
//   - "2025-01-15 16:00 UTC"
//   - "2025-01-15T16:00:00+08:00" (RFC3339)
func ParseSaleTime(timeStr string) (time.Time, error) {
	timeStr = strings.TrimSpace(timeStr)
	timeStr = strings.TrimSpace(strings.TrimSuffix(timeStr, "UTC"))

	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, timeStr, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format '%s'. Use format: YYYY-MM-DD HH:MM (e.g., 2025-01-15 16:00, UTC) or RFC3339", timeStr)
}
