package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// parseSpan accepts Go durations plus a whole-day suffix, e.g. "30d".
func parseSpan(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(trimmed, "d"); ok {
		count, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", raw, err)
		}
		if count < 0 || count > maxDays {
			return 0, fmt.Errorf("day count %q is out of range", raw)
		}
		return time.Duration(count) * 24 * time.Hour, nil
	}
	duration, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return duration, nil
}

const maxDays = int64(1<<63-1) / int64(24*time.Hour)

// parseInstant parses RFC 3339; empty means fallback.
func parseInstant(raw string, fallback time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC 3339", raw)
	}
	return parsed, nil
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}
