// Package sqlrow converts schedule fields to and from the column encodings
// shared by the SQL stores. Amounts are decimal text so the full uint64
// range survives drivers that reject unsigned values above MaxInt64. Times
// are RFC 3339 text with nanoseconds.
package sqlrow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
)

func FormatAmount(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func ParseAmount(column string, raw string) (uint64, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return value, nil
}

func FormatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func ParseTime(column string, raw string) (time.Time, error) {
	value, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return value.UTC(), nil
}

// FormatOptionalTime maps the zero time to nil.
func FormatOptionalTime(value time.Time) *string {
	if value.IsZero() {
		return nil
	}
	formatted := FormatTime(value)
	return &formatted
}

func ParseOptionalTime(column string, raw *string) (time.Time, error) {
	if raw == nil || *raw == "" {
		return time.Time{}, nil
	}
	return ParseTime(column, *raw)
}

func FormatAdmins(admins []string) (string, error) {
	if admins == nil {
		admins = []string{}
	}
	data, err := json.Marshal(admins)
	if err != nil {
		return "", fmt.Errorf("failed to encode admins: %w", err)
	}
	return string(data), nil
}

func ParseAdmins(raw string) ([]string, error) {
	admins := []string{}
	if raw == "" {
		return admins, nil
	}
	if err := json.Unmarshal([]byte(raw), &admins); err != nil {
		return nil, fmt.Errorf("failed to decode admins: %w", err)
	}
	return admins, nil
}

// FormatPending encodes a pending transfer as JSON, or nil when there is none.
func FormatPending(pending *vesting.PendingTransfer) (*string, error) {
	if pending == nil {
		return nil, nil
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending transfer: %w", err)
	}
	encoded := string(data)
	return &encoded, nil
}

func ParsePending(raw *string) (*vesting.PendingTransfer, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var pending vesting.PendingTransfer
	if err := json.Unmarshal([]byte(*raw), &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending transfer: %w", err)
	}
	return &pending, nil
}
