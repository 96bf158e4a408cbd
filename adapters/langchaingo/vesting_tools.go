package langchaingo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/tools"
)

// LedgerReader is the read side of *vesting.Engine.
type LedgerReader interface {
	GetSchedule(ctx context.Context, id string) (vesting.Schedule, error)
	ListSchedules(ctx context.Context, beneficiary string) ([]vesting.Schedule, error)
	Releasable(ctx context.Context, id string, at time.Time) (vesting.ReleasableInfo, error)
	Now() time.Time
}

// ReleasableTool answers "how much can this schedule claim" questions.
type ReleasableTool struct {
	reader    LedgerReader
	Callbacks callbacks.Handler
}

var _ tools.Tool = &ReleasableTool{}

func NewReleasableTool(reader LedgerReader) *ReleasableTool {
	return &ReleasableTool{reader: reader}
}

func (t *ReleasableTool) Name() string {
	return "Vesting_Releasable_Amount"
}

func (t *ReleasableTool) Description() string {
	return `Reports the vested and currently claimable token amounts for a vesting schedule.
Input is a schedule ID, optionally followed by a space and an RFC 3339 timestamp to evaluate at a
different instant (e.g. "3f2c... 2026-01-01T00:00:00Z"). Amounts are token base units.`
}

type releasableOutput struct {
	ScheduleID     string    `json:"scheduleId"`
	Beneficiary    string    `json:"beneficiary"`
	At             time.Time `json:"at"`
	TotalAmount    uint64    `json:"totalAmount"`
	ReleasedAmount uint64    `json:"releasedAmount"`
	Vested         uint64    `json:"vested"`
	Releasable     uint64    `json:"releasable"`
	CliffEnd       time.Time `json:"cliffEnd"`
	VestingEnd     time.Time `json:"vestingEnd"`
	Revoked        bool      `json:"revoked"`
	Paused         bool      `json:"paused"`
}

// Call never returns an error for bad input; the message goes back to the
// model so it can correct itself.
func (t *ReleasableTool) Call(ctx context.Context, input string) (string, error) {
	if t.Callbacks != nil {
		t.Callbacks.HandleToolStart(ctx, input)
	}

	fields := strings.Fields(input)
	if len(fields) == 0 || len(fields) > 2 {
		return t.fail(ctx, fmt.Errorf("expected a schedule ID and an optional RFC 3339 timestamp"))
	}
	at := t.reader.Now()
	if len(fields) == 2 {
		parsed, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			return t.fail(ctx, fmt.Errorf("invalid timestamp %q", fields[1]))
		}
		at = parsed
	}

	schedule, err := t.reader.GetSchedule(ctx, fields[0])
	if err != nil {
		return t.fail(ctx, err)
	}
	info, err := t.reader.Releasable(ctx, schedule.ID, at)
	if err != nil {
		return t.fail(ctx, err)
	}

	output, err := encode(releasableOutput{
		ScheduleID:     schedule.ID,
		Beneficiary:    schedule.Beneficiary,
		At:             info.At,
		TotalAmount:    schedule.TotalAmount,
		ReleasedAmount: schedule.ReleasedAmount,
		Vested:         info.Vested,
		Releasable:     info.Releasable,
		CliffEnd:       schedule.CliffEnd(),
		VestingEnd:     schedule.VestingEnd(),
		Revoked:        schedule.Revoked,
		Paused:         schedule.Paused,
	})
	if err != nil {
		return "", err
	}
	if t.Callbacks != nil {
		t.Callbacks.HandleToolEnd(ctx, output)
	}
	return output, nil
}

func (t *ReleasableTool) fail(ctx context.Context, err error) (string, error) {
	if t.Callbacks != nil {
		t.Callbacks.HandleToolError(ctx, err)
	}
	return fmt.Sprintf("Failed to evaluate schedule: %v", err), nil
}

// BeneficiarySchedulesTool lists every schedule granted to an account.
type BeneficiarySchedulesTool struct {
	reader    LedgerReader
	Callbacks callbacks.Handler
}

var _ tools.Tool = &BeneficiarySchedulesTool{}

func NewBeneficiarySchedulesTool(reader LedgerReader) *BeneficiarySchedulesTool {
	return &BeneficiarySchedulesTool{reader: reader}
}

func (t *BeneficiarySchedulesTool) Name() string {
	return "Vesting_Beneficiary_Schedules"
}

func (t *BeneficiarySchedulesTool) Description() string {
	return `Lists the vesting schedules granted to an account, with how much each can claim right now.
Input is the beneficiary account ID (e.g. 0.0.2002).`
}

type scheduleSummary struct {
	ScheduleID     string `json:"scheduleId"`
	TotalAmount    uint64 `json:"totalAmount"`
	ReleasedAmount uint64 `json:"releasedAmount"`
	Releasable     uint64 `json:"releasable"`
	Revoked        bool   `json:"revoked"`
	Paused         bool   `json:"paused"`
}

func (t *BeneficiarySchedulesTool) Call(ctx context.Context, input string) (string, error) {
	if t.Callbacks != nil {
		t.Callbacks.HandleToolStart(ctx, input)
	}

	beneficiary := strings.TrimSpace(input)
	if beneficiary == "" {
		return t.fail(ctx, fmt.Errorf("a beneficiary account ID is required"))
	}
	schedules, err := t.reader.ListSchedules(ctx, beneficiary)
	if err != nil {
		return t.fail(ctx, err)
	}

	now := t.reader.Now()
	summaries := make([]scheduleSummary, 0, len(schedules))
	for _, schedule := range schedules {
		releasable, err := vesting.ReleasableAmount(schedule, now)
		if err != nil {
			return t.fail(ctx, err)
		}
		summaries = append(summaries, scheduleSummary{
			ScheduleID:     schedule.ID,
			TotalAmount:    schedule.TotalAmount,
			ReleasedAmount: schedule.ReleasedAmount,
			Releasable:     releasable,
			Revoked:        schedule.Revoked,
			Paused:         schedule.Paused,
		})
	}

	output, err := encode(summaries)
	if err != nil {
		return "", err
	}
	if t.Callbacks != nil {
		t.Callbacks.HandleToolEnd(ctx, output)
	}
	return output, nil
}

func (t *BeneficiarySchedulesTool) fail(ctx context.Context, err error) (string, error) {
	if t.Callbacks != nil {
		t.Callbacks.HandleToolError(ctx, err)
	}
	return fmt.Sprintf("Failed to list schedules: %v", err), nil
}

func encode(value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(data), nil
}
