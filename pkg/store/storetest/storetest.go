// Package storetest is a conformance suite for vesting.Store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/stretchr/testify/require"
)

var Epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) vesting.Store

// SampleSchedule returns a schedule with every field populated.
func SampleSchedule(id string, beneficiary string) vesting.Schedule {
	return vesting.Schedule{
		ID:              id,
		Beneficiary:     beneficiary,
		TotalAmount:     18_446_744_073_709_551_000,
		ReleasedAmount:  0,
		StartTime:       Epoch.Add(123456789 * time.Nanosecond),
		CliffDuration:   30 * 24 * time.Hour,
		VestingDuration: 120 * 24 * time.Hour,
		CreatedAt:       Epoch,
		Version:         1,
	}
}

// Run exercises the Store contract the engine relies on.
func Run(t *testing.T, factory Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory(t)) })
	t.Run("Listing", func(t *testing.T) { testListing(t, factory(t)) })
	t.Run("UpdateAbortsOnError", func(t *testing.T) { testUpdateAbortsOnError(t, factory(t)) })
	t.Run("UpdateSerializes", func(t *testing.T) { testUpdateSerializes(t, factory(t)) })
	t.Run("Control", func(t *testing.T) { testControl(t, factory(t)) })
}

func testRoundTrip(t *testing.T, store vesting.Store) {
	ctx := t.Context()
	original := SampleSchedule("s-1", "0.0.2002")
	require.NoError(t, store.InsertSchedule(ctx, original))
	require.Error(t, store.InsertSchedule(ctx, original))

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, original.TotalAmount, loaded.TotalAmount)
	require.True(t, original.StartTime.Equal(loaded.StartTime), "start %s != %s", original.StartTime, loaded.StartTime)
	require.Equal(t, original.CliffDuration, loaded.CliffDuration)
	require.Equal(t, original.VestingDuration, loaded.VestingDuration)
	require.True(t, loaded.RevokedAt.IsZero())

	revokedAt := Epoch.Add(40 * 24 * time.Hour)
	updated, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.Revoked = true
		schedule.RevokedAt = revokedAt
		schedule.UnlockedAtRevocation = 400_000
		schedule.Recovered = true
		schedule.RecoveredAmount = 600_000
		schedule.Paused = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), updated.Version)

	loaded, err = store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, loaded.Revoked)
	require.True(t, loaded.RevokedAt.Equal(revokedAt))
	require.Equal(t, uint64(400_000), loaded.UnlockedAtRevocation)
	require.True(t, loaded.Recovered)
	require.Equal(t, uint64(600_000), loaded.RecoveredAmount)
	require.True(t, loaded.Paused)
	require.Equal(t, uint64(2), loaded.Version)
	require.Nil(t, loaded.Pending)

	submittedAt := Epoch.Add(41 * 24 * time.Hour)
	_, err = store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.Pending = &vesting.PendingTransfer{
			Kind:          vesting.TransferKindRecovery,
			TransactionID: "0.0.5005@1735689600.000000001",
			To:            "0.0.6006",
			Amount:        600_000,
			SubmittedAt:   submittedAt,
		}
		return nil
	})
	require.NoError(t, err)

	loaded, err = store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Pending)
	require.Equal(t, vesting.TransferKindRecovery, loaded.Pending.Kind)
	require.Equal(t, "0.0.5005@1735689600.000000001", loaded.Pending.TransactionID)
	require.Equal(t, "0.0.6006", loaded.Pending.To)
	require.Equal(t, uint64(600_000), loaded.Pending.Amount)
	require.True(t, loaded.Pending.SubmittedAt.Equal(submittedAt))

	_, err = store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.Pending = nil
		return nil
	})
	require.NoError(t, err)
	loaded, err = store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Nil(t, loaded.Pending)
	require.Equal(t, uint64(4), loaded.Version)

	_, err = store.GetSchedule(ctx, "missing")
	require.ErrorIs(t, err, vesting.ErrNotFound)
	_, err = store.UpdateSchedule(ctx, "missing", func(ctx context.Context, schedule *vesting.Schedule) error { return nil })
	require.ErrorIs(t, err, vesting.ErrNotFound)
}

func testListing(t *testing.T, store vesting.Store) {
	ctx := t.Context()
	for _, schedule := range []vesting.Schedule{
		SampleSchedule("s-a", "0.0.2002"),
		SampleSchedule("s-b", "0.0.3003"),
		SampleSchedule("s-c", "0.0.2002"),
	} {
		require.NoError(t, store.InsertSchedule(ctx, schedule))
	}

	mine, err := store.ListSchedules(ctx, "0.0.2002")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "s-a", mine[0].ID)
	require.Equal(t, "s-c", mine[1].ID)

	all, err := store.ListAllSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"s-a", "s-b", "s-c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	none, err := store.ListSchedules(ctx, "0.0.9999")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testUpdateAbortsOnError(t *testing.T, store vesting.Store) {
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, SampleSchedule("s-1", "0.0.2002")))

	_, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.ReleasedAmount = 10
		return vesting.ErrTransferFailed
	})
	require.ErrorIs(t, err, vesting.ErrTransferFailed)

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Zero(t, loaded.ReleasedAmount)
	require.Equal(t, uint64(1), loaded.Version)
}

func testUpdateSerializes(t *testing.T, store vesting.Store) {
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, SampleSchedule("s-1", "0.0.2002")))

	const workers = 12
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
				if _, err := store.LoadControl(ctx); err != nil {
					return err
				}
				schedule.ReleasedAmount++
				return nil
			})
			if err != nil {
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, uint64(workers), loaded.ReleasedAmount)
	require.Equal(t, uint64(workers+1), loaded.Version)
}

func testControl(t *testing.T, store vesting.Store) {
	ctx := t.Context()

	initial, err := store.LoadControl(ctx)
	require.NoError(t, err)
	require.False(t, initial.Initialized)
	require.Empty(t, initial.Admins)

	updated, err := store.UpdateControl(ctx, func(ctx context.Context, state *vesting.ControlState) error {
		state.Admins = []string{"0.0.1002", "0.0.1001"}
		state.Initialized = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, updated.Initialized)

	_, err = store.UpdateControl(ctx, func(ctx context.Context, state *vesting.ControlState) error {
		state.Paused = true
		return vesting.ErrUnauthorized
	})
	require.ErrorIs(t, err, vesting.ErrUnauthorized)

	loaded, err := store.LoadControl(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"0.0.1001", "0.0.1002"}, loaded.Admins)
	require.False(t, loaded.Paused)
	require.True(t, loaded.Initialized)
	require.Greater(t, loaded.Version, initial.Version)
}
