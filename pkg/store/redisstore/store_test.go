package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/storetest"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(Options{Client: client, Prefix: "test", LockTimeout: 2 * time.Second})
	require.NoError(t, err)
	return store, mr
}

func sampleSchedule(id string, beneficiary string) vesting.Schedule {
	return vesting.Schedule{
		ID:              id,
		Beneficiary:     beneficiary,
		TotalAmount:     1_000_000,
		StartTime:       testEpoch,
		CliffDuration:   30 * 24 * time.Hour,
		VestingDuration: 120 * 24 * time.Hour,
		CreatedAt:       testEpoch,
		Version:         1,
	}
}

func TestInsertAndList(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-2", "0.0.3003")))
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-3", "0.0.2002")))
	require.Error(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	require.True(t, mr.Exists("test:schedule:s-1"))

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), loaded.TotalAmount)
	require.True(t, loaded.StartTime.Equal(testEpoch))
	require.Equal(t, 120*24*time.Hour, loaded.VestingDuration)

	mine, err := store.ListSchedules(ctx, "0.0.2002")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "s-1", mine[0].ID)
	require.Equal(t, "s-3", mine[1].ID)

	all, err := store.ListAllSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	none, err := store.ListSchedules(ctx, "0.0.9999")
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = store.GetSchedule(ctx, "missing")
	require.True(t, errors.Is(err, vesting.ErrNotFound))
}

func TestUpdateScheduleCommitsOnlyOnSuccess(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	_, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.ReleasedAmount = 10
		return vesting.ErrTransferFailed
	})
	require.ErrorIs(t, err, vesting.ErrTransferFailed)

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Zero(t, loaded.ReleasedAmount)
	require.Equal(t, uint64(1), loaded.Version)

	updated, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		schedule.ReleasedAmount = 250_000
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(250_000), updated.ReleasedAmount)
	require.Equal(t, uint64(2), updated.Version)
	require.False(t, mr.Exists("test:lock:s-1"))
}

func TestUpdateScheduleWaitsForLock(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	require.NoError(t, mr.Set("test:lock:s-1", "someone-else"))
	shortStore, err := New(Options{Client: store.client, Prefix: "test", LockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = shortStore.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		return nil
	})
	require.ErrorIs(t, err, ErrLockTimeout)

	mr.Del("test:lock:s-1")
	_, err = shortStore.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateScheduleDetectsLostLock(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	_, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		require.NoError(t, mr.Set("test:lock:s-1", "stolen"))
		schedule.ReleasedAmount = 1
		return nil
	})
	require.ErrorIs(t, err, ErrLockLost)

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Zero(t, loaded.ReleasedAmount)
	require.Equal(t, "stolen", mustGet(t, mr, "test:lock:s-1"))
}

func TestExpiredLockCommitsWhenNobodyElseWrote(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	shortStore, err := New(Options{Client: store.client, Prefix: "test", LockTTL: time.Second})
	require.NoError(t, err)

	updated, err := shortStore.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		mr.FastForward(2 * time.Second)
		require.False(t, mr.Exists("test:lock:s-1"))
		schedule.ReleasedAmount = 1_000
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), updated.ReleasedAmount)

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), loaded.ReleasedAmount)
}

func TestExpiredLockRejectsWriteAfterAnotherHolder(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	shortStore, err := New(Options{Client: store.client, Prefix: "test", LockTTL: time.Second})
	require.NoError(t, err)

	_, err = shortStore.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		mr.FastForward(2 * time.Second)
		_, err := store.UpdateSchedule(context.Background(), "s-1", func(ctx context.Context, other *vesting.Schedule) error {
			other.Paused = true
			return nil
		})
		require.NoError(t, err)
		schedule.ReleasedAmount = 1_000
		return nil
	})
	require.ErrorIs(t, err, ErrLockLost)

	loaded, err := store.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, loaded.Paused)
	require.Zero(t, loaded.ReleasedAmount)
}

func TestLockIsRenewedWhileMutationRuns(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	renewing, err := New(Options{Client: store.client, Prefix: "test", LockTTL: 30 * time.Millisecond})
	require.NoError(t, err)

	_, err = renewing.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
		mr.FastForward(20 * time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL("test:lock:s-1") == 30*time.Millisecond
		}, time.Second, 5*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("test:lock:s-1"))
}

func TestInsertScheduleIsAtomic(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))
	require.Error(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.3003")))

	all, err := mr.List("test:schedules")
	require.NoError(t, err)
	require.Equal(t, []string{"s-1"}, all)
	mine, err := mr.List("test:beneficiary:0.0.2002")
	require.NoError(t, err)
	require.Equal(t, []string{"s-1"}, mine)
	require.False(t, mr.Exists("test:beneficiary:0.0.3003"))
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := t.Context()
	require.NoError(t, store.InsertSchedule(ctx, sampleSchedule("s-1", "0.0.2002")))

	const workers = 16
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := store.UpdateSchedule(ctx, "s-1", func(ctx context.Context, schedule *vesting.Schedule) error {
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

func TestControlState(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := t.Context()

	initial, err := store.LoadControl(ctx)
	require.NoError(t, err)
	require.False(t, initial.Initialized)
	require.Empty(t, initial.Admins)

	updated, err := store.UpdateControl(ctx, func(ctx context.Context, state *vesting.ControlState) error {
		state.Admins = []string{"0.0.1001"}
		state.Initialized = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), updated.Version)

	_, err = store.UpdateControl(ctx, func(ctx context.Context, state *vesting.ControlState) error {
		state.Paused = true
		return vesting.ErrUnauthorized
	})
	require.ErrorIs(t, err, vesting.ErrUnauthorized)

	loaded, err := store.LoadControl(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0.0.1001"}, loaded.Admins)
	require.False(t, loaded.Paused)
}

func TestEngineOverRedis(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := t.Context()

	var transferred uint64
	engine, err := vesting.NewEngine(vesting.EngineConfig{
		Store: store,
		Backend: vesting.TransferFunc(func(ctx context.Context, request vesting.TransferRequest) (vesting.TransferReceipt, error) {
			transferred += request.Amount
			return vesting.TransferReceipt{TransactionID: "0.0.5005@1.1"}, nil
		}),
		VaultAccountID: "0.0.5005",
	})
	require.NoError(t, err)

	_, err = engine.Initialize(ctx, []string{"0.0.1001"})
	require.NoError(t, err)
	_, err = engine.Initialize(ctx, []string{"0.0.1001"})
	require.ErrorIs(t, err, vesting.ErrAlreadyInitialized)

	schedule, err := engine.CreateSchedule(ctx, vesting.CreateScheduleParams{
		Beneficiary:     "0.0.2002",
		TotalAmount:     1_000_000,
		StartTime:       testEpoch,
		CliffDuration:   30 * 24 * time.Hour,
		VestingDuration: 120 * 24 * time.Hour,
		Caller:          "0.0.1001",
	})
	require.NoError(t, err)

	result, err := engine.ClaimAt(ctx, schedule.ID, "0.0.2002", testEpoch.Add(60*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), result.Amount)
	require.Equal(t, uint64(500_000), transferred)

	loaded, err := engine.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), loaded.ReleasedAmount)
}

func TestEngineDoesNotPayTwiceWhenLockExpiresMidTransfer(t *testing.T) {
	base, mr := setupTestStore(t)
	ctx := t.Context()
	store, err := New(Options{Client: base.client, Prefix: "test", LockTTL: time.Second})
	require.NoError(t, err)

	var paid uint64
	engine, err := vesting.NewEngine(vesting.EngineConfig{
		Store: store,
		Backend: vesting.TransferFunc(func(ctx context.Context, request vesting.TransferRequest) (vesting.TransferReceipt, error) {
			paid += request.Amount
			mr.FastForward(2 * time.Second)
			return vesting.TransferReceipt{TransactionID: "0.0.5005@1.1"}, nil
		}),
		VaultAccountID: "0.0.5005",
	})
	require.NoError(t, err)
	_, err = engine.Initialize(ctx, []string{"0.0.1001"})
	require.NoError(t, err)

	schedule, err := engine.CreateSchedule(ctx, vesting.CreateScheduleParams{
		Beneficiary:     "0.0.2002",
		TotalAmount:     1_000,
		StartTime:       testEpoch,
		VestingDuration: 24 * time.Hour,
		Caller:          "0.0.1001",
	})
	require.NoError(t, err)

	at := testEpoch.Add(48 * time.Hour)
	result, err := engine.ClaimAt(ctx, schedule.ID, "0.0.2002", at)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), result.Amount)
	for attempt := 0; attempt < 2; attempt++ {
		_, err = engine.ClaimAt(ctx, schedule.ID, "0.0.2002", at)
		require.ErrorIs(t, err, vesting.ErrNothingToClaim)
	}

	loaded, err := engine.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), loaded.ReleasedAmount)
	require.Equal(t, uint64(1_000), paid)
}

func TestEngineReportsUnrecordedTransferOnLostLock(t *testing.T) {
	base, mr := setupTestStore(t)
	ctx := t.Context()
	store, err := New(Options{Client: base.client, Prefix: "test", LockTTL: time.Second})
	require.NoError(t, err)

	var paid uint64
	var scheduleID string
	engine, err := vesting.NewEngine(vesting.EngineConfig{
		Store: store,
		Backend: vesting.TransferFunc(func(ctx context.Context, request vesting.TransferRequest) (vesting.TransferReceipt, error) {
			paid += request.Amount
			mr.FastForward(2 * time.Second)
			require.NoError(t, mr.Set("test:lock:"+scheduleID, "another-process"))
			return vesting.TransferReceipt{TransactionID: "0.0.5005@2.2"}, nil
		}),
		VaultAccountID: "0.0.5005",
	})
	require.NoError(t, err)
	_, err = engine.Initialize(ctx, []string{"0.0.1001"})
	require.NoError(t, err)

	schedule, err := engine.CreateSchedule(ctx, vesting.CreateScheduleParams{
		Beneficiary:     "0.0.2002",
		TotalAmount:     1_000,
		StartTime:       testEpoch,
		VestingDuration: 24 * time.Hour,
		Caller:          "0.0.1001",
	})
	require.NoError(t, err)
	scheduleID = schedule.ID

	_, err = engine.ClaimAt(ctx, schedule.ID, "0.0.2002", testEpoch.Add(48*time.Hour))
	require.ErrorIs(t, err, vesting.ErrTransferUnrecorded)
	require.ErrorIs(t, err, ErrLockLost)
	require.Contains(t, err.Error(), "0.0.5005@2.2")
	require.Equal(t, uint64(1_000), paid)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	value, err := mr.Get(key)
	require.NoError(t, err)
	return value
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vesting.Store {
		store, _ := setupTestStore(t)
		return store
	})
}
