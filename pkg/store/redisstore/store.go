// Package redisstore keeps the vesting ledger in Redis. Records are msgpack
// encoded, and the per-schedule lock that UpdateSchedule holds while a
// transfer runs is a token-guarded key, so several engine processes can
// share one store. The lock is renewed while the mutation runs, and the
// final write is a compare-and-set against the record that was read, so an
// expired lock only fails the write when another holder got in between.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	DefaultPrefix      = "vesting"
	DefaultLockTTL     = 30 * time.Second
	DefaultLockTimeout = 10 * time.Second

	lockPollInterval = 25 * time.Millisecond
)

var (
	ErrLockTimeout = errors.New("timed out waiting for schedule lock")
	ErrLockLost    = errors.New("schedule lock lost to another holder before the update was written")
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// writeScript stores ARGV[3] while the lock token still matches. A lock that
// expired and was not taken by anyone else is accepted as long as the record
// still holds the bytes the update started from (ARGV[2], "" for absent).
var writeScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder ~= ARGV[1] then
	if holder then
		return 0
	end
	local stored = redis.call("GET", KEYS[2])
	if not stored then
		stored = ""
	end
	if stored ~= ARGV[2] then
		return 0
	end
end
redis.call("SET", KEYS[2], ARGV[3])
return 1
`)

// insertScript creates the record and both index entries, or nothing.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[2])
redis.call("RPUSH", KEYS[3], ARGV[2])
return 1
`)

// Options configures a Store. Only Client is required.
type Options struct {
	Client *redis.Client
	Prefix string
	// LockTTL bounds how long a crashed holder can block a schedule. Live
	// holders renew it every LockTTL/3.
	LockTTL     time.Duration
	LockTimeout time.Duration
}

// Store is a vesting.Store backed by a Redis client.
type Store struct {
	client      *redis.Client
	prefix      string
	lockTTL     time.Duration
	lockTimeout time.Duration
}

// New validates options and applies defaults.
func New(options Options) (*Store, error) {
	if options.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := strings.TrimSpace(options.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	lockTTL := options.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	lockTimeout := options.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	return &Store{
		client:      options.Client,
		prefix:      prefix,
		lockTTL:     lockTTL,
		lockTimeout: lockTimeout,
	}, nil
}

func (store *Store) key(parts ...string) string {
	return store.prefix + ":" + strings.Join(parts, ":")
}

func (store *Store) InsertSchedule(ctx context.Context, schedule vesting.Schedule) error {
	data, err := msgpack.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	keys := []string{
		store.key("schedule", schedule.ID),
		store.key("schedules"),
		store.key("beneficiary", schedule.Beneficiary),
	}
	created, err := insertScript.Run(ctx, store.client, keys, data, schedule.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	if created != 1 {
		return fmt.Errorf("schedule %s already exists", schedule.ID)
	}
	return nil
}

func (store *Store) GetSchedule(ctx context.Context, id string) (vesting.Schedule, error) {
	schedule, _, err := store.loadSchedule(ctx, id)
	return schedule, err
}

// loadSchedule also returns the stored bytes for the compare-and-set write.
func (store *Store) loadSchedule(ctx context.Context, id string) (vesting.Schedule, []byte, error) {
	data, err := store.client.Get(ctx, store.key("schedule", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return vesting.Schedule{}, nil, vesting.NewNotFoundError(id)
		}
		return vesting.Schedule{}, nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	schedule, err := decodeSchedule(data)
	if err != nil {
		return vesting.Schedule{}, nil, err
	}
	return schedule, data, nil
}

func (store *Store) ListSchedules(ctx context.Context, beneficiary string) ([]vesting.Schedule, error) {
	return store.listByIndex(ctx, store.key("beneficiary", beneficiary))
}

func (store *Store) ListAllSchedules(ctx context.Context) ([]vesting.Schedule, error) {
	return store.listByIndex(ctx, store.key("schedules"))
}

func (store *Store) listByIndex(ctx context.Context, indexKey string) ([]vesting.Schedule, error) {
	ids, err := store.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule IDs: %w", err)
	}
	if len(ids) == 0 {
		return []vesting.Schedule{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, store.key("schedule", id))
	}
	values, err := store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	result := make([]vesting.Schedule, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		schedule, err := decodeSchedule([]byte(raw))
		if err != nil {
			return nil, err
		}
		result = append(result, schedule)
	}
	return result, nil
}

func (store *Store) UpdateSchedule(
	ctx context.Context,
	id string,
	mutate vesting.ScheduleMutation,
) (vesting.Schedule, error) {
	lockKey := store.key("lock", id)
	token, err := store.acquire(ctx, lockKey)
	if err != nil {
		return vesting.Schedule{}, err
	}
	defer store.release(lockKey, token)

	current, original, err := store.loadSchedule(ctx, id)
	if err != nil {
		return vesting.Schedule{}, err
	}

	updated := current.Clone()
	stop := store.keepAlive(lockKey, token)
	err = mutate(ctx, &updated)
	stop()
	if err != nil {
		return current, err
	}
	updated.ID = current.ID
	updated.Version = current.Version + 1

	data, err := msgpack.Marshal(updated)
	if err != nil {
		return current, fmt.Errorf("failed to encode schedule: %w", err)
	}
	if err := store.writeLocked(ctx, lockKey, token, store.key("schedule", id), original, data); err != nil {
		return current, err
	}
	return updated, nil
}

func (store *Store) LoadControl(ctx context.Context) (vesting.ControlState, error) {
	state, _, err := store.loadControl(ctx)
	return state, err
}

func (store *Store) loadControl(ctx context.Context) (vesting.ControlState, []byte, error) {
	data, err := store.client.Get(ctx, store.key("control")).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return vesting.ControlState{Admins: []string{}}, nil, nil
		}
		return vesting.ControlState{}, nil, fmt.Errorf("failed to load control state: %w", err)
	}

	var state vesting.ControlState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return vesting.ControlState{}, nil, fmt.Errorf("failed to decode control state: %w", err)
	}
	if state.Admins == nil {
		state.Admins = []string{}
	}
	return state, data, nil
}

func (store *Store) UpdateControl(ctx context.Context, mutate vesting.ControlMutation) (vesting.ControlState, error) {
	lockKey := store.key("control", "lock")
	token, err := store.acquire(ctx, lockKey)
	if err != nil {
		return vesting.ControlState{}, err
	}
	defer store.release(lockKey, token)

	current, original, err := store.loadControl(ctx)
	if err != nil {
		return vesting.ControlState{}, err
	}

	updated := current.Clone()
	if err := mutate(ctx, &updated); err != nil {
		return current, err
	}
	updated.Version = current.Version + 1

	data, err := msgpack.Marshal(updated)
	if err != nil {
		return current, fmt.Errorf("failed to encode control state: %w", err)
	}
	if err := store.writeLocked(ctx, lockKey, token, store.key("control"), original, data); err != nil {
		return current, err
	}
	return updated, nil
}

func (store *Store) acquire(ctx context.Context, lockKey string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(store.lockTimeout)

	for {
		acquired, err := store.client.SetNX(ctx, lockKey, token, store.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
		}
		if acquired {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s", ErrLockTimeout, lockKey)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (store *Store) release(lockKey string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, store.client, []string{lockKey}, token).Err()
}

// keepAlive renews the lock every lockTTL/3 until the returned func is
// called. It gives up once the lock belongs to someone else.
func (store *Store) keepAlive(lockKey string, token string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(store.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := renewScript.Run(ctx, store.client, []string{lockKey}, token, store.lockTTL.Milliseconds()).Int()
				if err == nil && renewed == 0 {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (store *Store) writeLocked(ctx context.Context, lockKey string, token string, key string, original []byte, data []byte) error {
	written, err := writeScript.Run(ctx, store.client, []string{lockKey, key}, token, original, data).Int()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if written != 1 {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}
	return nil
}

func decodeSchedule(data []byte) (vesting.Schedule, error) {
	var schedule vesting.Schedule
	if err := msgpack.Unmarshal(data, &schedule); err != nil {
		return vesting.Schedule{}, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return normalizeTimes(schedule), nil
}

func normalizeTimes(schedule vesting.Schedule) vesting.Schedule {
	schedule.StartTime = schedule.StartTime.UTC()
	schedule.CreatedAt = schedule.CreatedAt.UTC()
	if !schedule.RevokedAt.IsZero() {
		schedule.RevokedAt = schedule.RevokedAt.UTC()
	}
	return schedule
}

var _ vesting.Store = (*Store)(nil)
