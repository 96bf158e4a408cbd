package vesting

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ScheduleMutation edits a copy of the stored schedule. Returning an error
// aborts the update and nothing is persisted.
type ScheduleMutation func(ctx context.Context, schedule *Schedule) error

// ControlMutation edits a copy of the control singleton.
type ControlMutation func(ctx context.Context, state *ControlState) error

// Store is the durable schedule ledger. UpdateSchedule must hold an
// exclusive per-schedule lock while the mutation runs so that concurrent
// claims never interleave their read-compute-transfer-write sequence.
// UpdateControl serialises all control-state edits.
type Store interface {
	InsertSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, beneficiary string) ([]Schedule, error)
	ListAllSchedules(ctx context.Context) ([]Schedule, error)
	UpdateSchedule(ctx context.Context, id string, mutate ScheduleMutation) (Schedule, error)

	LoadControl(ctx context.Context) (ControlState, error)
	UpdateControl(ctx context.Context, mutate ControlMutation) (ControlState, error)
}

// MemoryStore keeps schedules in process memory.
type MemoryStore struct {
	mutex         sync.RWMutex
	schedules     map[string]Schedule
	byBeneficiary map[string][]string
	order         []string
	control       ControlState

	controlMutex  sync.Mutex
	scheduleLocks *keyedMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:     map[string]Schedule{},
		byBeneficiary: map[string][]string{},
		order:         []string{},
		control:       ControlState{Admins: []string{}},
		scheduleLocks: newKeyedMutex(),
	}
}

func (store *MemoryStore) InsertSchedule(ctx context.Context, schedule Schedule) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule %s already exists", schedule.ID)
	}
	store.schedules[schedule.ID] = schedule.Clone()
	store.byBeneficiary[schedule.Beneficiary] = append(store.byBeneficiary[schedule.Beneficiary], schedule.ID)
	store.order = append(store.order, schedule.ID)
	return nil
}

func (store *MemoryStore) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	schedule, exists := store.schedules[id]
	if !exists {
		return Schedule{}, NewNotFoundError(id)
	}
	return schedule.Clone(), nil
}

func (store *MemoryStore) ListSchedules(ctx context.Context, beneficiary string) ([]Schedule, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	ids := store.byBeneficiary[beneficiary]
	result := make([]Schedule, 0, len(ids))
	for _, id := range ids {
		result = append(result, store.schedules[id].Clone())
	}
	return result, nil
}

func (store *MemoryStore) ListAllSchedules(ctx context.Context) ([]Schedule, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	result := make([]Schedule, 0, len(store.order))
	for _, id := range store.order {
		result = append(result, store.schedules[id].Clone())
	}
	return result, nil
}

func (store *MemoryStore) UpdateSchedule(
	ctx context.Context,
	id string,
	mutate ScheduleMutation,
) (Schedule, error) {
	unlock := store.scheduleLocks.lock(id)
	defer unlock()

	current, err := store.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, err
	}

	updated := current.Clone()
	if err := mutate(ctx, &updated); err != nil {
		return current, err
	}
	updated.ID = current.ID
	updated.Version = current.Version + 1

	store.mutex.Lock()
	store.schedules[id] = updated.Clone()
	store.mutex.Unlock()

	return updated, nil
}

func (store *MemoryStore) LoadControl(ctx context.Context) (ControlState, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.control.Clone(), nil
}

func (store *MemoryStore) UpdateControl(ctx context.Context, mutate ControlMutation) (ControlState, error) {
	store.controlMutex.Lock()
	defer store.controlMutex.Unlock()

	current, err := store.LoadControl(ctx)
	if err != nil {
		return ControlState{}, err
	}

	updated := current.Clone()
	if err := mutate(ctx, &updated); err != nil {
		return current, err
	}
	sort.Strings(updated.Admins)
	updated.Version = current.Version + 1

	store.mutex.Lock()
	store.control = updated.Clone()
	store.mutex.Unlock()

	return updated, nil
}

// keyedMutex hands out one mutex per key and drops it once no goroutine
// holds or waits for it.
type keyedMutex struct {
	mutex   sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mutex   sync.Mutex
	waiters int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: map[string]*keyedMutexEntry{}}
}

func (locks *keyedMutex) lock(key string) func() {
	locks.mutex.Lock()
	entry, exists := locks.entries[key]
	if !exists {
		entry = &keyedMutexEntry{}
		locks.entries[key] = entry
	}
	entry.waiters++
	locks.mutex.Unlock()

	entry.mutex.Lock()

	return func() {
		entry.mutex.Unlock()

		locks.mutex.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(locks.entries, key)
		}
		locks.mutex.Unlock()
	}
}
