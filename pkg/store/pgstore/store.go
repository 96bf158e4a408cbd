// Package pgstore keeps the vesting ledger in PostgreSQL through a pgx
// connection pool. UpdateSchedule locks the row with SELECT ... FOR UPDATE,
// so engine processes sharing a database serialise claims per schedule.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/internal/sqlrow"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS vesting_schedules (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	beneficiary TEXT NOT NULL,
	total_amount NUMERIC(20, 0) NOT NULL,
	released_amount NUMERIC(20, 0) NOT NULL,
	start_time TEXT NOT NULL,
	cliff_duration BIGINT NOT NULL,
	vesting_duration BIGINT NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at TEXT,
	unlocked_at_revocation NUMERIC(20, 0) NOT NULL DEFAULT 0,
	recovered BOOLEAN NOT NULL DEFAULT FALSE,
	recovered_amount NUMERIC(20, 0) NOT NULL DEFAULT 0,
	paused BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	version BIGINT NOT NULL,
	pending TEXT
);
ALTER TABLE vesting_schedules ADD COLUMN IF NOT EXISTS pending TEXT;
CREATE INDEX IF NOT EXISTS idx_vesting_schedules_beneficiary ON vesting_schedules (beneficiary, seq);

CREATE TABLE IF NOT EXISTS vesting_control (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	admins TEXT NOT NULL,
	paused BOOLEAN NOT NULL,
	initialized BOOLEAN NOT NULL,
	version BIGINT NOT NULL
);
`

const selectColumns = `id, beneficiary, total_amount::text, released_amount::text, start_time, cliff_duration,
	vesting_duration, revoked, revoked_at, unlocked_at_revocation::text, recovered, recovered_amount::text,
	paused, created_at, version, pending`

type Options struct {
	DSN      string
	MinConns int32
	MaxConns int32
}

type Store struct {
	pool *pgxpool.Pool
}

type txKey struct{}

// Connect opens a pool and checks connectivity. It does not apply the
// schema; call Migrate for that.
func Connect(ctx context.Context, options Options) (*Store, error) {
	dsn := strings.TrimSpace(options.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if options.MinConns > 0 {
		config.MinConns = options.MinConns
	}
	if options.MaxConns > 0 {
		config.MaxConns = options.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	return &Store{pool: pool}, nil
}

func (store *Store) Close() {
	store.pool.Close()
}

// Migrate creates the ledger tables if they do not exist.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn returns the transaction an enclosing update placed in ctx. Reads from
// inside a mutation reuse it instead of taking a second pooled connection.
func (store *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return store.pool
}

func (store *Store) InsertSchedule(ctx context.Context, schedule vesting.Schedule) error {
	args, err := scheduleArgs(schedule)
	if err != nil {
		return err
	}
	_, err = store.conn(ctx).Exec(ctx, `INSERT INTO vesting_schedules (
		id, beneficiary, total_amount, released_amount, start_time, cliff_duration, vesting_duration,
		revoked, revoked_at, unlocked_at_revocation, recovered, recovered_amount, paused, created_at, version, pending
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert schedule %s: %w", schedule.ID, err)
	}
	return nil
}

func (store *Store) GetSchedule(ctx context.Context, id string) (vesting.Schedule, error) {
	return store.getSchedule(ctx, `SELECT `+selectColumns+` FROM vesting_schedules WHERE id = $1`, id)
}

func (store *Store) getSchedule(ctx context.Context, query string, id string) (vesting.Schedule, error) {
	schedule, err := scanSchedule(store.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vesting.Schedule{}, vesting.NewNotFoundError(id)
		}
		return vesting.Schedule{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	return schedule, nil
}

func (store *Store) ListSchedules(ctx context.Context, beneficiary string) ([]vesting.Schedule, error) {
	return store.list(ctx, `SELECT `+selectColumns+` FROM vesting_schedules WHERE beneficiary = $1 ORDER BY seq`, beneficiary)
}

func (store *Store) ListAllSchedules(ctx context.Context) ([]vesting.Schedule, error) {
	return store.list(ctx, `SELECT `+selectColumns+` FROM vesting_schedules ORDER BY seq`)
}

func (store *Store) list(ctx context.Context, query string, args ...any) ([]vesting.Schedule, error) {
	rows, err := store.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	result := []vesting.Schedule{}
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read schedule row: %w", err)
		}
		result = append(result, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return result, nil
}

func (store *Store) UpdateSchedule(
	ctx context.Context,
	id string,
	mutate vesting.ScheduleMutation,
) (vesting.Schedule, error) {
	var current vesting.Schedule
	var updated vesting.Schedule

	err := store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		loaded, err := store.getSchedule(ctx, `SELECT `+selectColumns+` FROM vesting_schedules WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		current = loaded

		updated = current.Clone()
		if err := mutate(ctx, &updated); err != nil {
			return err
		}
		updated.ID = current.ID
		updated.Version = current.Version + 1

		args, err := scheduleArgs(updated)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE vesting_schedules SET
			beneficiary = $2, total_amount = $3, released_amount = $4, start_time = $5, cliff_duration = $6,
			vesting_duration = $7, revoked = $8, revoked_at = $9, unlocked_at_revocation = $10, recovered = $11,
			recovered_amount = $12, paused = $13, created_at = $14, version = $15, pending = $16
			WHERE id = $1`, args...)
		if err != nil {
			return fmt.Errorf("failed to write schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return current, err
	}
	return updated, nil
}

func (store *Store) LoadControl(ctx context.Context) (vesting.ControlState, error) {
	return store.loadControl(ctx, `SELECT admins, paused, initialized, version FROM vesting_control WHERE id = 1`)
}

func (store *Store) loadControl(ctx context.Context, query string) (vesting.ControlState, error) {
	var (
		admins  string
		state   vesting.ControlState
		version int64
	)
	err := store.conn(ctx).QueryRow(ctx, query).Scan(&admins, &state.Paused, &state.Initialized, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vesting.ControlState{Admins: []string{}}, nil
		}
		return vesting.ControlState{}, fmt.Errorf("failed to load control state: %w", err)
	}

	if state.Admins, err = sqlrow.ParseAdmins(admins); err != nil {
		return vesting.ControlState{}, err
	}
	state.Version = uint64(version)
	return state, nil
}

func (store *Store) UpdateControl(ctx context.Context, mutate vesting.ControlMutation) (vesting.ControlState, error) {
	var current vesting.ControlState
	var updated vesting.ControlState

	err := store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// The singleton row may not exist yet, so lock on a transaction-scoped
		// advisory key instead of the row.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('vesting_control'))`); err != nil {
			return fmt.Errorf("failed to lock control state: %w", err)
		}
		loaded, err := store.LoadControl(ctx)
		if err != nil {
			return err
		}
		current = loaded

		updated = current.Clone()
		if err := mutate(ctx, &updated); err != nil {
			return err
		}
		updated.Version = current.Version + 1

		admins, err := sqlrow.FormatAdmins(updated.Admins)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO vesting_control (id, admins, paused, initialized, version)
			VALUES (1, $1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET admins = EXCLUDED.admins, paused = EXCLUDED.paused,
				initialized = EXCLUDED.initialized, version = EXCLUDED.version`,
			admins, updated.Paused, updated.Initialized, int64(updated.Version))
		if err != nil {
			return fmt.Errorf("failed to write control state: %w", err)
		}
		return nil
	})
	if err != nil {
		return current, err
	}
	return updated, nil
}

// inTx commits only when fn returns nil. Nested calls reuse the outer
// transaction.
func (store *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx, tx)
	}

	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func numeric(value uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(value), Valid: true}
}

func scheduleArgs(schedule vesting.Schedule) ([]any, error) {
	pending, err := sqlrow.FormatPending(schedule.Pending)
	if err != nil {
		return nil, err
	}
	return []any{
		schedule.ID,
		schedule.Beneficiary,
		numeric(schedule.TotalAmount),
		numeric(schedule.ReleasedAmount),
		sqlrow.FormatTime(schedule.StartTime),
		int64(schedule.CliffDuration),
		int64(schedule.VestingDuration),
		schedule.Revoked,
		sqlrow.FormatOptionalTime(schedule.RevokedAt),
		numeric(schedule.UnlockedAtRevocation),
		schedule.Recovered,
		numeric(schedule.RecoveredAmount),
		schedule.Paused,
		sqlrow.FormatTime(schedule.CreatedAt),
		int64(schedule.Version),
		pending,
	}, nil
}

func scanSchedule(row pgx.Row) (vesting.Schedule, error) {
	var (
		schedule             vesting.Schedule
		totalAmount          string
		releasedAmount       string
		startTime            string
		cliffDuration        int64
		vestingDuration      int64
		revokedAt            *string
		unlockedAtRevocation string
		recoveredAmount      string
		createdAt            string
		version              int64
		pending              *string
	)
	if err := row.Scan(
		&schedule.ID,
		&schedule.Beneficiary,
		&totalAmount,
		&releasedAmount,
		&startTime,
		&cliffDuration,
		&vestingDuration,
		&schedule.Revoked,
		&revokedAt,
		&unlockedAtRevocation,
		&schedule.Recovered,
		&recoveredAmount,
		&schedule.Paused,
		&createdAt,
		&version,
		&pending,
	); err != nil {
		return vesting.Schedule{}, err
	}

	var err error
	if schedule.TotalAmount, err = sqlrow.ParseAmount("total_amount", totalAmount); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.ReleasedAmount, err = sqlrow.ParseAmount("released_amount", releasedAmount); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.UnlockedAtRevocation, err = sqlrow.ParseAmount("unlocked_at_revocation", unlockedAtRevocation); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.RecoveredAmount, err = sqlrow.ParseAmount("recovered_amount", recoveredAmount); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.StartTime, err = sqlrow.ParseTime("start_time", startTime); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.CreatedAt, err = sqlrow.ParseTime("created_at", createdAt); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.RevokedAt, err = sqlrow.ParseOptionalTime("revoked_at", revokedAt); err != nil {
		return vesting.Schedule{}, err
	}
	if schedule.Pending, err = sqlrow.ParsePending(pending); err != nil {
		return vesting.Schedule{}, err
	}
	schedule.CliffDuration = time.Duration(cliffDuration)
	schedule.VestingDuration = time.Duration(vestingDuration)
	schedule.Version = uint64(version)
	return schedule, nil
}

var _ vesting.Store = (*Store)(nil)
