// Package sqlitestore keeps the vesting ledger in a SQLite file through the
// pure-Go modernc.org/sqlite driver. Schedule and control updates run in
// IMMEDIATE transactions, so one writer holds the database while a transfer
// is in flight and readers continue under WAL.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/store/internal/sqlrow"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS vesting_schedules (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	beneficiary TEXT NOT NULL,
	total_amount TEXT NOT NULL,
	released_amount TEXT NOT NULL,
	start_time TEXT NOT NULL,
	cliff_duration INTEGER NOT NULL,
	vesting_duration INTEGER NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0,
	revoked_at TEXT,
	unlocked_at_revocation TEXT NOT NULL DEFAULT '0',
	recovered INTEGER NOT NULL DEFAULT 0,
	recovered_amount TEXT NOT NULL DEFAULT '0',
	paused INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	version INTEGER NOT NULL,
	pending TEXT
);
CREATE INDEX IF NOT EXISTS idx_vesting_schedules_beneficiary ON vesting_schedules(beneficiary, seq);

CREATE TABLE IF NOT EXISTS vesting_control (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	admins TEXT NOT NULL,
	paused INTEGER NOT NULL,
	initialized INTEGER NOT NULL,
	version INTEGER NOT NULL
);
`

const scheduleColumns = `id, beneficiary, total_amount, released_amount, start_time, cliff_duration,
	vesting_duration, revoked, revoked_at, unlocked_at_revocation, recovered, recovered_amount,
	paused, created_at, version, pending`

type Store struct {
	db *sql.DB
}

type txKey struct{}

// Open creates or opens the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	query := url.Values{}
	query.Add("_pragma", "busy_timeout(10000)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := store.addPendingColumn(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// addPendingColumn upgrades ledgers created before pending transfers were
// tracked.
func (store *Store) addPendingColumn(ctx context.Context) error {
	var count int
	err := store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('vesting_schedules') WHERE name = 'pending'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := store.db.ExecContext(ctx, `ALTER TABLE vesting_schedules ADD COLUMN pending TEXT`); err != nil {
		return fmt.Errorf("failed to add pending column: %w", err)
	}
	return nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction an enclosing update placed in ctx, so reads
// made from inside a mutation see the same snapshot and do not wait on the
// write lock that transaction already holds.
func (store *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return store.db
}

func (store *Store) InsertSchedule(ctx context.Context, schedule vesting.Schedule) error {
	args, err := scheduleArgs(schedule)
	if err != nil {
		return err
	}
	_, err = store.conn(ctx).ExecContext(ctx, `INSERT INTO vesting_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert schedule %s: %w", schedule.ID, err)
	}
	return nil
}

func (store *Store) GetSchedule(ctx context.Context, id string) (vesting.Schedule, error) {
	row := store.conn(ctx).QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM vesting_schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vesting.Schedule{}, vesting.NewNotFoundError(id)
		}
		return vesting.Schedule{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	return schedule, nil
}

func (store *Store) ListSchedules(ctx context.Context, beneficiary string) ([]vesting.Schedule, error) {
	return store.list(ctx, `SELECT `+scheduleColumns+` FROM vesting_schedules WHERE beneficiary = ? ORDER BY seq`, beneficiary)
}

func (store *Store) ListAllSchedules(ctx context.Context) ([]vesting.Schedule, error) {
	return store.list(ctx, `SELECT `+scheduleColumns+` FROM vesting_schedules ORDER BY seq`)
}

func (store *Store) list(ctx context.Context, query string, args ...any) ([]vesting.Schedule, error) {
	rows, err := store.conn(ctx).QueryContext(ctx, query, args...)
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

	err := store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		loaded, err := store.GetSchedule(ctx, id)
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
		_, err = tx.ExecContext(ctx, `UPDATE vesting_schedules SET
			beneficiary = ?, total_amount = ?, released_amount = ?, start_time = ?, cliff_duration = ?,
			vesting_duration = ?, revoked = ?, revoked_at = ?, unlocked_at_revocation = ?, recovered = ?,
			recovered_amount = ?, paused = ?, created_at = ?, version = ?, pending = ?
			WHERE id = ?`, append(args[1:], updated.ID)...)
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
	var (
		admins      string
		paused      bool
		initialized bool
		version     int64
	)
	err := store.conn(ctx).QueryRowContext(ctx,
		`SELECT admins, paused, initialized, version FROM vesting_control WHERE id = 1`,
	).Scan(&admins, &paused, &initialized, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vesting.ControlState{Admins: []string{}}, nil
		}
		return vesting.ControlState{}, fmt.Errorf("failed to load control state: %w", err)
	}

	parsed, err := sqlrow.ParseAdmins(admins)
	if err != nil {
		return vesting.ControlState{}, err
	}
	return vesting.ControlState{
		Admins:      parsed,
		Paused:      paused,
		Initialized: initialized,
		Version:     uint64(version),
	}, nil
}

func (store *Store) UpdateControl(ctx context.Context, mutate vesting.ControlMutation) (vesting.ControlState, error) {
	var current vesting.ControlState
	var updated vesting.ControlState

	err := store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
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
		_, err = tx.ExecContext(ctx, `INSERT INTO vesting_control (id, admins, paused, initialized, version)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET admins = excluded.admins, paused = excluded.paused,
				initialized = excluded.initialized, version = excluded.version`,
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

// inTx runs fn inside an IMMEDIATE transaction and commits only when fn
// returns nil. Nested calls reuse the outer transaction.
func (store *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scheduleArgs(schedule vesting.Schedule) ([]any, error) {
	pending, err := sqlrow.FormatPending(schedule.Pending)
	if err != nil {
		return nil, err
	}
	return []any{
		schedule.ID,
		schedule.Beneficiary,
		sqlrow.FormatAmount(schedule.TotalAmount),
		sqlrow.FormatAmount(schedule.ReleasedAmount),
		sqlrow.FormatTime(schedule.StartTime),
		int64(schedule.CliffDuration),
		int64(schedule.VestingDuration),
		schedule.Revoked,
		optionalTime(schedule.RevokedAt),
		sqlrow.FormatAmount(schedule.UnlockedAtRevocation),
		schedule.Recovered,
		sqlrow.FormatAmount(schedule.RecoveredAmount),
		schedule.Paused,
		sqlrow.FormatTime(schedule.CreatedAt),
		int64(schedule.Version),
		optionalText(pending),
	}, nil
}

func optionalText(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func optionalTime(value time.Time) any {
	if formatted := sqlrow.FormatOptionalTime(value); formatted != nil {
		return *formatted
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (vesting.Schedule, error) {
	var (
		schedule             vesting.Schedule
		totalAmount          string
		releasedAmount       string
		startTime            string
		cliffDuration        int64
		vestingDuration      int64
		revokedAt            sql.NullString
		unlockedAtRevocation string
		recoveredAmount      string
		createdAt            string
		version              int64
		pending              sql.NullString
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
	if revokedAt.Valid {
		if schedule.RevokedAt, err = sqlrow.ParseTime("revoked_at", revokedAt.String); err != nil {
			return vesting.Schedule{}, err
		}
	}
	if pending.Valid {
		if schedule.Pending, err = sqlrow.ParsePending(&pending.String); err != nil {
			return vesting.Schedule{}, err
		}
	}
	schedule.CliffDuration = time.Duration(cliffDuration)
	schedule.VestingDuration = time.Duration(vestingDuration)
	schedule.Version = uint64(version)
	return schedule, nil
}

var _ vesting.Store = (*Store)(nil)
