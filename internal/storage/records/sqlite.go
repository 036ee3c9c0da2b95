package records

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "./data/records.db"

// Columns follow DepositRecord field order. Amounts are decimal text so the full u64
// range survives the driver.
const recordColumns = `id, owner, collateral_account, liquidity_principal, collateral_balance,
	schedule, reserve_id, target_mint, recipient, delegation_handle, created_at, cycle_count, nonce`

// SQLiteStore persists records in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
	l  *zap.Logger
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string, l *zap.Logger) (*SQLiteStore, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}

	s := &SQLiteStore{db: db, l: l}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	l.Info("record store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deposit_records (
			id                  TEXT PRIMARY KEY,
			owner               TEXT NOT NULL,
			collateral_account  TEXT NOT NULL,
			liquidity_principal TEXT NOT NULL,
			collateral_balance  TEXT NOT NULL,
			schedule            TEXT NOT NULL,
			reserve_id          TEXT NOT NULL,
			target_mint         TEXT NOT NULL,
			recipient           TEXT NOT NULL,
			delegation_handle   TEXT,
			created_at          INTEGER NOT NULL,
			cycle_count         INTEGER NOT NULL,
			nonce               INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_schedule ON deposit_records(schedule)`,
		`CREATE INDEX IF NOT EXISTS idx_records_owner ON deposit_records(owner)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "exec %q", strings.TrimSpace(stmt)[:32])
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, r *domain.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM deposit_records WHERE id = ?`, r.ID.String()).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check record")
	}
	if exists > 0 {
		return errors.Wrapf(domain.ErrRecordExists, "record %s", r.ID.Short())
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO deposit_records (`+recordColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`, recordArgs(r)...)
	return errors.Wrap(err, "insert record")
}

func (s *SQLiteStore) Get(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM deposit_records WHERE id = ?`, id.String())

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrRecordNotFound, "record %s", id.Short())
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) Update(ctx context.Context, r *domain.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := recordArgs(r)
	res, err := s.db.ExecContext(ctx, `UPDATE deposit_records SET
		owner = ?, collateral_account = ?, liquidity_principal = ?, collateral_balance = ?,
		schedule = ?, reserve_id = ?, target_mint = ?, recipient = ?, delegation_handle = ?,
		created_at = ?, cycle_count = ?, nonce = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return errors.Wrap(err, "update record")
	}
	return expectOneRow(res, r.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM deposit_records WHERE id = ?`, id.String())
	if err != nil {
		return errors.Wrap(err, "delete record")
	}
	return expectOneRow(res, id)
}

// List returns records ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.DepositRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM deposit_records ORDER BY created_at, id`)
}

func (s *SQLiteStore) ListBySchedule(ctx context.Context, schedule domain.Schedule) ([]*domain.DepositRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM deposit_records WHERE schedule = ? ORDER BY created_at, id`,
		schedule.String())
}

func (s *SQLiteStore) Close() error {
	s.l.Info("closing record store")
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*domain.DepositRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	var out []*domain.DepositRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate records")
}

func expectOneRow(res sql.Result, id domain.Identity) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrRecordNotFound, "record %s", id.Short())
	}
	return nil
}

func recordArgs(r *domain.DepositRecord) []any {
	var handle sql.NullString
	if r.DelegationHandle != nil {
		handle = sql.NullString{String: r.DelegationHandle.String(), Valid: true}
	}

	return []any{
		r.ID.String(),
		r.Owner.String(),
		r.CollateralAccount.String(),
		strconv.FormatUint(r.LiquidityPrincipal, 10),
		strconv.FormatUint(r.CollateralBalance, 10),
		r.Schedule.String(),
		r.ReserveID.String(),
		r.TargetMint.String(),
		r.Recipient.String(),
		handle,
		r.CreatedAt.Unix(),
		int64(r.CycleCount),
		int64(r.Nonce),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.DepositRecord, error) {
	var (
		id, owner, collateral, principal, balance string
		schedule, reserve, target, recipient     string
		handle                                   sql.NullString
		createdAt                                int64
		cycles, nonce                            int64
	)

	if err := row.Scan(&id, &owner, &collateral, &principal, &balance,
		&schedule, &reserve, &target, &recipient, &handle, &createdAt, &cycles, &nonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan record")
	}

	r := &domain.DepositRecord{
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
		CycleCount: uint16(cycles),
		Nonce:      uint8(nonce),
	}

	var err error
	for _, f := range []struct {
		dst *domain.Identity
		src string
	}{
		{&r.ID, id}, {&r.Owner, owner}, {&r.CollateralAccount, collateral},
		{&r.ReserveID, reserve}, {&r.TargetMint, target}, {&r.Recipient, recipient},
	} {
		if *f.dst, err = domain.ParseIdentity(f.src); err != nil {
			return nil, errors.Wrap(err, "decode stored identity")
		}
	}

	if r.LiquidityPrincipal, err = strconv.ParseUint(principal, 10, 64); err != nil {
		return nil, errors.Wrap(err, "decode liquidity principal")
	}
	if r.CollateralBalance, err = strconv.ParseUint(balance, 10, 64); err != nil {
		return nil, errors.Wrap(err, "decode collateral balance")
	}
	if r.Schedule, err = domain.ParseSchedule(schedule); err != nil {
		return nil, errors.Wrap(err, "decode schedule")
	}
	if handle.Valid {
		h, err := domain.ParseIdentity(handle.String)
		if err != nil {
			return nil, errors.Wrap(err, "decode delegation handle")
		}
		r.DelegationHandle = &h
	}

	return r, nil
}
