package credits

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current ledger schema version
const schemaVersion = 1

// ErrSchemaMismatch indicates the ledger database was created by another version
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteLedger persists balances in a SQLite database. Debits are
// conditional updates, so concurrent processes sharing the file can never
// drive a balance negative.
type SQLiteLedger struct {
	db              *sql.DB
	path            string
	startingBalance int
}

// OpenSQLiteLedger opens or creates the ledger database at path
func OpenSQLiteLedger(path string, startingBalance int) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	ledger := &SQLiteLedger{db: db, path: path, startingBalance: startingBalance}
	if err := ledger.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// Path returns the database file location
func (l *SQLiteLedger) Path() string {
	return l.path
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) initSchema(ctx context.Context) error {
	var tableExists int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return l.createSchema(ctx)
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (l *SQLiteLedger) createSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Balance(ctx context.Context, identity string) (int, error) {
	var balance int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = ensureAccount(ctx, tx, identity, l.startingBalance)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (l *SQLiteLedger) Debit(ctx context.Context, identity string, amount int, reason string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}

	var balance int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		current, err := ensureAccount(ctx, tx, identity, l.startingBalance)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE identity = ? AND balance >= ?",
			amount, now(), identity, amount)
		if err != nil {
			return fmt.Errorf("debit account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			balance = current
			return &InsufficientCreditError{Required: amount, Balance: current}
		}

		balance = current - amount
		return insertTransaction(ctx, tx, identity, -amount, reason, balance)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredit) {
			return balance, err
		}
		return 0, fmt.Errorf("failed to debit: %w", err)
	}
	return balance, nil
}

func (l *SQLiteLedger) Credit(ctx context.Context, identity string, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var balance int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		current, err := ensureAccount(ctx, tx, identity, l.startingBalance)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE identity = ?",
			amount, now(), identity); err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
		balance = current + amount
		return insertTransaction(ctx, tx, identity, amount, reason, balance)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to credit: %w", err)
	}
	return balance, nil
}

// History returns the newest transactions first
func (l *SQLiteLedger) History(ctx context.Context, identity string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, identity, amount, reason, balance_after, created_at
		 FROM transactions WHERE identity = ? ORDER BY id DESC LIMIT ?`,
		identity, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t       Transaction
			created string
		)
		if err := rows.Scan(&t.ID, &t.Identity, &t.Amount, &t.Reason, &t.BalanceAfter, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ensureAccount returns the current balance, creating the account with the
// starting grant when the identity is new
func ensureAccount(ctx context.Context, tx *sql.Tx, identity string, startingBalance int) (int, error) {
	ts := now()
	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO accounts (identity, balance, created_at, updated_at) VALUES (?, ?, ?, ?)",
		identity, startingBalance, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if err := insertTransaction(ctx, tx, identity, startingBalance, "starting balance", startingBalance); err != nil {
			return 0, err
		}
		return startingBalance, nil
	}

	var balance int
	if err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE identity = ?", identity).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read account: %w", err)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, identity string, amount int, reason string, balanceAfter int) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO transactions (identity, amount, reason, balance_after, created_at) VALUES (?, ?, ?, ?, ?)",
		identity, amount, reason, balanceAfter, now()); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
