// Package sqlite is the durable store backend. Monetary fields are persisted
// as exact two-decimal strings, never floats, so values round-trip unchanged.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtAmount(d decimal.Decimal) string {
	return core.FormatAmount(core.ClampTwoDecimals(d))
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("stored amount %q: %w", s, core.ErrInvalidAmount)
	}
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) FindOrCreateUser(ctx context.Context, email string) (core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := fmtTime(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at, last_login_at, base_currency, locale, active)
		VALUES (?, ?, ?, ?, 'USD', 'en', 1)
		ON CONFLICT(email) DO UPDATE SET last_login_at = excluded.last_login_at`,
		uuid.NewString(), email, now, now)
	if err != nil {
		return core.User{}, fmt.Errorf("upsert user: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_at, last_login_at, base_currency, locale, active
		FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_at, last_login_at, base_currency, locale, active
		FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrAccountNotFound
	}
	return u, err
}

func scanUser(row *sql.Row) (core.User, error) {
	var u core.User
	var createdAt, lastLoginAt string
	var active int
	if err := row.Scan(&u.ID, &u.Email, &createdAt, &lastLoginAt, &u.BaseCurrency, &u.Locale, &active); err != nil {
		return core.User{}, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.LastLoginAt = parseTime(lastLoginAt)
	u.Active = active != 0
	return u, nil
}

func (s *Store) CreateAccount(ctx context.Context, account core.Account) (core.Account, error) {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, provider, base_currency, active, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.UserID, account.Name, string(account.Provider),
		string(account.BaseCurrency), boolToInt(account.Active), account.Note,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", account.ID,
		"provider", account.Provider,
		"currency", account.BaseCurrency)
	return account, nil
}

func (s *Store) UpdateAccount(ctx context.Context, userID, accountID string, upd store.AccountUpdate) (core.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Account{}, fmt.Errorf("begin update account: %w", err)
	}
	defer tx.Rollback()

	account, err := getAccountTx(ctx, tx, userID, accountID)
	if err != nil {
		return core.Account{}, err
	}

	if upd.Name != nil {
		account.Name = *upd.Name
	}
	if upd.Provider != nil {
		account.Provider = *upd.Provider
	}
	if upd.BaseCurrency != nil {
		account.BaseCurrency = *upd.BaseCurrency
	}
	if upd.Active != nil {
		account.Active = *upd.Active
	}
	if upd.Note != nil {
		account.Note = *upd.Note
	}
	account.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET name = ?, provider = ?, base_currency = ?, active = ?, note = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		account.Name, string(account.Provider), string(account.BaseCurrency),
		boolToInt(account.Active), account.Note, fmtTime(account.UpdatedAt),
		accountID, userID)
	if err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Account{}, fmt.Errorf("commit update account: %w", err)
	}
	return account, nil
}

func (s *Store) DeleteAccount(ctx context.Context, userID, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer tx.Rollback()

	if _, err := getAccountTx(ctx, tx, userID, accountID); err != nil {
		return err
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM balances WHERE account_id = ?`, accountID).Scan(&n); err != nil {
		return fmt.Errorf("count balances: %w", err)
	}
	if n > 0 {
		return core.ErrAccountHasBalances
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, provider, base_currency, active, note, created_at, updated_at
		FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID)
	return scanAccount(row.Scan)
}

func getAccountTx(ctx context.Context, tx *sql.Tx, userID, accountID string) (core.Account, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, name, provider, base_currency, active, note, created_at, updated_at
		FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID)
	return scanAccount(row.Scan)
}

func scanAccount(scan func(...any) error) (core.Account, error) {
	var a core.Account
	var createdAt, updatedAt string
	var active int
	err := scan(&a.ID, &a.UserID, &a.Name, &a.Provider, &a.BaseCurrency, &active, &a.Note, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrAccountNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Active = active != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, provider, base_currency, active, note, created_at, updated_at
		FROM accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const balanceColumns = `id, user_id, account_id, year, month, status,
	opening, inflow, outflow, closing, difference, usd_equivalent,
	note, provider, currency, created_at, updated_at`

func scanBalance(scan func(...any) error) (core.BalanceRecord, error) {
	var b core.BalanceRecord
	var opening, inflow, outflow, closing, diff, usdEq string
	var createdAt, updatedAt string
	err := scan(&b.ID, &b.UserID, &b.AccountID, &b.Year, &b.Month, &b.Status,
		&opening, &inflow, &outflow, &closing, &diff, &usdEq,
		&b.Note, &b.Provider, &b.Currency, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceRecord{}, core.ErrBalanceNotFound
	}
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("scan balance: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Opening, opening}, {&b.Inflow, inflow}, {&b.Outflow, outflow},
		{&b.Closing, closing}, {&b.Difference, diff}, {&b.USDEquivalent, usdEq},
	} {
		d, err := parseAmount(f.src)
		if err != nil {
			return core.BalanceRecord{}, err
		}
		*f.dst = d
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *Store) GetBalanceByKey(ctx context.Context, userID, accountID string, period core.Period) (core.BalanceRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+` FROM balances
		WHERE user_id = ? AND account_id = ? AND year = ? AND month = ?`,
		userID, accountID, period.Year, period.Month)
	b, err := scanBalance(row.Scan)
	if errors.Is(err, core.ErrBalanceNotFound) {
		return core.BalanceRecord{}, false, nil
	}
	if err != nil {
		return core.BalanceRecord{}, false, err
	}
	return b, true, nil
}

func (s *Store) GetBalance(ctx context.Context, userID, id string) (core.BalanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+` FROM balances WHERE id = ? AND user_id = ?`, id, userID)
	return scanBalance(row.Scan)
}

func (s *Store) InsertBalanceIfAbsent(ctx context.Context, record core.BalanceRecord) (core.BalanceRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	// The unique period-key index makes this race-safe: under concurrent
	// inserts exactly one row lands, the rest hit DO NOTHING.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, account_id, year, month) DO NOTHING`,
		record.ID, record.UserID, record.AccountID, record.Year, record.Month,
		string(record.Status),
		fmtAmount(record.Opening), fmtAmount(record.Inflow), fmtAmount(record.Outflow),
		fmtAmount(record.Closing), fmtAmount(record.Difference), fmtAmount(record.USDEquivalent),
		record.Note, string(record.Provider), string(record.Currency),
		fmtTime(record.CreatedAt), fmtTime(record.UpdatedAt))
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("insert balance: %w", err)
	}

	stored, ok, err := s.GetBalanceByKey(ctx, record.UserID, record.AccountID,
		core.Period{Year: record.Year, Month: record.Month})
	if err != nil {
		return core.BalanceRecord{}, err
	}
	if !ok {
		return core.BalanceRecord{}, fmt.Errorf("insert balance: %w", core.ErrBalanceNotFound)
	}
	return stored, nil
}

func (s *Store) UpdateBalance(ctx context.Context, userID, id string, mutate func(*core.BalanceRecord) error) (core.BalanceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("begin update balance: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+balanceColumns+` FROM balances WHERE id = ? AND user_id = ?`, id, userID)
	b, err := scanBalance(row.Scan)
	if err != nil {
		return core.BalanceRecord{}, err
	}

	if err := mutate(&b); err != nil {
		return core.BalanceRecord{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE balances SET status = ?, opening = ?, inflow = ?, outflow = ?,
			closing = ?, difference = ?, usd_equivalent = ?, note = ?,
			provider = ?, currency = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		string(b.Status),
		fmtAmount(b.Opening), fmtAmount(b.Inflow), fmtAmount(b.Outflow),
		fmtAmount(b.Closing), fmtAmount(b.Difference), fmtAmount(b.USDEquivalent),
		b.Note, string(b.Provider), string(b.Currency), fmtTime(b.UpdatedAt),
		id, userID)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.BalanceRecord{}, fmt.Errorf("commit update balance: %w", err)
	}
	return b, nil
}

func (s *Store) ListBalancesByPeriod(ctx context.Context, userID string, period core.Period) ([]core.BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+balanceColumns+` FROM balances
		WHERE user_id = ? AND year = ? AND month = ? ORDER BY created_at`,
		userID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("list balances by period: %w", err)
	}
	defer rows.Close()
	return collectBalances(rows)
}

func (s *Store) ListBalancesByUser(ctx context.Context, userID string) ([]core.BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+balanceColumns+` FROM balances
		WHERE user_id = ? ORDER BY year, month, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances by user: %w", err)
	}
	defer rows.Close()
	return collectBalances(rows)
}

func collectBalances(rows *sql.Rows) ([]core.BalanceRecord, error) {
	var out []core.BalanceRecord
	for rows.Next() {
		b, err := scanBalance(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpsertFxRate(ctx context.Context, rate core.FxRate) (core.FxRate, error) {
	if rate.ID == "" {
		rate.ID = fmt.Sprintf("%s-%s", rate.Base, rate.Date)
	}
	ratesJSON, err := json.Marshal(rate.Rates)
	if err != nil {
		return core.FxRate{}, fmt.Errorf("marshal rates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fx_rates (id, date, base, rates, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			base = excluded.base, rates = excluded.rates,
			source = excluded.source, fetched_at = excluded.fetched_at`,
		rate.ID, rate.Date, string(rate.Base), string(ratesJSON), rate.Source, fmtTime(rate.FetchedAt))
	if err != nil {
		return core.FxRate{}, fmt.Errorf("upsert fx rate: %w", err)
	}
	return s.GetFxRate(ctx, rate.Date)
}

func (s *Store) GetFxRate(ctx context.Context, date string) (core.FxRate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, base, rates, source, fetched_at FROM fx_rates WHERE date = ?`, date)
	rate, err := scanFxRate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FxRate{}, core.ErrRateNotFound
	}
	return rate, err
}

func scanFxRate(scan func(...any) error) (core.FxRate, error) {
	var rate core.FxRate
	var ratesJSON, fetchedAt string
	if err := scan(&rate.ID, &rate.Date, &rate.Base, &ratesJSON, &rate.Source, &fetchedAt); err != nil {
		return core.FxRate{}, err
	}
	if err := json.Unmarshal([]byte(ratesJSON), &rate.Rates); err != nil {
		return core.FxRate{}, fmt.Errorf("unmarshal rates: %w", err)
	}
	rate.FetchedAt = parseTime(fetchedAt)
	return rate, nil
}

func (s *Store) ListFxRates(ctx context.Context, from, to string) ([]core.FxRate, error) {
	query := `SELECT id, date, base, rates, source, fetched_at FROM fx_rates`
	var args []any
	var where []string
	if from != "" {
		where = append(where, "date >= ?")
		args = append(args, from)
	}
	if to != "" {
		where = append(where, "date <= ?")
		args = append(args, to)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fx rates: %w", err)
	}
	defer rows.Close()

	var out []core.FxRate
	for rows.Next() {
		rate, err := scanFxRate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, entry core.AuditEntry) error {
	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, user_id, action, balance_id, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fmtTime(entry.Timestamp), entry.UserID, string(entry.Action), entry.BalanceID,
		beforeJSON, afterJSON)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func marshalSnapshot(b *core.BalanceRecord) (sql.NullString, error) {
	if b == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (s *Store) ListAuditByUser(ctx context.Context, userID string, limit int) ([]core.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, user_id, action, balance_id, before_json, after_json
		FROM audit_log WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		var ts string
		var beforeJSON, afterJSON sql.NullString
		if err := rows.Scan(&ts, &e.UserID, &e.Action, &e.BalanceID, &beforeJSON, &afterJSON); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if beforeJSON.Valid {
			var b core.BalanceRecord
			if err := json.Unmarshal([]byte(beforeJSON.String), &b); err == nil {
				e.Before = &b
			}
		}
		if afterJSON.Valid {
			var b core.BalanceRecord
			if err := json.Unmarshal([]byte(afterJSON.String), &b); err == nil {
				e.After = &b
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
