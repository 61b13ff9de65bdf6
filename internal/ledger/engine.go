// Package ledger implements the monthly balance state machine: lazy record
// creation, bulk inflow/outflow/closing edits, close with carry-forward
// rollover, reopen, period listings and the monthly aggregate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

// Publisher hands audit entries to a collaborator (the AMQP bus in
// production). Durable storage of the trail is the consumer's job.
type Publisher interface {
	PublishAudit(ctx context.Context, entry core.AuditEntry) error
}

type Engine struct {
	accounts store.AccountStore
	balances store.BalanceStore
	audit    Publisher // nil disables audit publication
}

func NewEngine(accounts store.AccountStore, balances store.BalanceStore, audit Publisher) *Engine {
	return &Engine{accounts: accounts, balances: balances, audit: audit}
}

// ensureMonthly resolves or lazily creates the record for (account, period).
// The insert is idempotent on the period key: a concurrent creation for the
// same key yields the stored record, never a duplicate.
func (e *Engine) ensureMonthly(ctx context.Context, userID string, account core.Account, period core.Period, opening decimal.Decimal) (core.BalanceRecord, error) {
	existing, ok, err := e.balances.GetBalanceByKey(ctx, userID, account.ID, period)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	if ok {
		return existing, nil
	}

	now := time.Now().UTC()
	opening = core.ClampTwoDecimals(opening)
	record := core.BalanceRecord{
		UserID:        userID,
		AccountID:     account.ID,
		Year:          period.Year,
		Month:         period.Month,
		Status:        core.StatusOpen,
		Opening:       opening,
		Inflow:        decimal.Zero,
		Outflow:       decimal.Zero,
		Closing:       opening,
		Difference:    decimal.Zero,
		USDEquivalent: opening,
		Provider:      account.Provider,
		Currency:      account.BaseCurrency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return e.balances.InsertBalanceIfAbsent(ctx, record)
}

// ApplyBulkUpdate applies one (year, month) batch of balance edits. Items
// commit independently and in order; the first failure aborts the remainder
// and names the offending account, with earlier items left committed.
//
// A record created here seeds opening = 0.00. Opening balances are only ever
// fabricated by the close rollover, never by a bulk update.
func (e *Engine) ApplyBulkUpdate(ctx context.Context, userID string, period core.Period, items []core.BulkUpdateItem) ([]core.BalanceRecord, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	updated := make([]core.BalanceRecord, 0, len(items))
	for _, item := range items {
		record, err := e.applyItem(ctx, userID, period, item)
		if err != nil {
			return updated, fmt.Errorf("account %s: %w", item.AccountID, err)
		}
		updated = append(updated, record)
	}
	return updated, nil
}

func (e *Engine) applyItem(ctx context.Context, userID string, period core.Period, item core.BulkUpdateItem) (core.BalanceRecord, error) {
	account, err := e.accounts.GetAccount(ctx, userID, item.AccountID)
	if err != nil {
		return core.BalanceRecord{}, err
	}

	inflow, err := core.ParseAmount(item.Inflow)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("inflow: %w", err)
	}
	outflow, err := core.ParseAmount(item.Outflow)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("outflow: %w", err)
	}
	closing, err := core.ParseAmount(item.Closing)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("closing: %w", err)
	}

	base, err := e.ensureMonthly(ctx, userID, account, period, decimal.Zero)
	if err != nil {
		return core.BalanceRecord{}, err
	}

	before := base
	updatedRecord, err := e.balances.UpdateBalance(ctx, userID, base.ID, func(b *core.BalanceRecord) error {
		// Re-checked inside the atomic read-modify-write so a concurrent
		// close cannot slip an edit into a closed month.
		if b.Status == core.StatusClosed {
			return core.ErrClosedPeriod
		}
		b.Inflow = core.ClampTwoDecimals(inflow)
		b.Outflow = core.ClampTwoDecimals(outflow)
		b.Closing = core.ClampTwoDecimals(closing)
		b.Recompute()
		b.Provider = account.Provider
		b.Currency = account.BaseCurrency
		b.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return core.BalanceRecord{}, err
	}

	e.publish(ctx, core.AuditEntry{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    core.AuditUpdate,
		BalanceID: updatedRecord.ID,
		Before:    &before,
		After:     &updatedRecord,
	})
	return updatedRecord, nil
}

// Close marks the record CLOSED and, as a side effect, ensures the following
// period's record exists with opening carried forward from this closing.
// Closing an already-closed record is a no-op returning the current state.
func (e *Engine) Close(ctx context.Context, userID, balanceID string) (core.BalanceRecord, error) {
	current, err := e.balances.GetBalance(ctx, userID, balanceID)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	if current.Status == core.StatusClosed {
		return current, nil
	}

	before := current
	closed, err := e.balances.UpdateBalance(ctx, userID, balanceID, func(b *core.BalanceRecord) error {
		b.Status = core.StatusClosed
		b.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return core.BalanceRecord{}, err
	}

	// Rollover: the two writes are not one transaction; the creation below is
	// idempotent on the period key and never overwrites an existing record,
	// so a retry after a crash between them is safe.
	account, err := e.accounts.GetAccount(ctx, userID, closed.AccountID)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	next := core.Period{Year: closed.Year, Month: closed.Month}.Next()
	if _, err := e.ensureMonthly(ctx, userID, account, next, closed.Closing); err != nil {
		return core.BalanceRecord{}, fmt.Errorf("rollover to %s: %w", next, err)
	}

	e.publish(ctx, core.AuditEntry{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    core.AuditClose,
		BalanceID: closed.ID,
		Before:    &before,
		After:     &closed,
	})
	return closed, nil
}

// Reopen sets a closed record back to OPEN. It does not retract or touch the
// next period's carried-forward record; that asymmetry is deliberate and
// visible through the audit trail. Reopening an open record is a no-op.
func (e *Engine) Reopen(ctx context.Context, userID, balanceID string) (core.BalanceRecord, error) {
	current, err := e.balances.GetBalance(ctx, userID, balanceID)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	if current.Status != core.StatusClosed {
		return current, nil
	}

	before := current
	reopened, err := e.balances.UpdateBalance(ctx, userID, balanceID, func(b *core.BalanceRecord) error {
		b.Status = core.StatusOpen
		b.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return core.BalanceRecord{}, err
	}

	e.publish(ctx, core.AuditEntry{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    core.AuditReopen,
		BalanceID: reopened.ID,
		Before:    &before,
		After:     &reopened,
	})
	return reopened, nil
}

func (e *Engine) ListForPeriod(ctx context.Context, userID string, period core.Period) ([]core.BalanceRecord, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return e.balances.ListBalancesByPeriod(ctx, userID, period)
}

// ListSeries returns the user's records with period in [from, to] inclusive,
// ascending by (year, month). from and to are "YYYY-MM" keys.
func (e *Engine) ListSeries(ctx context.Context, userID, from, to string) ([]core.BalanceRecord, error) {
	start, err := core.ParsePeriod(from)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	end, err := core.ParsePeriod(to)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	all, err := e.balances.ListBalancesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]core.BalanceRecord, 0, len(all))
	for _, b := range all {
		key := core.Period{Year: b.Year, Month: b.Month}.Key()
		if key >= start.Key() && key <= end.Key() {
			out = append(out, b)
		}
	}
	return out, nil
}

// MonthlyAggregate sums closing across the user's records for the period and
// reports the record count, for dashboard totals.
func (e *Engine) MonthlyAggregate(ctx context.Context, userID string, period core.Period) (decimal.Decimal, int, error) {
	records, err := e.ListForPeriod(ctx, userID, period)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, b := range records {
		total = core.Sum(total, b.Closing)
	}
	return core.ClampTwoDecimals(total), len(records), nil
}

func (e *Engine) publish(ctx context.Context, entry core.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.PublishAudit(ctx, entry); err != nil {
		// Audit publication never fails the mutation itself.
		slog.WarnContext(ctx, "Audit publish failed",
			"error", err,
			"action", entry.Action,
			"balance_id", entry.BalanceID)
	}
}

// IsNotFound reports whether err is one of the ownership/existence failures
// that must surface as a plain not-found to the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrAccountNotFound) || errors.Is(err, core.ErrBalanceNotFound)
}
