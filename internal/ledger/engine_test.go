package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investtrack/internal/core"
	"investtrack/internal/store/memory"
)

type capturedAudit struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (c *capturedAudit) PublishAudit(_ context.Context, entry core.AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *capturedAudit) actions() []core.AuditAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.AuditAction, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	store   *memory.Store
	engine  *Engine
	audit   *capturedAudit
	userID  string
	account core.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	ctx := context.Background()

	user, err := st.FindOrCreateUser(ctx, "trader@example.com")
	require.NoError(t, err)

	account, err := st.CreateAccount(ctx, core.Account{
		UserID:       user.ID,
		Name:         "IBKR EUR",
		Provider:     core.ProviderIBKR,
		BaseCurrency: core.CurrencyEUR,
		Active:       true,
	})
	require.NoError(t, err)

	audit := &capturedAudit{}
	return &fixture{
		store:   st,
		engine:  NewEngine(st, st, audit),
		audit:   audit,
		userID:  user.ID,
		account: account,
	}
}

func (f *fixture) bulk(t *testing.T, period core.Period, inflow, outflow, closing string) core.BalanceRecord {
	t.Helper()
	records, err := f.engine.ApplyBulkUpdate(context.Background(), f.userID, period, []core.BulkUpdateItem{
		{AccountID: f.account.ID, Inflow: inflow, Outflow: outflow, Closing: closing},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func TestBulkUpdateCreatesRecordWithZeroOpening(t *testing.T) {
	f := newFixture(t)
	record := f.bulk(t, core.Period{Year: 2024, Month: 1}, "200.00", "50.00", "1150.00")

	assert.Equal(t, core.StatusOpen, record.Status)
	assert.Equal(t, "0.00", core.FormatAmount(record.Opening))
	assert.Equal(t, "200.00", core.FormatAmount(record.Inflow))
	assert.Equal(t, "50.00", core.FormatAmount(record.Outflow))
	assert.Equal(t, "1150.00", core.FormatAmount(record.Closing))
	// difference = closing - opening
	assert.Equal(t, "1150.00", core.FormatAmount(record.Difference))
	// usdEquivalent mirrors closing verbatim on this path
	assert.Equal(t, "1150.00", core.FormatAmount(record.USDEquivalent))
	assert.Equal(t, core.ProviderIBKR, record.Provider)
	assert.Equal(t, core.CurrencyEUR, record.Currency)
	assert.Equal(t, []core.AuditAction{core.AuditUpdate}, f.audit.actions())
}

func TestBulkUpdateIdempotentCreation(t *testing.T) {
	f := newFixture(t)
	period := core.Period{Year: 2024, Month: 3}

	first := f.bulk(t, period, "10.00", "0.00", "10.00")
	second := f.bulk(t, period, "20.00", "0.00", "30.00")

	assert.Equal(t, first.ID, second.ID)

	records, err := f.engine.ListForPeriod(context.Background(), f.userID, period)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBulkUpdateConcurrentCreationSingleRecord(t *testing.T) {
	f := newFixture(t)
	period := core.Period{Year: 2024, Month: 5}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.ApplyBulkUpdate(context.Background(), f.userID, period, []core.BulkUpdateItem{
				{AccountID: f.account.ID, Inflow: "1.00", Outflow: "0.00", Closing: "1.00"},
			})
		}()
	}
	wg.Wait()

	records, err := f.engine.ListForPeriod(context.Background(), f.userID, period)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBulkUpdateRejectsMalformedAmount(t *testing.T) {
	f := newFixture(t)
	period := core.Period{Year: 2024, Month: 1}

	_, err := f.engine.ApplyBulkUpdate(context.Background(), f.userID, period, []core.BulkUpdateItem{
		{AccountID: f.account.ID, Inflow: "not-a-number", Outflow: "0.00", Closing: "1.00"},
	})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	// Nothing was written: the amount is never coerced to zero.
	records, err := f.engine.ListForPeriod(context.Background(), f.userID, period)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBulkUpdateUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ApplyBulkUpdate(context.Background(), f.userID, core.Period{Year: 2024, Month: 1},
		[]core.BulkUpdateItem{{AccountID: "nope", Inflow: "1.00", Outflow: "0.00", Closing: "1.00"}})
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "nope")
}

func TestBulkUpdateCrossUserAccountDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.store.FindOrCreateUser(ctx, "other@example.com")
	require.NoError(t, err)

	// The other user cannot touch f's account; existence is not leaked.
	_, err = f.engine.ApplyBulkUpdate(ctx, other.ID, core.Period{Year: 2024, Month: 1},
		[]core.BulkUpdateItem{{AccountID: f.account.ID, Inflow: "1.00", Outflow: "0.00", Closing: "1.00"}})
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestBulkUpdatePartialFailureKeepsEarlierItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := core.Period{Year: 2024, Month: 2}

	updated, err := f.engine.ApplyBulkUpdate(ctx, f.userID, period, []core.BulkUpdateItem{
		{AccountID: f.account.ID, Inflow: "5.00", Outflow: "0.00", Closing: "5.00"},
		{AccountID: "missing", Inflow: "1.00", Outflow: "0.00", Closing: "1.00"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	// The first item stayed committed.
	require.Len(t, updated, 1)
	assert.Equal(t, "5.00", core.FormatAmount(updated[0].Closing))
}

func TestCloseRollsForwardAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.bulk(t, core.Period{Year: 2024, Month: 1}, "200.00", "50.00", "150.00")

	closed, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusClosed, closed.Status)

	next, ok, err := f.store.GetBalanceByKey(ctx, f.userID, f.account.ID, core.Period{Year: 2024, Month: 2})
	require.NoError(t, err)
	require.True(t, ok, "rollover must create the next period")
	assert.Equal(t, core.StatusOpen, next.Status)
	assert.Equal(t, "150.00", core.FormatAmount(next.Opening))
	assert.Equal(t, "150.00", core.FormatAmount(next.Closing))
	assert.Equal(t, "0.00", core.FormatAmount(next.Inflow))
	assert.Equal(t, "0.00", core.FormatAmount(next.Outflow))
	assert.Equal(t, "0.00", core.FormatAmount(next.Difference))

	// Second close is a no-op and creates no further records.
	again, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusClosed, again.Status)

	all, err := f.store.ListBalancesByUser(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// Exactly one CLOSE audit: the idempotent repeat publishes nothing.
	assert.Equal(t, []core.AuditAction{core.AuditUpdate, core.AuditClose}, f.audit.actions())
}

func TestCloseDecemberRollsIntoNextYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.bulk(t, core.Period{Year: 2024, Month: 12}, "0.00", "0.00", "99.00")

	_, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)

	next, ok, err := f.store.GetBalanceByKey(ctx, f.userID, f.account.ID, core.Period{Year: 2025, Month: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "99.00", core.FormatAmount(next.Opening))
}

func TestCloseDoesNotOverwriteExistingNextPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jan := f.bulk(t, core.Period{Year: 2024, Month: 1}, "0.00", "0.00", "100.00")
	feb := f.bulk(t, core.Period{Year: 2024, Month: 2}, "7.00", "0.00", "77.00")

	_, err := f.engine.Close(ctx, f.userID, jan.ID)
	require.NoError(t, err)

	got, err := f.store.GetBalance(ctx, f.userID, feb.ID)
	require.NoError(t, err)
	// February kept its own values; rollover never overwrites.
	assert.Equal(t, "77.00", core.FormatAmount(got.Closing))
	assert.Equal(t, "0.00", core.FormatAmount(got.Opening))
}

func TestClosedPeriodGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.bulk(t, core.Period{Year: 2024, Month: 1}, "0.00", "0.00", "100.00")

	_, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)

	_, err = f.engine.ApplyBulkUpdate(ctx, f.userID, core.Period{Year: 2024, Month: 1}, []core.BulkUpdateItem{
		{AccountID: f.account.ID, Inflow: "1.00", Outflow: "1.00", Closing: "999.00"},
	})
	assert.ErrorIs(t, err, core.ErrClosedPeriod)

	// The record is unchanged.
	got, err := f.store.GetBalance(ctx, f.userID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", core.FormatAmount(got.Closing))
	assert.Equal(t, core.StatusClosed, got.Status)
}

func TestReopenIdempotentAndKeepsNextPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Scenario from the ledger contract: EUR account, 2024-01 closing 1150.00.
	record := f.bulk(t, core.Period{Year: 2024, Month: 1}, "200.00", "50.00", "1150.00")
	_, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)

	reopened, err := f.engine.Reopen(ctx, f.userID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, reopened.Status)

	// Reopen does not retract the 2024-02 carry-forward.
	next, ok, err := f.store.GetBalanceByKey(ctx, f.userID, f.account.ID, core.Period{Year: 2024, Month: 2})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1150.00", core.FormatAmount(next.Opening))

	// Reopening an open record is a no-op with no audit entry.
	before := len(f.audit.actions())
	again, err := f.engine.Reopen(ctx, f.userID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, again.Status)
	assert.Equal(t, reopened.UpdatedAt, again.UpdatedAt)
	assert.Len(t, f.audit.actions(), before)
}

func TestDifferenceInvariantAfterReopenEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := core.Period{Year: 2024, Month: 1}

	record := f.bulk(t, period, "0.00", "0.00", "100.00")
	_, err := f.engine.Close(ctx, f.userID, record.ID)
	require.NoError(t, err)
	_, err = f.engine.Reopen(ctx, f.userID, record.ID)
	require.NoError(t, err)

	updated := f.bulk(t, period, "10.00", "5.00", "210.50")
	assert.Equal(t, "210.50", core.FormatAmount(updated.Difference.Add(updated.Opening)))
}

func TestListSeriesInclusiveRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bulk(t, core.Period{Year: 2023, Month: 11}, "0.00", "0.00", "1.00")
	f.bulk(t, core.Period{Year: 2023, Month: 12}, "0.00", "0.00", "2.00")
	f.bulk(t, core.Period{Year: 2024, Month: 1}, "0.00", "0.00", "3.00")
	f.bulk(t, core.Period{Year: 2024, Month: 2}, "0.00", "0.00", "4.00")

	series, err := f.engine.ListSeries(ctx, f.userID, "2023-12", "2024-01")
	require.NoError(t, err)
	require.Len(t, series, 2)
	// Ascending by (year, month): the year-boundary ordering is numeric on
	// year*100+month, so 2023-12 sorts before 2024-01.
	assert.Equal(t, 2023, series[0].Year)
	assert.Equal(t, 12, series[0].Month)
	assert.Equal(t, 2024, series[1].Year)
	assert.Equal(t, 1, series[1].Month)

	_, err = f.engine.ListSeries(ctx, f.userID, "2023-13", "2024-01")
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}

func TestMonthlyAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := core.Period{Year: 2024, Month: 1}

	second, err := f.store.CreateAccount(ctx, core.Account{
		UserID:       f.userID,
		Name:         "Bybit",
		Provider:     core.ProviderBybit,
		BaseCurrency: core.CurrencyUSD,
		Active:       true,
	})
	require.NoError(t, err)

	f.bulk(t, period, "0.00", "0.00", "1150.00")
	_, err = f.engine.ApplyBulkUpdate(ctx, f.userID, period, []core.BulkUpdateItem{
		{AccountID: second.ID, Inflow: "0.00", Outflow: "0.00", Closing: "350.25"},
	})
	require.NoError(t, err)

	total, count, err := f.engine.MonthlyAggregate(ctx, f.userID, period)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "1500.25", core.FormatAmount(total))

	total, count, err = f.engine.MonthlyAggregate(ctx, f.userID, core.Period{Year: 2030, Month: 6})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "0.00", core.FormatAmount(total))
}

func TestBalanceNotFoundNeverLeaksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.bulk(t, core.Period{Year: 2024, Month: 1}, "0.00", "0.00", "1.00")

	other, err := f.store.FindOrCreateUser(ctx, "other@example.com")
	require.NoError(t, err)

	_, errOther := f.engine.Close(ctx, other.ID, record.ID)
	_, errMissing := f.engine.Close(ctx, f.userID, "no-such-id")

	// "Exists but not yours" and "doesn't exist" are indistinguishable.
	assert.ErrorIs(t, errOther, core.ErrBalanceNotFound)
	assert.ErrorIs(t, errMissing, core.ErrBalanceNotFound)
	assert.Equal(t, errOther.Error(), errMissing.Error())
}
