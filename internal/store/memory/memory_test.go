package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

func newAccount(t *testing.T, s *Store, userID, name string) core.Account {
	t.Helper()
	account, err := s.CreateAccount(context.Background(), core.Account{
		UserID:       userID,
		Name:         name,
		Provider:     core.ProviderIBKR,
		BaseCurrency: core.CurrencyEUR,
		Active:       true,
	})
	require.NoError(t, err)
	return account
}

func TestFindOrCreateUserIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.FindOrCreateUser(ctx, "Trader@Example.com")
	require.NoError(t, err)
	require.Equal(t, "trader@example.com", first.Email)

	second, err := s.FindOrCreateUser(ctx, "trader@example.com")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.False(t, second.LastLoginAt.Before(first.LastLoginAt))
}

func TestAccountOwnershipScoping(t *testing.T) {
	s := New()
	ctx := context.Background()
	account := newAccount(t, s, "user-1", "Main")

	_, err := s.GetAccount(ctx, "user-2", account.ID)
	require.ErrorIs(t, err, core.ErrAccountNotFound)

	name := "Renamed"
	_, err = s.UpdateAccount(ctx, "user-2", account.ID, store.AccountUpdate{Name: &name})
	require.ErrorIs(t, err, core.ErrAccountNotFound)

	err = s.DeleteAccount(ctx, "user-2", account.ID)
	require.ErrorIs(t, err, core.ErrAccountNotFound)

	updated, err := s.UpdateAccount(ctx, "user-1", account.ID, store.AccountUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
}

func TestDeleteAccountBlockedByBalances(t *testing.T) {
	s := New()
	ctx := context.Background()
	account := newAccount(t, s, "user-1", "Main")

	_, err := s.InsertBalanceIfAbsent(ctx, core.BalanceRecord{
		UserID:    "user-1",
		AccountID: account.ID,
		Year:      2024,
		Month:     1,
		Status:    core.StatusOpen,
	})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteAccount(ctx, "user-1", account.ID), core.ErrAccountHasBalances)
}

func TestInsertBalanceIfAbsentKeepsFirstRecord(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.InsertBalanceIfAbsent(ctx, core.BalanceRecord{
		UserID:    "user-1",
		AccountID: "acc-1",
		Year:      2024,
		Month:     1,
		Opening:   decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	second, err := s.InsertBalanceIfAbsent(ctx, core.BalanceRecord{
		UserID:    "user-1",
		AccountID: "acc-1",
		Year:      2024,
		Month:     1,
		Opening:   decimal.RequireFromString("99.00"),
	})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Opening.Equal(first.Opening))
}

func TestUpdateBalanceMutateErrorDoesNotPersist(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, err := s.InsertBalanceIfAbsent(ctx, core.BalanceRecord{
		UserID:    "user-1",
		AccountID: "acc-1",
		Year:      2024,
		Month:     1,
		Closing:   decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.UpdateBalance(ctx, "user-1", rec.ID, func(b *core.BalanceRecord) error {
		b.Closing = decimal.RequireFromString("999.00")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetBalance(ctx, "user-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, "50.00", core.FormatAmount(got.Closing))

	_, err = s.UpdateBalance(ctx, "user-2", rec.ID, func(*core.BalanceRecord) error { return nil })
	require.ErrorIs(t, err, core.ErrBalanceNotFound)
}

func TestListBalancesByUserOrdersByPeriod(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, p := range []core.Period{{Year: 2024, Month: 2}, {Year: 2023, Month: 12}, {Year: 2024, Month: 1}} {
		_, err := s.InsertBalanceIfAbsent(ctx, core.BalanceRecord{
			UserID:    "user-1",
			AccountID: "acc-1",
			Year:      p.Year,
			Month:     p.Month,
		})
		require.NoError(t, err)
	}

	records, err := s.ListBalancesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, 12, records[0].Month)
	require.Equal(t, 1, records[1].Month)
	require.Equal(t, 2, records[2].Month)
}

func TestUpsertFxRateKeepsID(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertFxRate(ctx, core.FxRate{
		Date:  "2024-01-15",
		Base:  core.CurrencyUSD,
		Rates: map[string]string{"EUR": "0.92"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.UpsertFxRate(ctx, core.FxRate{
		Date:  "2024-01-15",
		Base:  core.CurrencyUSD,
		Rates: map[string]string{"EUR": "0.93"},
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, err := s.GetFxRate(ctx, "2024-01-15")
	require.NoError(t, err)
	require.Equal(t, "0.93", got.Rates["EUR"])
}

func TestListFxRatesInclusiveRange(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, date := range []string{"2024-01-10", "2024-01-15", "2024-01-20"} {
		_, err := s.UpsertFxRate(ctx, core.FxRate{Date: date, Base: core.CurrencyUSD})
		require.NoError(t, err)
	}

	rates, err := s.ListFxRates(ctx, "2024-01-10", "2024-01-15")
	require.NoError(t, err)
	require.Len(t, rates, 2)
	require.Equal(t, "2024-01-10", rates[0].Date)
	require.Equal(t, "2024-01-15", rates[1].Date)
}

func TestListAuditByUserNewestFirstWithLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, action := range []core.AuditAction{core.AuditUpdate, core.AuditClose, core.AuditReopen} {
		require.NoError(t, s.AppendAudit(ctx, core.AuditEntry{UserID: "user-1", Action: action, BalanceID: "bal-1"}))
	}
	require.NoError(t, s.AppendAudit(ctx, core.AuditEntry{UserID: "user-2", Action: core.AuditUpdate, BalanceID: "bal-2"}))

	entries, err := s.ListAuditByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, core.AuditReopen, entries[0].Action)
	require.Equal(t, core.AuditClose, entries[1].Action)
}
