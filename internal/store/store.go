// Package store defines the storage contracts shared by the in-memory and
// sqlite backends. Both implement every interface; cmd main picks one.
package store

import (
	"context"

	"investtrack/internal/core"
)

// AccountUpdate carries a partial account edit; nil fields are left untouched.
type AccountUpdate struct {
	Name         *string
	Provider     *core.ProviderCode
	BaseCurrency *core.CurrencyCode
	Active       *bool
	Note         *string
}

type UserStore interface {
	// FindOrCreateUser seeds a user on first login and stamps lastLoginAt on
	// every subsequent one.
	FindOrCreateUser(ctx context.Context, email string) (core.User, error)
	GetUser(ctx context.Context, id string) (core.User, error)
}

type AccountStore interface {
	CreateAccount(ctx context.Context, account core.Account) (core.Account, error)
	// UpdateAccount and GetAccount are scoped to the owning user; a wrong
	// owner or unknown id both return core.ErrAccountNotFound.
	UpdateAccount(ctx context.Context, userID, accountID string, upd AccountUpdate) (core.Account, error)
	// DeleteAccount fails with core.ErrAccountHasBalances while any balance
	// record references the account.
	DeleteAccount(ctx context.Context, userID, accountID string) error
	GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
}

type BalanceStore interface {
	// GetBalanceByKey reports absence via ok=false rather than an error;
	// absence is an expected state on the create path.
	GetBalanceByKey(ctx context.Context, userID, accountID string, period core.Period) (core.BalanceRecord, bool, error)
	GetBalance(ctx context.Context, userID, id string) (core.BalanceRecord, error)
	// InsertBalanceIfAbsent is atomic on (userID, accountID, year, month):
	// under a concurrent insert for the same key exactly one record survives,
	// and the surviving record is returned.
	InsertBalanceIfAbsent(ctx context.Context, record core.BalanceRecord) (core.BalanceRecord, error)
	// UpdateBalance applies mutate inside an atomic read-modify-write.
	UpdateBalance(ctx context.Context, userID, id string, mutate func(*core.BalanceRecord) error) (core.BalanceRecord, error)
	ListBalancesByPeriod(ctx context.Context, userID string, period core.Period) ([]core.BalanceRecord, error)
	ListBalancesByUser(ctx context.Context, userID string) ([]core.BalanceRecord, error)
}

type FxStore interface {
	UpsertFxRate(ctx context.Context, rate core.FxRate) (core.FxRate, error)
	// GetFxRate matches the date exactly; no nearest-date fallback.
	GetFxRate(ctx context.Context, date string) (core.FxRate, error)
	// ListFxRates returns rates with date in [from, to] inclusive, ascending.
	// Empty from/to leave that bound open.
	ListFxRates(ctx context.Context, from, to string) ([]core.FxRate, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry core.AuditEntry) error
	ListAuditByUser(ctx context.Context, userID string, limit int) ([]core.AuditEntry, error)
}

// Store is the full surface the service is wired against.
type Store interface {
	UserStore
	AccountStore
	BalanceStore
	FxStore
	AuditStore
	Close() error
}
