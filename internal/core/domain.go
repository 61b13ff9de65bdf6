package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusOpen   BalanceStatus = "OPEN"
	StatusClosed BalanceStatus = "CLOSED"
)

const (
	ProviderFinam         ProviderCode = "FINAM"
	ProviderTradeRepublic ProviderCode = "TRADEREPUBLIC"
	ProviderBybit         ProviderCode = "BYBIT"
	ProviderBCS           ProviderCode = "BCS"
	ProviderIBKR          ProviderCode = "IBKR"
)

const (
	CurrencyUSD CurrencyCode = "USD"
	CurrencyEUR CurrencyCode = "EUR"
	CurrencyRUB CurrencyCode = "RUB"
	CurrencyGBP CurrencyCode = "GBP"
)

const (
	AuditUpdate AuditAction = "UPDATE"
	AuditClose  AuditAction = "CLOSE"
	AuditReopen AuditAction = "REOPEN"
)

type (
	BalanceStatus string
	ProviderCode  string
	CurrencyCode  string
	AuditAction   string

	User struct {
		ID           string
		Email        string
		CreatedAt    time.Time
		LastLoginAt  time.Time
		BaseCurrency CurrencyCode
		Locale       string
		Active       bool
	}

	Account struct {
		ID           string
		UserID       string
		Name         string
		Provider     ProviderCode
		BaseCurrency CurrencyCode
		Active       bool
		Note         string
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// BalanceRecord is one ledger row per (account, calendar month).
	// Monetary fields are always clamped to two decimal places before storage.
	BalanceRecord struct {
		ID            string
		UserID        string
		AccountID     string
		Year          int
		Month         int
		Status        BalanceStatus
		Opening       decimal.Decimal
		Inflow        decimal.Decimal
		Outflow       decimal.Decimal
		Closing       decimal.Decimal
		Difference    decimal.Decimal
		USDEquivalent decimal.Decimal
		Note          string
		Provider      ProviderCode // denormalized from the account at write time
		Currency      CurrencyCode // denormalized from the account at write time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// FxRate is the rate table for one calendar day. Rates follow the CBR
	// convention: units of currency per 1 USD.
	FxRate struct {
		ID        string
		Date      string // YYYY-MM-DD
		Base      CurrencyCode
		Rates     map[string]string
		Source    string
		FetchedAt time.Time
	}

	// AuditEntry captures a ledger mutation with before/after snapshots.
	// Persisting it is the audit worker's job, not the engine's.
	AuditEntry struct {
		Timestamp time.Time
		UserID    string
		Action    AuditAction
		BalanceID string
		Before    *BalanceRecord
		After     *BalanceRecord
	}

	// BulkUpdateItem is one account's edit inside a bulk balance update.
	// Amounts travel as decimal strings and are parsed at the engine boundary.
	BulkUpdateItem struct {
		AccountID string
		Inflow    string
		Outflow   string
		Closing   string
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrClosedPeriod       = errors.New("cannot update closed month")
	ErrAccountNotFound    = errors.New("account not found")
	ErrBalanceNotFound    = errors.New("balance not found")
	ErrRateNotFound       = errors.New("rate not found")
	ErrAccountHasBalances = errors.New("cannot delete account with balances")
	ErrInvalidOTP         = errors.New("invalid otp")
	ErrInvalidToken       = errors.New("invalid token")
)

var validProviders = map[ProviderCode]struct{}{
	ProviderFinam:         {},
	ProviderTradeRepublic: {},
	ProviderBybit:         {},
	ProviderBCS:           {},
	ProviderIBKR:          {},
}

var validCurrencies = map[CurrencyCode]struct{}{
	CurrencyUSD: {},
	CurrencyEUR: {},
	CurrencyRUB: {},
	CurrencyGBP: {},
}

func (p ProviderCode) Valid() bool {
	_, ok := validProviders[p]
	return ok
}

func (c CurrencyCode) Valid() bool {
	_, ok := validCurrencies[c]
	return ok
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("empty account name")
	}
	if len(a.Name) > 120 {
		return errors.New("account name too long (max 120 characters)")
	}
	if !a.Provider.Valid() {
		return errors.New("invalid provider")
	}
	if !a.BaseCurrency.Valid() {
		return errors.New("invalid base currency")
	}
	return nil
}

// Recompute refreshes the derived fields: difference is always
// closing - opening, and usdEquivalent mirrors closing verbatim. True
// currency conversion happens only through the FX usd-view endpoint.
func (b *BalanceRecord) Recompute() {
	b.Difference = Difference(b.Closing, b.Opening)
	b.USDEquivalent = b.Closing
}
