// Package fx resolves daily currency rate tables and converts amounts to USD.
//
// Rates follow the CBR-style convention of units of currency per 1 USD, so a
// conversion divides the amount by the rate. Lookups by date are exact; the
// currency code, not the date, gets a case-insensitive fallback.
package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

const dateLayout = "2006-01-02"

type Resolver struct {
	rates store.FxStore
}

func NewResolver(rates store.FxStore) *Resolver {
	return &Resolver{rates: rates}
}

// RateFor returns the rate table whose date exactly equals the argument.
func (r *Resolver) RateFor(ctx context.Context, date string) (core.FxRate, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return core.FxRate{}, fmt.Errorf("date %q: %w", date, core.ErrRateNotFound)
	}
	return r.rates.GetFxRate(ctx, date)
}

// RangeBetween returns rate tables with date in [from, to] inclusive,
// ascending by date.
func (r *Resolver) RangeBetween(ctx context.Context, from, to string) ([]core.FxRate, error) {
	return r.rates.ListFxRates(ctx, from, to)
}

// Upsert stores the day's rate table, replacing any previous one for the
// same date.
func (r *Resolver) Upsert(ctx context.Context, rate core.FxRate) (core.FxRate, error) {
	return r.rates.UpsertFxRate(ctx, rate)
}

// ConvertToUSD divides amount by the currency's rate on the given date,
// clamped to two decimals. A missing date row or a currency absent from its
// table both fail with ErrRateNotFound.
func (r *Resolver) ConvertToUSD(ctx context.Context, amount decimal.Decimal, currency core.CurrencyCode, date string) (decimal.Decimal, error) {
	rate, err := r.RateFor(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}

	raw, ok := rate.Rates[string(currency)]
	if !ok {
		// Case-insensitive fallback for the code only.
		upper := strings.ToUpper(string(currency))
		for code, v := range rate.Rates {
			if strings.ToUpper(code) == upper {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("currency %s on %s: %w", currency, date, core.ErrRateNotFound)
	}

	perUSD, err := core.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate for %s on %s: %w", currency, date, err)
	}
	if perUSD.IsZero() {
		return decimal.Zero, fmt.Errorf("zero rate for %s on %s: %w", currency, date, core.ErrRateNotFound)
	}

	return core.ClampTwoDecimals(amount.DivRound(perUSD, 8)), nil
}
