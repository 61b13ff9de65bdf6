package http

import (
	"time"

	"investtrack/internal/core"
)

// JSON views. Monetary fields are rendered as fixed two-decimal strings so
// clients never see float drift or trimmed zeros.

type accountJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	BaseCurrency string    `json:"baseCurrency"`
	Active       bool      `json:"active"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toAccountJSON(a core.Account) accountJSON {
	return accountJSON{
		ID:           a.ID,
		Name:         a.Name,
		Provider:     string(a.Provider),
		BaseCurrency: string(a.BaseCurrency),
		Active:       a.Active,
		Note:         a.Note,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type balanceJSON struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	Status        string    `json:"status"`
	Opening       string    `json:"opening"`
	Inflow        string    `json:"inflow"`
	Outflow       string    `json:"outflow"`
	Closing       string    `json:"closing"`
	Difference    string    `json:"difference"`
	USDEquivalent string    `json:"usdEquivalent"`
	Note          string    `json:"note,omitempty"`
	Provider      string    `json:"provider"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toBalanceJSON(b core.BalanceRecord) balanceJSON {
	return balanceJSON{
		ID:            b.ID,
		AccountID:     b.AccountID,
		Year:          b.Year,
		Month:         b.Month,
		Status:        string(b.Status),
		Opening:       core.FormatAmount(b.Opening),
		Inflow:        core.FormatAmount(b.Inflow),
		Outflow:       core.FormatAmount(b.Outflow),
		Closing:       core.FormatAmount(b.Closing),
		Difference:    core.FormatAmount(b.Difference),
		USDEquivalent: core.FormatAmount(b.USDEquivalent),
		Note:          b.Note,
		Provider:      string(b.Provider),
		Currency:      string(b.Currency),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func toBalanceListJSON(records []core.BalanceRecord) []balanceJSON {
	out := make([]balanceJSON, 0, len(records))
	for _, b := range records {
		out = append(out, toBalanceJSON(b))
	}
	return out
}

type fxRateJSON struct {
	ID        string            `json:"id"`
	Date      string            `json:"date"`
	Base      string            `json:"base"`
	Rates     map[string]string `json:"rates"`
	Source    string            `json:"source,omitempty"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

func toFxRateJSON(r core.FxRate) fxRateJSON {
	return fxRateJSON{
		ID:        r.ID,
		Date:      r.Date,
		Base:      string(r.Base),
		Rates:     r.Rates,
		Source:    r.Source,
		FetchedAt: r.FetchedAt,
	}
}
