package http

import (
	"net/http"
	"strings"
	"time"

	"investtrack/internal/core"
)

type fxUpdateRequest struct {
	Date   string            `json:"date"`
	Base   string            `json:"base"`
	Rates  map[string]string `json:"rates"`
	Source string            `json:"source"`
}

type usdViewResponse struct {
	Date     string `json:"date"`
	From     string `json:"from"`
	Amount   string `json:"amount"`
	USD      string `json:"usd"`
	RatePer1 string `json:"ratePerUsd"`
}

// handleFxRates serves a single day (?date=) or an inclusive range
// (?from=&to=).
func (s *Server) handleFxRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if date := strings.TrimSpace(q.Get("date")); date != "" {
		rate, err := s.fx.RateFor(r.Context(), date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toFxRateJSON(rate))
		return
	}

	rates, err := s.fx.RangeBetween(r.Context(), strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]fxRateJSON, 0, len(rates))
	for _, rate := range rates {
		out = append(out, toFxRateJSON(rate))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFxUpdate(w http.ResponseWriter, r *http.Request) {
	var req fxUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	if len(req.Rates) == 0 {
		badRequest(w, "rates must not be empty")
		return
	}
	for code, value := range req.Rates {
		if _, err := core.ParseAmount(value); err != nil {
			badRequest(w, "invalid rate for "+code)
			return
		}
	}

	base := core.CurrencyCode(strings.ToUpper(strings.TrimSpace(req.Base)))
	if base == "" {
		base = core.CurrencyUSD
	}

	rate, err := s.fx.Upsert(r.Context(), core.FxRate{
		Date:      req.Date,
		Base:      base,
		Rates:     req.Rates,
		Source:    req.Source,
		FetchedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFxRateJSON(rate))
}

// handleUsdView converts an amount to USD using the exact-date rate table.
// This is the only place currency conversion happens; the ledger itself
// never converts.
func (s *Server) handleUsdView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	from := strings.ToUpper(strings.TrimSpace(q.Get("from")))
	amountStr := strings.TrimSpace(q.Get("amount"))

	if date == "" || from == "" || amountStr == "" {
		badRequest(w, "date, amount and from are required")
		return
	}

	amount, err := core.ParseAmount(amountStr)
	if err != nil {
		writeError(w, r, err)
		return
	}

	usd, err := s.fx.ConvertToUSD(r.Context(), amount, core.CurrencyCode(from), date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := usdViewResponse{
		Date:   date,
		From:   from,
		Amount: core.FormatAmount(core.ClampTwoDecimals(amount)),
		USD:    core.FormatAmount(usd),
	}
	if rate, err := s.fx.RateFor(r.Context(), date); err == nil {
		if v, ok := rate.Rates[from]; ok {
			resp.RatePer1 = v
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
