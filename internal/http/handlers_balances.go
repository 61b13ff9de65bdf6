package http

import (
	"net/http"
	"strconv"
	"strings"

	"investtrack/internal/core"
)

type bulkUpdateRequest struct {
	Year  int              `json:"year"`
	Month int              `json:"month"`
	Items []bulkUpdateItem `json:"items"`
}

type bulkUpdateItem struct {
	AccountID string `json:"accountId"`
	Inflow    string `json:"inflow"`
	Outflow   string `json:"outflow"`
	Closing   string `json:"closing"`
}

type bulkUpdateResponse struct {
	Updated []balanceJSON `json:"updated"`
	Error   string        `json:"error,omitempty"`
}

// parsePeriodQuery reads year and month query parameters into a validated
// period.
func parsePeriodQuery(r *http.Request) (core.Period, error) {
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		return core.Period{}, core.ErrInvalidPeriod
	}
	month, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil {
		return core.Period{}, core.ErrInvalidPeriod
	}
	p := core.Period{Year: year, Month: month}
	return p, p.Validate()
}

func (s *Server) handleListBalances(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriodQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := s.engine.ListForPeriod(r.Context(), UserIDFromContext(r.Context()), period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceListJSON(records))
}

func (s *Server) handleBalanceSeries(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		badRequest(w, "from and to are required (YYYY-MM)")
		return
	}

	records, err := s.engine.ListSeries(r.Context(), UserIDFromContext(r.Context()), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceListJSON(records))
}

// handleBulkUpdate applies one month's batch of account edits. Items commit
// independently; on failure the response still carries everything that was
// already written, plus the failing account's error.
func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		badRequest(w, "items must not be empty")
		return
	}

	period := core.Period{Year: req.Year, Month: req.Month}
	if err := period.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserIDFromContext(r.Context())
	items := make([]core.BulkUpdateItem, 0, len(req.Items))
	for _, it := range req.Items {
		if strings.TrimSpace(it.AccountID) == "" {
			badRequest(w, "accountId is required on every item")
			return
		}
		items = append(items, core.BulkUpdateItem{
			AccountID: it.AccountID,
			Inflow:    it.Inflow,
			Outflow:   it.Outflow,
			Closing:   it.Closing,
		})
	}

	updated, err := s.engine.ApplyBulkUpdate(r.Context(), userID, period, items)
	s.invalidateDashboard(userID, period)

	resp := bulkUpdateResponse{Updated: toBalanceListJSON(updated)}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseBalance(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	record, err := s.engine.Close(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The rollover touches the following period too.
	period := core.Period{Year: record.Year, Month: record.Month}
	s.invalidateDashboard(userID, period)
	s.invalidateDashboard(userID, period.Next())

	writeJSON(w, http.StatusOK, toBalanceJSON(record))
}

func (s *Server) handleReopenBalance(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	record, err := s.engine.Reopen(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDashboard(userID, core.Period{Year: record.Year, Month: record.Month})
	writeJSON(w, http.StatusOK, toBalanceJSON(record))
}
