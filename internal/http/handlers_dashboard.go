package http

import (
	"fmt"
	"net/http"

	"investtrack/internal/core"
	"investtrack/internal/log"
)

type dashboardView struct {
	Year         int           `json:"year"`
	Month        int           `json:"month"`
	TotalClosing string        `json:"totalClosing"`
	Records      int           `json:"records"`
	Balances     []balanceJSON `json:"balances"`
}

func dashboardKey(userID string, period core.Period) string {
	return fmt.Sprintf("%s|%s", userID, period.String())
}

func (s *Server) invalidateDashboard(userID string, period core.Period) {
	s.dashCache.Delete(dashboardKey(userID, period))
}

func (s *Server) handleMonthlyDashboard(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriodQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserIDFromContext(r.Context())
	key := dashboardKey(userID, period)

	if view, ok := s.dashCache.Get(key); ok {
		log.FromContext(r.Context()).Debug("Dashboard cache hit",
			log.FieldYear, period.Year,
			log.FieldMonth, period.Month)
		writeJSON(w, http.StatusOK, view)
		return
	}

	total, count, err := s.engine.MonthlyAggregate(r.Context(), userID, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.engine.ListForPeriod(r.Context(), userID, period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := dashboardView{
		Year:         period.Year,
		Month:        period.Month,
		TotalClosing: core.FormatAmount(total),
		Records:      count,
		Balances:     toBalanceListJSON(records),
	}
	s.dashCache.Set(key, view)

	writeJSON(w, http.StatusOK, view)
}
