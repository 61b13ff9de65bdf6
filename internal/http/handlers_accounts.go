package http

import (
	"net/http"
	"strings"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

type createAccountRequest struct {
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	BaseCurrency string `json:"baseCurrency"`
	Note         string `json:"note"`
}

type updateAccountRequest struct {
	Name         *string `json:"name"`
	Provider     *string `json:"provider"`
	BaseCurrency *string `json:"baseCurrency"`
	Active       *bool   `json:"active"`
	Note         *string `json:"note"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	account := core.Account{
		UserID:       UserIDFromContext(r.Context()),
		Name:         strings.TrimSpace(req.Name),
		Provider:     core.ProviderCode(strings.ToUpper(strings.TrimSpace(req.Provider))),
		BaseCurrency: core.CurrencyCode(strings.ToUpper(strings.TrimSpace(req.BaseCurrency))),
		Active:       true,
		Note:         req.Note,
	}
	if err := account.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	created, err := s.store.CreateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountJSON(created))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	upd := store.AccountUpdate{
		Active: req.Active,
		Note:   req.Note,
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 120 {
			badRequest(w, "invalid account name")
			return
		}
		upd.Name = &name
	}
	if req.Provider != nil {
		provider := core.ProviderCode(strings.ToUpper(strings.TrimSpace(*req.Provider)))
		if !provider.Valid() {
			badRequest(w, "invalid provider")
			return
		}
		upd.Provider = &provider
	}
	if req.BaseCurrency != nil {
		currency := core.CurrencyCode(strings.ToUpper(strings.TrimSpace(*req.BaseCurrency)))
		if !currency.Valid() {
			badRequest(w, "invalid base currency")
			return
		}
		upd.BaseCurrency = &currency
	}

	updated, err := s.store.UpdateAccount(r.Context(), UserIDFromContext(r.Context()), r.PathValue("id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountJSON(updated))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteAccount(r.Context(), UserIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
