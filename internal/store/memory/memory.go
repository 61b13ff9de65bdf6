// Package memory is the ephemeral map-backed store, used for local runs and
// tests. One mutex guards every table, which makes InsertBalanceIfAbsent and
// UpdateBalance trivially atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

type Store struct {
	mu           sync.Mutex
	users        map[string]core.User // by id
	usersByEmail map[string]string    // email -> id
	accounts     map[string]core.Account
	balances     map[string]core.BalanceRecord
	balanceKey   map[string]string      // period key -> balance id
	fxRates      map[string]core.FxRate // by date
	audits       []core.AuditEntry
}

func New() *Store {
	return &Store{
		users:        make(map[string]core.User),
		usersByEmail: make(map[string]string),
		accounts:     make(map[string]core.Account),
		balances:     make(map[string]core.BalanceRecord),
		balanceKey:   make(map[string]string),
		fxRates:      make(map[string]core.FxRate),
	}
}

func (s *Store) Close() error { return nil }

func balanceKey(userID, accountID string, period core.Period) string {
	return fmt.Sprintf("%s|%s|%d|%d", userID, accountID, period.Year, period.Month)
}

func (s *Store) FindOrCreateUser(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	now := time.Now().UTC()
	if id, ok := s.usersByEmail[email]; ok {
		u := s.users[id]
		u.LastLoginAt = now
		s.users[id] = u
		return u, nil
	}
	u := core.User{
		ID:           uuid.NewString(),
		Email:        email,
		CreatedAt:    now,
		LastLoginAt:  now,
		BaseCurrency: core.CurrencyUSD,
		Locale:       "en",
		Active:       true,
	}
	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrAccountNotFound
	}
	return u, nil
}

func (s *Store) CreateAccount(_ context.Context, account core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Store) UpdateAccount(_ context.Context, userID, accountID string, upd store.AccountUpdate) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok || account.UserID != userID {
		return core.Account{}, core.ErrAccountNotFound
	}
	if upd.Name != nil {
		account.Name = *upd.Name
	}
	if upd.Provider != nil {
		account.Provider = *upd.Provider
	}
	if upd.BaseCurrency != nil {
		account.BaseCurrency = *upd.BaseCurrency
	}
	if upd.Active != nil {
		account.Active = *upd.Active
	}
	if upd.Note != nil {
		account.Note = *upd.Note
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = account
	return account, nil
}

func (s *Store) DeleteAccount(_ context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok || account.UserID != userID {
		return core.ErrAccountNotFound
	}
	for _, b := range s.balances {
		if b.AccountID == accountID {
			return core.ErrAccountHasBalances
		}
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID, accountID string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok || account.UserID != userID {
		return core.Account{}, core.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) ListAccounts(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetBalanceByKey(_ context.Context, userID, accountID string, period core.Period) (core.BalanceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.balanceKey[balanceKey(userID, accountID, period)]
	if !ok {
		return core.BalanceRecord{}, false, nil
	}
	return s.balances[id], true, nil
}

func (s *Store) GetBalance(_ context.Context, userID, id string) (core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[id]
	if !ok || b.UserID != userID {
		return core.BalanceRecord{}, core.ErrBalanceNotFound
	}
	return b, nil
}

func (s *Store) InsertBalanceIfAbsent(_ context.Context, record core.BalanceRecord) (core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey(record.UserID, record.AccountID, core.Period{Year: record.Year, Month: record.Month})
	if id, ok := s.balanceKey[key]; ok {
		return s.balances[id], nil
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.balances[record.ID] = record
	s.balanceKey[key] = record.ID
	return record, nil
}

func (s *Store) UpdateBalance(_ context.Context, userID, id string, mutate func(*core.BalanceRecord) error) (core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[id]
	if !ok || b.UserID != userID {
		return core.BalanceRecord{}, core.ErrBalanceNotFound
	}
	if err := mutate(&b); err != nil {
		return core.BalanceRecord{}, err
	}
	s.balances[id] = b
	return b, nil
}

func (s *Store) ListBalancesByPeriod(_ context.Context, userID string, period core.Period) ([]core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.BalanceRecord
	for _, b := range s.balances {
		if b.UserID == userID && b.Year == period.Year && b.Month == period.Month {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListBalancesByUser(_ context.Context, userID string) ([]core.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.BalanceRecord
	for _, b := range s.balances {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki := core.Period{Year: out[i].Year, Month: out[i].Month}.Key()
		kj := core.Period{Year: out[j].Year, Month: out[j].Month}.Key()
		if ki == kj {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return ki < kj
	})
	return out, nil
}

func (s *Store) UpsertFxRate(_ context.Context, rate core.FxRate) (core.FxRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.fxRates[rate.Date]; ok && rate.ID == "" {
		rate.ID = existing.ID
	}
	if rate.ID == "" {
		rate.ID = fmt.Sprintf("%s-%s", rate.Base, rate.Date)
	}
	s.fxRates[rate.Date] = rate
	return rate, nil
}

func (s *Store) GetFxRate(_ context.Context, date string) (core.FxRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate, ok := s.fxRates[date]
	if !ok {
		return core.FxRate{}, core.ErrRateNotFound
	}
	return rate, nil
}

func (s *Store) ListFxRates(_ context.Context, from, to string) ([]core.FxRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.FxRate
	for _, rate := range s.fxRates {
		if from != "" && rate.Date < from {
			continue
		}
		if to != "" && rate.Date > to {
			continue
		}
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) AppendAudit(_ context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) ListAuditByUser(_ context.Context, userID string, limit int) ([]core.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.AuditEntry
	for i := len(s.audits) - 1; i >= 0; i-- {
		if s.audits[i].UserID != userID {
			continue
		}
		out = append(out, s.audits[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
