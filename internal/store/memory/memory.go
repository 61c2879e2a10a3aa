// Package memory is a mutex-guarded in-memory Store. Data is lost on restart;
// it backs tests and the single-binary dev mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/store"
)

// Store is an in-memory implementation of store.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	accounts map[string]*domain.Account
	txns     map[string]*domain.Transaction // key: accountID + "\x00" + externalID
	locks    map[string]domain.Lock
	runs     []*domain.SyncRun

	// FailNextUpsert injects one store.ErrConflict, exercising the
	// retry-once-with-fresh-read path.
	FailNextUpsert bool

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		txns:     make(map[string]*domain.Transaction),
		locks:    make(map[string]domain.Lock),
		now:      time.Now,
	}
}

// PutAccount seeds or replaces an account row.
func (s *Store) PutAccount(a *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

// SetClock overrides the time source, for TTL expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func txKey(accountID, externalID string) string {
	return accountID + "\x00" + externalID
}

// GetAccount implements store.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAccountByExternalID implements store.Store.
func (s *Store) GetAccountByExternalID(ctx context.Context, externalAccountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ExternalAccountID == externalAccountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListAccounts implements store.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetSyncStatus implements store.Store.
func (s *Store) SetSyncStatus(ctx context.Context, accountID string, status domain.SyncStatus, syncErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.SyncStatus = status
	a.SyncError = syncErr
	return nil
}

// FlagRelink implements store.Store.
func (s *Store) FlagRelink(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.NeedsRelink = true
	return nil
}

// UpdateAccountBalance implements store.Store.
func (s *Store) UpdateAccountBalance(ctx context.Context, accountID string, balance float64, asOf time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.LastSyncedAt != nil && !asOf.After(*a.LastSyncedAt) {
		return false, nil
	}
	a.CurrentBalance = balance
	t := asOf
	a.LastSyncedAt = &t
	return true, nil
}

// UpsertTransaction implements store.Store.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextUpsert {
		s.FailNextUpsert = false
		return store.ErrConflict
	}
	cp := *tx
	cp.Embedding = append([]float32(nil), tx.Embedding...)
	cp.UpdatedAt = s.now()
	if existing, ok := s.txns[txKey(tx.AccountID, tx.ExternalID)]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.txns[txKey(tx.AccountID, tx.ExternalID)] = &cp
	*tx = cp
	return nil
}

// GetTransaction implements store.Store.
func (s *Store) GetTransaction(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[txKey(accountID, externalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	cp.Embedding = append([]float32(nil), t.Embedding...)
	return &cp, nil
}

// MarkRemoved implements store.Store.
func (s *Store) MarkRemoved(ctx context.Context, accountID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[txKey(accountID, externalID)]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = domain.StatusRemoved
	t.UpdatedAt = s.now()
	return nil
}

// ListTransactions implements store.Store.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Transaction
	for k, t := range s.txns {
		if strings.HasPrefix(k, accountID+"\x00") {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// GetCursor implements store.Store.
func (s *Store) GetCursor(ctx context.Context, accountID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Cursor == nil {
		return nil, nil
	}
	c := *a.Cursor
	return &c, nil
}

// SetCursor implements store.Store.
func (s *Store) SetCursor(ctx context.Context, accountID, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Cursor = &cursor
	return nil
}

// AcquireLock implements store.Store.
func (s *Store) AcquireLock(ctx context.Context, accountID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.locks[accountID]; ok && now.Before(l.ExpiresAt()) {
		return store.ErrLockHeld
	}
	s.locks[accountID] = domain.Lock{AccountID: accountID, AcquiredAt: now, TTL: ttl}
	return nil
}

// ReleaseLock implements store.Store.
func (s *Store) ReleaseLock(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, accountID)
	return nil
}

// CreateSyncRun implements store.Store.
func (s *Store) CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// FinalizeSyncRun implements store.Store.
func (s *Store) FinalizeSyncRun(ctx context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == run.ID {
			if r.FinishedAt != nil {
				return store.ErrConflict
			}
			cp := *run
			s.runs[i] = &cp
			return nil
		}
	}
	return store.ErrNotFound
}

// ListSyncRuns implements store.Store.
func (s *Store) ListSyncRuns(ctx context.Context, accountID string, from, to time.Time) ([]*domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SyncRun
	for _, r := range s.runs {
		if r.AccountID != accountID {
			continue
		}
		if r.StartedAt.Before(from) || r.StartedAt.After(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

var _ store.Store = (*Store)(nil)
