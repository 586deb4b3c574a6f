package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// MemoryStore is an in-memory implementation of every repository in this
// package, guarded by a single mutex. It is constructed once and handed to
// whoever needs it; tests use it in place of PostgreSQL.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	items  []*domain.QueueItem
	keys   map[customerKey][]string
	txs    []domain.Transaction
	locks  map[tokenKey]mintLease

	// Now is the store clock; tests may replace it.
	Now func() time.Time

	// Error overrides for simulating store failures in tests.
	EnqueueErr  error
	ClaimErr    error
	ListErr     error
	FetchTxErr  error
	SaveKeysErr error
	GetKeysErr  error
}

type customerKey struct{ wallet, project string }

type tokenKey struct{ project, token string }

type mintLease struct {
	holder     string
	acquiredAt time.Time
}

func NewMemoryStore(txs ...domain.Transaction) *MemoryStore {
	return &MemoryStore{
		keys:  make(map[customerKey][]string),
		txs:   append([]domain.Transaction(nil), txs...),
		locks: make(map[tokenKey]mintLease),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddTransactions records source-chain transfers, as the indexer would.
func (s *MemoryStore) AddTransactions(txs ...domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
}

func (s *MemoryStore) Queue() QueueRepository { return &memoryQueue{s} }
func (s *MemoryStore) CustomerKeys() CustomerKeysRepository { return &memoryCustomerKeys{s} }
func (s *MemoryStore) Transactions() TransactionRepository { return &memoryTransactions{s} }
func (s *MemoryStore) MintLocks() MintLockRepository { return &memoryMintLocks{s} }

// ---- queue ----

type memoryQueue struct{ s *MemoryStore }

func (q *memoryQueue) Enqueue(_ context.Context, walletPubKey, projectID, starknetAccount string, tokenIDs []string) ([]*domain.QueueItem, error) {
	s := q.s
	if s.EnqueueErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnqueue, s.EnqueueErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	result := make([]*domain.QueueItem, 0, len(tokenIDs))
	for _, token := range tokenIDs {
		if active := s.activeLocked(walletPubKey, projectID, token); active != nil {
			result = append(result, clone(active))
			continue
		}
		it := s.insertLocked(walletPubKey, projectID, token, starknetAccount, 1, now)
		result = append(result, clone(it))
	}
	return result, nil
}

func (q *memoryQueue) ClaimBatch(_ context.Context, owner string, limit int) ([]*domain.QueueItem, error) {
	s := q.s
	if s.ClaimErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, s.ClaimErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var claimed []*domain.QueueItem
	for _, it := range s.items {
		if len(claimed) >= limit {
			break
		}
		if it.Status != domain.StatusPending {
			continue
		}
		o := owner + "/" + uuid.NewString()
		t := now
		it.Status = domain.StatusProcessing
		it.ClaimedBy = &o
		it.ClaimedAt = &t
		it.UpdatedAt = now
		claimed = append(claimed, clone(it))
	}
	return claimed, nil
}

func (q *memoryQueue) GetByID(_ context.Context, id int64) (*domain.QueueItem, error) {
	s := q.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.byIDLocked(id)
	if it == nil {
		return nil, domain.ErrNotFound
	}
	return clone(it), nil
}

func (q *memoryQueue) ListByCustomer(_ context.Context, walletPubKey, projectID string) ([]*domain.QueueItem, error) {
	s := q.s
	if s.ListErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, s.ListErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*domain.QueueItem
	for _, it := range s.items {
		if it.WalletPubKey == walletPubKey && it.ProjectID == projectID {
			result = append(result, clone(it))
		}
	}
	return result, nil
}

func (q *memoryQueue) RecordTransactionHash(_ context.Context, id int64, txHash string) error {
	s := q.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.byIDLocked(id)
	if it == nil {
		return domain.ErrNotFound
	}
	h := txHash
	it.TransactionHash = &h
	it.UpdatedAt = s.Now()
	return nil
}

func (q *memoryQueue) MarkSuccess(_ context.Context, id int64, claim string, txHash *string) error {
	return q.s.transition(id, claim, func(it *domain.QueueItem) {
		it.Status = domain.StatusSuccess
		if txHash != nil {
			h := *txHash
			it.TransactionHash = &h
		}
		it.LastError = nil
	})
}

func (q *memoryQueue) MarkError(_ context.Context, id int64, claim string, errMsg string, retryable bool, nextRetry *time.Time) error {
	return q.s.transition(id, claim, func(it *domain.QueueItem) {
		it.Status = domain.StatusError
		it.LastError = &errMsg
		it.Retryable = retryable
		it.NextRetryAt = nil
		if nextRetry != nil {
			t := *nextRetry
			it.NextRetryAt = &t
		}
	})
}

func (q *memoryQueue) Release(_ context.Context, id int64, claim string) error {
	return q.s.transition(id, claim, func(it *domain.QueueItem) {
		it.Status = domain.StatusPending
		it.ClaimedAt = nil
		it.ClaimedBy = nil
	})
}

func (q *memoryQueue) ReclaimStale(_ context.Context, claimedBefore time.Time) (int, error) {
	s := q.s
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.Status == domain.StatusProcessing && it.ClaimedAt != nil && it.ClaimedAt.Before(claimedBefore) {
			it.Status = domain.StatusPending
			it.ClaimedAt = nil
			it.ClaimedBy = nil
			it.UpdatedAt = s.Now()
			n++
		}
	}
	return n, nil
}

func (q *memoryQueue) FindDueRetries(_ context.Context, maxAttempts, limit int) ([]*domain.QueueItem, error) {
	s := q.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var due []*domain.QueueItem
	for _, it := range s.items {
		if it.Status == domain.StatusError && it.Retryable && it.NextRetryAt != nil &&
			!it.NextRetryAt.After(now) && it.Attempt < maxAttempts {
			due = append(due, clone(it))
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *memoryQueue) Retry(_ context.Context, id int64) (*domain.QueueItem, error) {
	s := q.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.byIDLocked(id)
	if prev == nil {
		return nil, domain.ErrNotFound
	}
	if prev.Status != domain.StatusError {
		return nil, domain.ErrNotRetryable
	}
	now := s.Now()
	prev.Retryable = false
	prev.NextRetryAt = nil
	prev.UpdatedAt = now

	if active := s.activeLocked(prev.WalletPubKey, prev.ProjectID, prev.TokenID); active != nil {
		return clone(active), nil
	}
	it := s.insertLocked(prev.WalletPubKey, prev.ProjectID, prev.TokenID, prev.StarknetAccount, prev.Attempt+1, now)
	if prev.TransactionHash != nil {
		h := *prev.TransactionHash
		it.TransactionHash = &h
	}
	return clone(it), nil
}

func (s *MemoryStore) transition(id int64, claim string, apply func(it *domain.QueueItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.byIDLocked(id)
	if it == nil || it.Status != domain.StatusProcessing || it.ClaimedBy == nil || *it.ClaimedBy != claim {
		return domain.ErrLeaseLost
	}
	apply(it)
	it.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) insertLocked(wallet, project, token, account string, attempt int, now time.Time) *domain.QueueItem {
	s.nextID++
	it := &domain.QueueItem{
		ID:              s.nextID,
		WalletPubKey:    wallet,
		ProjectID:       project,
		TokenID:         token,
		StarknetAccount: account,
		Status:          domain.StatusPending,
		Attempt:         attempt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.items = append(s.items, it)
	return it
}

func (s *MemoryStore) activeLocked(wallet, project, token string) *domain.QueueItem {
	for _, it := range s.items {
		if it.WalletPubKey == wallet && it.ProjectID == project && it.TokenID == token && it.Status != domain.StatusError {
			return it
		}
	}
	return nil
}

func (s *MemoryStore) byIDLocked(id int64) *domain.QueueItem {
	for _, it := range s.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func clone(it *domain.QueueItem) *domain.QueueItem {
	c := *it
	if it.TransactionHash != nil {
		h := *it.TransactionHash
		c.TransactionHash = &h
	}
	if it.LastError != nil {
		e := *it.LastError
		c.LastError = &e
	}
	if it.ClaimedBy != nil {
		o := *it.ClaimedBy
		c.ClaimedBy = &o
	}
	return &c
}

// ---- customer keys ----

type memoryCustomerKeys struct{ s *MemoryStore }

func (c *memoryCustomerKeys) SaveCustomerKeys(_ context.Context, keys domain.CustomerKeys) error {
	s := c.s
	if s.SaveKeysErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrFetch, s.SaveKeysErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := customerKey{keys.WalletPubKey, keys.ProjectID}
	s.keys[k] = domain.MergeTokenIDs(s.keys[k], keys.TokenIDs)
	return nil
}

func (c *memoryCustomerKeys) GetCustomerKeys(_ context.Context, walletPubKey, projectID string) (*domain.CustomerKeys, error) {
	s := c.s
	if s.GetKeysErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, s.GetKeysErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, ok := s.keys[customerKey{walletPubKey, projectID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.CustomerKeys{
		WalletPubKey: walletPubKey,
		ProjectID:    projectID,
		TokenIDs:     append([]string(nil), tokens...),
	}, nil
}

// ---- transactions ----

type memoryTransactions struct{ s *MemoryStore }

func (t *memoryTransactions) GetTransactionsForContract(_ context.Context, projectID, tokenID string) ([]domain.Transaction, error) {
	s := t.s
	if s.FetchTxErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, s.FetchTxErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Transaction
	for _, tx := range s.txs {
		if tx.Contract != projectID || tx.Msg.TransferNft == nil {
			continue
		}
		if tx.Msg.TransferNft.TokenID == tokenID {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Height < result[j].Height })
	return result, nil
}

// ---- mint locks ----

type memoryMintLocks struct{ s *MemoryStore }

func (m *memoryMintLocks) Acquire(_ context.Context, projectID, tokenID, holder string, ttl time.Duration) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey{projectID, tokenID}
	now := s.Now()
	if l, ok := s.locks[k]; ok && l.holder != holder && now.Sub(l.acquiredAt) < ttl {
		return false, nil
	}
	s.locks[k] = mintLease{holder: holder, acquiredAt: now}
	return true, nil
}

func (m *memoryMintLocks) Release(_ context.Context, projectID, tokenID, holder string) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey{projectID, tokenID}
	if l, ok := s.locks[k]; ok && l.holder == holder {
		delete(s.locks, k)
	}
	return nil
}
