package starknet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

var errAlreadyMinted = errors.New("token already minted")

// MemoryManager mirrors "which tokens exist per project" in memory. It backs
// CHAIN_BACKEND=memory for local runs and stands in for the chain in tests.
type MemoryManager struct {
	mu    sync.Mutex
	nfts  map[string]map[string]string
	mints map[string]int
	seq   int

	// Test knobs for simulating chain behaviour.
	Unreachable bool
	MintErr     error
	HashFunc    func(projectID, tokenID string) string
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		nfts:  make(map[string]map[string]string),
		mints: make(map[string]int),
	}
}

func (m *MemoryManager) TokenPresence(_ context.Context, projectID, tokenID string) domain.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unreachable {
		return domain.PresenceUnknown
	}
	if _, ok := m.nfts[projectID][tokenID]; ok {
		return domain.PresencePresent
	}
	return domain.PresenceAbsent
}

func (m *MemoryManager) ProjectHasToken(ctx context.Context, projectID, tokenID string) bool {
	return m.TokenPresence(ctx, projectID, tokenID) == domain.PresencePresent
}

// MintProjectToken records the token under the recipient. Minting a token
// that already exists is a permanent failure, as it would be on chain.
func (m *MemoryManager) MintProjectToken(_ context.Context, projectID, tokenID, starknetAccount string) (domain.MintResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MintErr != nil {
		return domain.MintResult{}, m.MintErr
	}
	if _, ok := m.nfts[projectID][tokenID]; ok {
		return domain.MintResult{}, &domain.MintError{Err: fmt.Errorf("%s/%s: %w", projectID, tokenID, errAlreadyMinted)}
	}
	if m.nfts[projectID] == nil {
		m.nfts[projectID] = make(map[string]string)
	}
	m.nfts[projectID][tokenID] = starknetAccount
	m.mints[projectID+"/"+tokenID]++
	m.seq++

	hash := fmt.Sprintf("0x%064x", m.seq)
	if m.HashFunc != nil {
		hash = m.HashFunc(projectID, tokenID)
	}
	return domain.MintResult{TransactionHash: hash}, nil
}

// Owner returns the account a token was minted to.
func (m *MemoryManager) Owner(projectID, tokenID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.nfts[projectID][tokenID]
	return owner, ok
}

// MintCount reports how many successful mints a token has seen.
func (m *MemoryManager) MintCount(projectID, tokenID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mints[projectID+"/"+tokenID]
}

var _ Manager = (*MemoryManager)(nil)
