package pending

import (
	"context"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps slots in process memory. Test and dry-run use only; it
// cannot give the read-your-writes guarantee the chain-backed store does.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[ethCommon.Address]Transfer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[ethCommon.Address]Transfer)}
}

func (s *MemoryStore) Get(_ context.Context, key ethCommon.Address) (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.slots[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) Put(_ context.Context, key ethCommon.Address, t Transfer, override bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.slots[key]; ok && !existing.IsEmpty() && !override {
		return ErrConflictingPendingTransfer
	}
	s.slots[key] = t
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key ethCommon.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}
