package memory

import (
	"context"
	"sync"

	"github.com/dappnode/validator-duties/internal/application/domain"
)

// SlashingStore keeps slashing records for the lifetime of the process only.
type SlashingStore struct {
	mu      sync.RWMutex
	records map[domain.BLSPubKey]domain.SlashingRecord
}

func NewSlashingStore() *SlashingStore {
	return &SlashingStore{records: make(map[domain.BLSPubKey]domain.SlashingRecord)}
}

func (s *SlashingStore) LoadRecord(_ context.Context, pubkey domain.BLSPubKey) (domain.SlashingRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[pubkey]
	return r, ok, nil
}

func (s *SlashingStore) SaveRecord(_ context.Context, pubkey domain.BLSPubKey, record domain.SlashingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pubkey] = record
	return nil
}
