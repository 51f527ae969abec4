package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenx/position-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	positions    map[string]*model.MarketPosition
	markets      map[common.Address]*model.Market
	conditions   map[common.Hash]*model.Condition
	transactions map[common.Hash]*model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:    make(map[string]*model.MarketPosition),
		markets:      make(map[common.Address]*model.Market),
		conditions:   make(map[common.Hash]*model.Condition),
		transactions: make(map[common.Hash]*model.Transaction),
	}
}

func (s *MemoryStore) GetPosition(_ context.Context, user, market common.Address, outcomeIndex uint) (*model.MarketPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[model.PositionKey(user, market, outcomeIndex)]; ok {
		return p.Clone(), nil
	}
	return model.NewMarketPosition(user, market, outcomeIndex), nil
}

// SavePositions stores copies under a single lock, so a multi-outcome
// update is observed either entirely or not at all.
func (s *MemoryStore) SavePositions(_ context.Context, positions []*model.MarketPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		s.positions[p.Key()] = p.Clone()
	}
	return nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, user common.Address) ([]model.MarketPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToLower(user.Hex()) + "|"
	var result []model.MarketPosition
	for key, p := range s.positions {
		if strings.HasPrefix(key, prefix) {
			result = append(result, *p.Clone())
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, market common.Address) ([]model.MarketPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MarketPosition
	for _, p := range s.positions {
		if p.Market == market {
			result = append(result, *p.Clone())
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *m
	s.markets[m.Address] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, address common.Address) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[address]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", address.Hex(), ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) GetMarketByCondition(_ context.Context, conditionID common.Hash) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.ConditionID == conditionID {
			copy := *m
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("market for condition %s: %w", conditionID.Hex(), ErrNotFound)
}

func (s *MemoryStore) SaveCondition(_ context.Context, c *model.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditions[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) GetCondition(_ context.Context, id common.Hash) (*model.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conditions[id]
	if !ok {
		return nil, fmt.Errorf("condition %s: %w", id.Hex(), ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) SaveTransaction(_ context.Context, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions[txn.Hash] = txn.Clone()
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, hash common.Hash) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[hash]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ErrNotFound)
	}
	return txn.Clone(), nil
}
