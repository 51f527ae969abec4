package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/omenx/position-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, user, market common.Address, outcomeIndex uint) (*model.MarketPosition, error) {
	key := positionCacheKey(model.PositionKey(user, market, outcomeIndex))

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		p := model.NewMarketPosition(user, market, outcomeIndex)
		if json.Unmarshal(data, p) == nil {
			return p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, user, market, outcomeIndex)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, address common.Address) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketCacheKey(address)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, address)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByCondition(ctx context.Context, conditionID common.Hash) (*model.Market, error) {
	// Try cache via condition→market mapping.
	addrHex, err := s.rdb.Get(ctx, conditionMarketKey(conditionID)).Result()
	if err == nil {
		return s.GetMarket(ctx, common.HexToAddress(addrHex))
	}

	m, err := s.primary.GetMarketByCondition(ctx, conditionID)
	if err != nil {
		return nil, err
	}

	// Cache both the market and the condition→address mapping.
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, conditionMarketKey(conditionID), m.Address.Hex(), s.ttl)
	return m, nil
}

func (s *CachedStore) GetCondition(ctx context.Context, id common.Hash) (*model.Condition, error) {
	data, err := s.rdb.Get(ctx, conditionCacheKey(id)).Bytes()
	if err == nil {
		var c model.Condition
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCondition(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, conditionCacheKey(id), data, s.ttl)
	}
	return c, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SavePositions(ctx context.Context, positions []*model.MarketPosition) error {
	if err := s.primary.SavePositions(ctx, positions); err != nil {
		return err
	}
	for _, p := range positions {
		s.rdb.Del(ctx, positionCacheKey(p.Key()))
	}
	return nil
}

func (s *CachedStore) SaveMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, conditionMarketKey(m.ConditionID), m.Address.Hex(), s.ttl)
	return nil
}

func (s *CachedStore) SaveCondition(ctx context.Context, c *model.Condition) error {
	if err := s.primary.SaveCondition(ctx, c); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the resolved payout vector.
	s.rdb.Del(ctx, conditionCacheKey(c.ID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositionsByUser(ctx context.Context, user common.Address) ([]model.MarketPosition, error) {
	return s.primary.ListPositionsByUser(ctx, user)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, market common.Address) ([]model.MarketPosition, error) {
	return s.primary.ListPositionsByMarket(ctx, market)
}

func (s *CachedStore) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	return s.primary.SaveTransaction(ctx, txn)
}

func (s *CachedStore) GetTransaction(ctx context.Context, hash common.Hash) (*model.Transaction, error) {
	return s.primary.GetTransaction(ctx, hash)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketCacheKey(m.Address), data, s.ttl)
	}
}

func positionCacheKey(key string) string             { return fmt.Sprintf("position:%s", key) }
func marketCacheKey(a common.Address) string         { return fmt.Sprintf("market:%s", a.Hex()) }
func conditionCacheKey(id common.Hash) string        { return fmt.Sprintf("condition:%s", id.Hex()) }
func conditionMarketKey(id common.Hash) string       { return fmt.Sprintf("condition-market:%s", id.Hex()) }
