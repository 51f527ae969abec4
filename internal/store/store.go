// Package store defines the persistence interface for the position engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenx/position-engine/internal/model"
)

// ErrNotFound is returned when a referenced market, condition, or
// transaction record does not exist. Positions are never "not found":
// GetPosition synthesizes a zero-valued position instead.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Position operations ---

	// GetPosition returns the stored position for (user, market, outcome),
	// or a freshly zero-initialized one that has not been persisted yet.
	GetPosition(ctx context.Context, user, market common.Address, outcomeIndex uint) (*model.MarketPosition, error)

	// SavePositions upserts all given positions as one atomic batch.
	// Reducers that touch several outcomes of a market rely on this being
	// all-or-nothing.
	SavePositions(ctx context.Context, positions []*model.MarketPosition) error

	// ListPositionsByUser returns all positions held by a user.
	ListPositionsByUser(ctx context.Context, user common.Address) ([]model.MarketPosition, error)

	// ListPositionsByMarket returns all positions in a market.
	ListPositionsByMarket(ctx context.Context, market common.Address) ([]model.MarketPosition, error)

	// --- Market metadata ---

	// SaveMarket upserts market-maker metadata.
	SaveMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its address.
	GetMarket(ctx context.Context, address common.Address) (*model.Market, error)

	// GetMarketByCondition retrieves the market backed by a condition.
	GetMarketByCondition(ctx context.Context, conditionID common.Hash) (*model.Market, error)

	// --- Conditions ---

	// SaveCondition upserts a condition, including its payout vector once
	// the oracle has resolved.
	SaveCondition(ctx context.Context, condition *model.Condition) error

	// GetCondition retrieves a condition by ID.
	GetCondition(ctx context.Context, id common.Hash) (*model.Condition, error)

	// --- Transactions ---

	// SaveTransaction records a trade intent keyed by transaction hash.
	SaveTransaction(ctx context.Context, txn *model.Transaction) error

	// GetTransaction retrieves a previously recorded trade intent.
	GetTransaction(ctx context.Context, hash common.Hash) (*model.Transaction, error)
}
