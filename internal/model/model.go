// Package model defines the core domain types shared across the position
// engine. All on-chain amounts use math/big integers; float64 is never used
// for token quantities or collateral values.
package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade directions as recorded by the decoding layer.
const (
	TradeBuy  = "BUY"
	TradeSell = "SELL"
)

// MarketPosition is the per-(user, market, outcome) holdings ledger entry.
// NetQuantity and NetValue are derived from the gross totals by the engine's
// reconcile step; a negative NetQuantity is a detectable data-integrity
// signal, never clamped.
type MarketPosition struct {
	User         common.Address `json:"user"`
	Market       common.Address `json:"market"`
	OutcomeIndex uint           `json:"outcome_index"`

	QuantityBought *big.Int `json:"quantity_bought"`
	QuantitySold   *big.Int `json:"quantity_sold"`
	NetQuantity    *big.Int `json:"net_quantity"`
	ValueBought    *big.Int `json:"value_bought"`
	ValueSold      *big.Int `json:"value_sold"`
	NetValue       *big.Int `json:"net_value"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewMarketPosition returns the canonical zero-valued position for the given
// identity. The caller decides whether it is ever persisted.
func NewMarketPosition(user, market common.Address, outcomeIndex uint) *MarketPosition {
	return &MarketPosition{
		User:           user,
		Market:         market,
		OutcomeIndex:   outcomeIndex,
		QuantityBought: new(big.Int),
		QuantitySold:   new(big.Int),
		NetQuantity:    new(big.Int),
		ValueBought:    new(big.Int),
		ValueSold:      new(big.Int),
		NetValue:       new(big.Int),
	}
}

// Key returns the deterministic composite key for this position.
func (p *MarketPosition) Key() string {
	return PositionKey(p.User, p.Market, p.OutcomeIndex)
}

// Clone returns a deep copy. big.Int fields are mutable, so stores must
// never hand out aliases of their internal state.
func (p *MarketPosition) Clone() *MarketPosition {
	c := *p
	c.QuantityBought = new(big.Int).Set(p.QuantityBought)
	c.QuantitySold = new(big.Int).Set(p.QuantitySold)
	c.NetQuantity = new(big.Int).Set(p.NetQuantity)
	c.ValueBought = new(big.Int).Set(p.ValueBought)
	c.ValueSold = new(big.Int).Set(p.ValueSold)
	c.NetValue = new(big.Int).Set(p.NetValue)
	return &c
}

// PositionKey builds the composite key {user}|{market}|{outcomeIndex}.
// Addresses are lower-cased so keys are insensitive to checksum casing.
func PositionKey(user, market common.Address, outcomeIndex uint) string {
	return fmt.Sprintf("%s|%s|%d",
		strings.ToLower(user.Hex()),
		strings.ToLower(market.Hex()),
		outcomeIndex,
	)
}

// Market is the read-only market-maker metadata the reducers need: how many
// outcome slots the market trades and which condition backs it. Markets with
// more than one backing condition are rejected at registration; the
// accounting rules assume exactly one.
type Market struct {
	Address          common.Address `json:"address"`
	ConditionID      common.Hash    `json:"condition_id"`
	OutcomeSlotCount uint           `json:"outcome_slot_count"`
	CollateralToken  common.Address `json:"collateral_token"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Condition is the oracle-reported resolution state for a condition.
// PayoutNumerators and PayoutDenominator are absent until the oracle
// resolves; redemption against an unresolved condition is a hard
// precondition failure.
type Condition struct {
	ID                common.Hash    `json:"id"`
	Oracle            common.Address `json:"oracle"`
	OutcomeSlotCount  uint           `json:"outcome_slot_count"`
	PayoutNumerators  []*big.Int     `json:"payout_numerators,omitempty"`
	PayoutDenominator *big.Int       `json:"payout_denominator,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// Resolved reports whether the condition carries a usable payout vector.
func (c *Condition) Resolved() bool {
	return c != nil &&
		len(c.PayoutNumerators) > 0 &&
		c.PayoutDenominator != nil &&
		c.PayoutDenominator.Sign() > 0
}

// Clone returns a deep copy.
func (c *Condition) Clone() *Condition {
	d := *c
	if c.PayoutNumerators != nil {
		d.PayoutNumerators = make([]*big.Int, len(c.PayoutNumerators))
		for i, n := range c.PayoutNumerators {
			d.PayoutNumerators[i] = new(big.Int).Set(n)
		}
	}
	if c.PayoutDenominator != nil {
		d.PayoutDenominator = new(big.Int).Set(c.PayoutDenominator)
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		d.ResolvedAt = &t
	}
	return &d
}

// Transaction is a trade intent recorded by the decoding layer before the
// corresponding transfer event is applied. Looked up by transaction hash;
// absence indicates a correlation failure between the transfer event and its
// expected prior record.
type Transaction struct {
	Hash                common.Hash    `json:"hash"`
	User                common.Address `json:"user"`
	Market              common.Address `json:"market"`
	OutcomeIndex        uint           `json:"outcome_index"`
	Type                string         `json:"type"` // TradeBuy or TradeSell
	OutcomeTokensAmount *big.Int       `json:"outcome_tokens_amount"`
	TradeAmount         *big.Int       `json:"trade_amount"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.OutcomeTokensAmount != nil {
		c.OutcomeTokensAmount = new(big.Int).Set(t.OutcomeTokensAmount)
	}
	if t.TradeAmount != nil {
		c.TradeAmount = new(big.Int).Set(t.TradeAmount)
	}
	return &c
}
