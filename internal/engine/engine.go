// Package engine applies decoded on-chain events to market positions.
//
// Each reducer takes an existing position (or its zero state), applies one
// event's accounting rule, reconciles the derived net fields, and persists
// every touched position as a single atomic batch. Events are processed one
// at a time in blockchain order with no look-ahead; lookup failures skip the
// event, and a negative net quantity is flagged but never clamped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenx/position-engine/internal/diag"
	"github.com/omenx/position-engine/internal/fpmm"
	"github.com/omenx/position-engine/internal/metrics"
	"github.com/omenx/position-engine/internal/model"
	"github.com/omenx/position-engine/internal/store"
)

// Notifier receives position upserts for real-time consumers.
type Notifier interface {
	PositionUpserted(p *model.MarketPosition)
}

// Engine holds the reducers. It assumes serialized, single-threaded
// application of events; the store serializes any external writers.
type Engine struct {
	store    store.Store
	diag     *diag.Recorder
	notifier Notifier // optional; nil disables broadcasts
}

// New creates an engine. Pass nil for notifier if real-time broadcasting
// is not needed.
func New(st store.Store, recorder *diag.Recorder, notifier Notifier) *Engine {
	return &Engine{
		store:    st,
		diag:     recorder,
		notifier: notifier,
	}
}

// RecordTransaction persists a trade intent so the matching transfer event
// can be correlated later. Called by the decode layer before ApplyTrade.
func (e *Engine) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	return e.store.SaveTransaction(ctx, txn)
}

// RegisterMarket stores market-maker metadata. The engine only supports
// single-condition markets; callers must reject anything else before
// registration (see chain.Dispatcher).
func (e *Engine) RegisterMarket(ctx context.Context, m *model.Market) error {
	return e.store.SaveMarket(ctx, m)
}

// RegisterCondition stores condition metadata, including the payout vector
// once resolved.
func (e *Engine) RegisterCondition(ctx context.Context, c *model.Condition) error {
	return e.store.SaveCondition(ctx, c)
}

// ApplyTrade applies the buy/sell trade previously recorded for txHash.
// A missing transaction record is a correlation failure: one diagnostic,
// no mutation.
func (e *Engine) ApplyTrade(ctx context.Context, txHash common.Hash) error {
	defer observe("trade")()

	txn, err := e.store.GetTransaction(ctx, txHash)
	if errors.Is(err, store.ErrNotFound) {
		e.skip("trade")
		e.diag.LookupFailure(diag.KindTransactionNotFound,
			common.Address{}, common.Address{}, txHash.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	p, err := e.store.GetPosition(ctx, txn.User, txn.Market, txn.OutcomeIndex)
	if err != nil {
		return err
	}

	switch txn.Type {
	case model.TradeBuy:
		p.QuantityBought.Add(p.QuantityBought, txn.OutcomeTokensAmount)
		p.ValueBought.Add(p.ValueBought, txn.TradeAmount)
	case model.TradeSell:
		p.QuantitySold.Add(p.QuantitySold, txn.OutcomeTokensAmount)
		p.ValueSold.Add(p.ValueSold, txn.TradeAmount)
	default:
		e.skip("trade")
		e.diag.LookupFailure(diag.KindBadEventPayload, txn.User, txn.Market,
			fmt.Sprintf("unknown trade type %q in %s", txn.Type, txHash.Hex()))
		return nil
	}

	e.reconcile(p)
	return e.persist(ctx, "trade", p)
}

// ApplySplit applies a collateral split: amount collateral is converted into
// amount units of every outcome token. Each outcome's value share is
// equal-weighted for lack of market-price information.
func (e *Engine) ApplySplit(ctx context.Context, user, market common.Address, amount *big.Int) error {
	defer observe("split")()
	return e.applySymmetric(ctx, "split", user, market, amount, false)
}

// ApplyMerge applies a token merge, the inverse of a split: amount units of
// every outcome token are burned for amount collateral.
func (e *Engine) ApplyMerge(ctx context.Context, user, market common.Address, amount *big.Int) error {
	defer observe("merge")()
	return e.applySymmetric(ctx, "merge", user, market, amount, true)
}

// applySymmetric is the shared body of split and merge, which affect all
// outcomes of a market identically; sell flips the bought fields to sold.
func (e *Engine) applySymmetric(ctx context.Context, event string, user, market common.Address, amount *big.Int, sell bool) error {
	m, err := e.store.GetMarket(ctx, market)
	if errors.Is(err, store.ErrNotFound) {
		e.skip(event)
		e.diag.LookupFailure(diag.KindMarketNotFound, user, market, market.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	valueShare, err := fpmm.EqualWeightShare(amount, m.OutcomeSlotCount)
	if err != nil {
		e.skip(event)
		e.diag.LookupFailure(diag.KindBadEventPayload, user, market,
			"market has zero outcome slots")
		return nil
	}

	positions := make([]*model.MarketPosition, 0, m.OutcomeSlotCount)
	for i := uint(0); i < m.OutcomeSlotCount; i++ {
		p, err := e.store.GetPosition(ctx, user, market, i)
		if err != nil {
			return err
		}
		if sell {
			p.QuantitySold.Add(p.QuantitySold, amount)
			p.ValueSold.Add(p.ValueSold, valueShare)
		} else {
			p.QuantityBought.Add(p.QuantityBought, amount)
			p.ValueBought.Add(p.ValueBought, valueShare)
		}
		e.reconcile(p)
		positions = append(positions, p)
	}

	return e.persist(ctx, event, positions...)
}

// ApplyRedemption redeems the user's full balance of each given outcome
// index against the market's resolved payout vector. An unresolved
// condition or a slot-count mismatch is a hard precondition failure: one
// diagnostic, no mutation at all.
func (e *Engine) ApplyRedemption(ctx context.Context, user, market common.Address, outcomeIndexes []uint) error {
	defer observe("redemption")()

	m, err := e.store.GetMarket(ctx, market)
	if errors.Is(err, store.ErrNotFound) {
		e.skip("redemption")
		e.diag.LookupFailure(diag.KindMarketNotFound, user, market, market.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	cond, err := e.store.GetCondition(ctx, m.ConditionID)
	if errors.Is(err, store.ErrNotFound) {
		e.skip("redemption")
		e.diag.LookupFailure(diag.KindConditionNotFound, user, market, m.ConditionID.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	if !cond.Resolved() {
		e.skip("redemption")
		e.diag.LookupFailure(diag.KindConditionUnresolved, user, market, m.ConditionID.Hex())
		return nil
	}
	if uint(len(cond.PayoutNumerators)) != m.OutcomeSlotCount {
		e.skip("redemption")
		e.diag.LookupFailure(diag.KindConditionMismatch, user, market,
			fmt.Sprintf("condition has %d payout slots, market has %d",
				len(cond.PayoutNumerators), m.OutcomeSlotCount))
		return nil
	}
	for _, i := range outcomeIndexes {
		if i >= m.OutcomeSlotCount {
			e.skip("redemption")
			e.diag.LookupFailure(diag.KindBadEventPayload, user, market,
				fmt.Sprintf("outcome index %d out of range (%d slots)", i, m.OutcomeSlotCount))
			return nil
		}
	}

	positions := make([]*model.MarketPosition, 0, len(outcomeIndexes))
	for _, i := range outcomeIndexes {
		p, err := e.store.GetPosition(ctx, user, market, i)
		if err != nil {
			return err
		}
		// The full balance is always redeemed; partial redemption of a
		// position is not representable on-chain.
		redemptionValue := fpmm.RedemptionValue(
			p.NetQuantity, cond.PayoutNumerators[i], cond.PayoutDenominator)
		p.QuantitySold.Add(p.QuantitySold, p.NetQuantity)
		p.ValueSold.Add(p.ValueSold, redemptionValue)
		e.reconcile(p)
		positions = append(positions, p)
	}

	return e.persist(ctx, "redemption", positions...)
}

// ApplyFundingAdded credits the funder with the excess outcome tokens the
// market maker refunds when liquidity is added unevenly. The largest
// single-outcome contribution is the collateral actually split; the
// difference to sharesMinted is the total value of the refunded tokens,
// apportioned per outcome by refunded amount.
func (e *Engine) ApplyFundingAdded(ctx context.Context, funder, market common.Address, amountsAdded []*big.Int, sharesMinted *big.Int) error {
	defer observe("funding_added")()

	if len(amountsAdded) == 0 {
		e.skip("funding_added")
		e.diag.LookupFailure(diag.KindBadEventPayload, funder, market, "empty amountsAdded")
		return nil
	}

	addedFunds := fpmm.AddedFunds(amountsAdded)
	totalRefundedValue := new(big.Int).Sub(addedFunds, sharesMinted)
	refunded := fpmm.RefundedAmounts(addedFunds, amountsAdded)
	totalRefundedTokens := fpmm.Sum(refunded)

	positions := make([]*model.MarketPosition, 0, len(amountsAdded))
	for i := range amountsAdded {
		p, err := e.store.GetPosition(ctx, funder, market, uint(i))
		if err != nil {
			return err
		}
		p.QuantityBought.Add(p.QuantityBought, refunded[i])
		p.ValueBought.Add(p.ValueBought,
			fpmm.RefundValue(totalRefundedValue, refunded[i], totalRefundedTokens))
		e.reconcile(p)
		positions = append(positions, p)
	}

	return e.persist(ctx, "funding_added", positions...)
}

// ApplyFundingRemoved credits the funder with the outcome tokens returned on
// liquidity withdrawal, valued uniformly per outcome at sharesBurnt / N.
func (e *Engine) ApplyFundingRemoved(ctx context.Context, funder, market common.Address, amountsRemoved []*big.Int, sharesBurnt *big.Int) error {
	defer observe("funding_removed")()

	if len(amountsRemoved) == 0 {
		e.skip("funding_removed")
		e.diag.LookupFailure(diag.KindBadEventPayload, funder, market, "empty amountsRemoved")
		return nil
	}

	pricePaid, err := fpmm.RemovalPricePerOutcome(sharesBurnt, uint(len(amountsRemoved)))
	if err != nil {
		return err
	}

	positions := make([]*model.MarketPosition, 0, len(amountsRemoved))
	for i := range amountsRemoved {
		p, err := e.store.GetPosition(ctx, funder, market, uint(i))
		if err != nil {
			return err
		}
		p.QuantityBought.Add(p.QuantityBought, amountsRemoved[i])
		p.ValueBought.Add(p.ValueBought, pricePaid)
		e.reconcile(p)
		positions = append(positions, p)
	}

	return e.persist(ctx, "funding_removed", positions...)
}

// reconcile recomputes the derived net fields. A negative net quantity is
// flagged through the diagnostic channel but neither clamped nor blocked
// from persistence, so downstream consumers can detect the anomaly.
func (e *Engine) reconcile(p *model.MarketPosition) {
	p.NetQuantity = new(big.Int).Sub(p.QuantityBought, p.QuantitySold)
	p.NetValue = new(big.Int).Sub(p.ValueBought, p.ValueSold)
	if p.NetQuantity.Sign() < 0 {
		e.diag.InvariantViolation(p)
	}
}

// persist writes all touched positions as one atomic batch and broadcasts
// the upserts.
func (e *Engine) persist(ctx context.Context, event string, positions ...*model.MarketPosition) error {
	now := time.Now().UTC()
	for _, p := range positions {
		p.UpdatedAt = now
	}

	if err := e.store.SavePositions(ctx, positions); err != nil {
		return fmt.Errorf("engine: persist %s: %w", event, err)
	}

	metrics.EventsTotal.WithLabelValues(event).Inc()
	metrics.PositionsUpserted.Add(float64(len(positions)))

	for _, p := range positions {
		slog.Debug("position upserted",
			"event", event,
			"user", p.User.Hex(),
			"market", p.Market.Hex(),
			"outcome_index", p.OutcomeIndex,
			"net_quantity", p.NetQuantity.String(),
			"net_value", p.NetValue.String(),
		)
		if e.notifier != nil {
			e.notifier.PositionUpserted(p)
		}
	}
	return nil
}

func (e *Engine) skip(event string) {
	metrics.EventsSkipped.WithLabelValues(event).Inc()
}

func observe(event string) func() {
	start := time.Now()
	return func() {
		metrics.EventLatency.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
}
