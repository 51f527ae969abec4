package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omenx/position-engine/internal/diag"
	"github.com/omenx/position-engine/internal/engine"
	"github.com/omenx/position-engine/internal/model"
	"github.com/omenx/position-engine/internal/store"
)

// Dispatcher decodes logs and invokes exactly one reducer per event.
// Logs with unknown topics are ignored; malformed payloads and failed
// metadata lookups become diagnostics, never errors. Only storage
// failures propagate.
type Dispatcher struct {
	store  store.Store
	engine *engine.Engine
	diag   *diag.Recorder
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(st store.Store, eng *engine.Engine, recorder *diag.Recorder) *Dispatcher {
	return &Dispatcher{store: st, engine: eng, diag: recorder}
}

// Dispatch decodes one log and applies it. Events must be delivered in the
// order they were committed on-chain; the dispatcher has no reordering or
// idempotence protection.
func (d *Dispatcher) Dispatch(ctx context.Context, log types.Log) error {
	if len(log.Topics) == 0 {
		return nil
	}

	ev, err := eventsABI.EventByID(log.Topics[0])
	if err != nil {
		slog.Debug("ignoring unknown log topic", "topic", log.Topics[0].Hex())
		return nil
	}

	vals, err := unpackData(ev.Name, log)
	if err != nil {
		d.badPayload(log, ev.Name, err)
		return nil
	}

	switch ev.Name {
	case "ConditionPreparation":
		return d.onConditionPreparation(ctx, log, vals)
	case "ConditionResolution":
		return d.onConditionResolution(ctx, log, vals)
	case "PositionSplit", "PositionsMerge":
		return d.onSplitOrMerge(ctx, log, vals, ev.Name == "PositionsMerge")
	case "PayoutRedemption":
		return d.onPayoutRedemption(ctx, log, vals)
	case "FPMMBuy":
		return d.onTrade(ctx, log, vals, model.TradeBuy)
	case "FPMMSell":
		return d.onTrade(ctx, log, vals, model.TradeSell)
	case "FPMMFundingAdded":
		return d.onFundingAdded(ctx, log, vals)
	case "FPMMFundingRemoved":
		return d.onFundingRemoved(ctx, log, vals)
	case "FixedProductMarketMakerCreation":
		return d.onMarketCreation(ctx, log, vals)
	}
	return nil
}

func (d *Dispatcher) onConditionPreparation(ctx context.Context, log types.Log, vals []interface{}) error {
	slotCount, ok := vals[0].(*big.Int)
	if !ok {
		d.badPayload(log, "ConditionPreparation", errUnexpectedType)
		return nil
	}
	return d.engine.RegisterCondition(ctx, &model.Condition{
		ID:               log.Topics[1],
		Oracle:           topicAddress(log, 2),
		OutcomeSlotCount: uint(slotCount.Uint64()),
	})
}

func (d *Dispatcher) onConditionResolution(ctx context.Context, log types.Log, vals []interface{}) error {
	slotCount, ok1 := vals[0].(*big.Int)
	numerators, ok2 := vals[1].([]*big.Int)
	if !ok1 || !ok2 {
		d.badPayload(log, "ConditionResolution", errUnexpectedType)
		return nil
	}

	// The framework defines the payout denominator as the numerator sum.
	denominator := new(big.Int)
	for _, n := range numerators {
		denominator.Add(denominator, n)
	}
	now := time.Now().UTC()

	return d.engine.RegisterCondition(ctx, &model.Condition{
		ID:                log.Topics[1],
		Oracle:            topicAddress(log, 2),
		OutcomeSlotCount:  uint(slotCount.Uint64()),
		PayoutNumerators:  numerators,
		PayoutDenominator: denominator,
		ResolvedAt:        &now,
	})
}

func (d *Dispatcher) onSplitOrMerge(ctx context.Context, log types.Log, vals []interface{}, merge bool) error {
	amount, ok := vals[2].(*big.Int)
	if !ok {
		d.badPayload(log, "PositionSplit/PositionsMerge", errUnexpectedType)
		return nil
	}

	stakeholder := topicAddress(log, 1)
	parentCollectionID := log.Topics[2]
	conditionID := log.Topics[3]

	// Nested splits (non-zero parent collection) do not touch collateral
	// and are outside the single-condition accounting model.
	if parentCollectionID != (common.Hash{}) {
		slog.Debug("ignoring nested split/merge",
			"parent_collection", parentCollectionID.Hex())
		return nil
	}

	market, err := d.store.GetMarketByCondition(ctx, conditionID)
	if errors.Is(err, store.ErrNotFound) {
		d.diag.LookupFailure(diag.KindMarketNotFound, stakeholder, common.Address{},
			"no market for condition "+conditionID.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	if merge {
		return d.engine.ApplyMerge(ctx, stakeholder, market.Address, amount)
	}
	return d.engine.ApplySplit(ctx, stakeholder, market.Address, amount)
}

func (d *Dispatcher) onPayoutRedemption(ctx context.Context, log types.Log, vals []interface{}) error {
	conditionID, ok1 := vals[0].([32]byte)
	indexSets, ok2 := vals[1].([]*big.Int)
	if !ok1 || !ok2 {
		d.badPayload(log, "PayoutRedemption", errUnexpectedType)
		return nil
	}

	redeemer := topicAddress(log, 1)

	market, err := d.store.GetMarketByCondition(ctx, common.Hash(conditionID))
	if errors.Is(err, store.ErrNotFound) {
		d.diag.LookupFailure(diag.KindMarketNotFound, redeemer, common.Address{},
			"no market for condition "+common.Hash(conditionID).Hex())
		return nil
	}
	if err != nil {
		return err
	}

	return d.engine.ApplyRedemption(ctx, redeemer, market.Address,
		OutcomeIndexesFromIndexSets(indexSets))
}

func (d *Dispatcher) onTrade(ctx context.Context, log types.Log, vals []interface{}, tradeType string) error {
	tradeAmount, ok1 := vals[0].(*big.Int)
	tokens, ok2 := vals[2].(*big.Int)
	if !ok1 || !ok2 {
		d.badPayload(log, "FPMMBuy/FPMMSell", errUnexpectedType)
		return nil
	}

	txn := &model.Transaction{
		Hash:                log.TxHash,
		User:                topicAddress(log, 1),
		Market:              log.Address,
		OutcomeIndex:        topicUint(log, 2),
		Type:                tradeType,
		OutcomeTokensAmount: tokens,
		TradeAmount:         tradeAmount,
	}
	if err := d.engine.RecordTransaction(ctx, txn); err != nil {
		return err
	}
	return d.engine.ApplyTrade(ctx, log.TxHash)
}

func (d *Dispatcher) onFundingAdded(ctx context.Context, log types.Log, vals []interface{}) error {
	amountsAdded, ok1 := vals[0].([]*big.Int)
	sharesMinted, ok2 := vals[1].(*big.Int)
	if !ok1 || !ok2 {
		d.badPayload(log, "FPMMFundingAdded", errUnexpectedType)
		return nil
	}
	return d.engine.ApplyFundingAdded(ctx, topicAddress(log, 1), log.Address,
		amountsAdded, sharesMinted)
}

func (d *Dispatcher) onFundingRemoved(ctx context.Context, log types.Log, vals []interface{}) error {
	amountsRemoved, ok1 := vals[0].([]*big.Int)
	sharesBurnt, ok2 := vals[2].(*big.Int)
	if !ok1 || !ok2 {
		d.badPayload(log, "FPMMFundingRemoved", errUnexpectedType)
		return nil
	}
	return d.engine.ApplyFundingRemoved(ctx, topicAddress(log, 1), log.Address,
		amountsRemoved, sharesBurnt)
}

func (d *Dispatcher) onMarketCreation(ctx context.Context, log types.Log, vals []interface{}) error {
	marketAddr, ok1 := vals[0].(common.Address)
	conditionIDs, ok2 := vals[1].([][32]byte)
	if !ok1 || !ok2 {
		d.badPayload(log, "FixedProductMarketMakerCreation", errUnexpectedType)
		return nil
	}

	creator := topicAddress(log, 1)

	// Single-condition precondition, checked at the boundary: the
	// accounting rules mis-attribute value on multi-condition markets,
	// so those are rejected outright instead of silently mis-accounted.
	if len(conditionIDs) != 1 {
		d.diag.LookupFailure(diag.KindConditionMismatch, creator, marketAddr,
			fmt.Sprintf("market backed by %d conditions, expected 1", len(conditionIDs)))
		return nil
	}
	conditionID := common.Hash(conditionIDs[0])

	cond, err := d.store.GetCondition(ctx, conditionID)
	if errors.Is(err, store.ErrNotFound) {
		d.diag.LookupFailure(diag.KindConditionNotFound, creator, marketAddr,
			conditionID.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	return d.engine.RegisterMarket(ctx, &model.Market{
		Address:          marketAddr,
		ConditionID:      conditionID,
		OutcomeSlotCount: cond.OutcomeSlotCount,
		CollateralToken:  topicAddress(log, 3),
		CreatedAt:        time.Now().UTC(),
	})
}

var errUnexpectedType = errors.New("chain: unexpected field type in unpacked payload")

func (d *Dispatcher) badPayload(log types.Log, name string, err error) {
	d.diag.LookupFailure(diag.KindBadEventPayload, common.Address{}, log.Address,
		fmt.Sprintf("%s in tx %s: %v", name, log.TxHash.Hex(), err))
}
