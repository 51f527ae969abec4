package engine_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenx/position-engine/internal/diag"
	"github.com/omenx/position-engine/internal/engine"
	"github.com/omenx/position-engine/internal/model"
	"github.com/omenx/position-engine/internal/store"
)

func bi(n int64) *big.Int {
	return big.NewInt(n)
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func hsh(b byte) common.Hash {
	return common.BytesToHash([]byte{b})
}

// newTestEnv creates an engine over an in-memory store with a fresh
// diagnostic recorder.
func newTestEnv(t *testing.T) (*engine.Engine, *store.MemoryStore, *diag.Recorder) {
	t.Helper()
	ms := store.NewMemoryStore()
	recorder := diag.NewRecorder(100)
	return engine.New(ms, recorder, nil), ms, recorder
}

// seedMarket registers a market with the given outcome slot count.
func seedMarket(t *testing.T, ms *store.MemoryStore, market common.Address, conditionID common.Hash, slots uint) {
	t.Helper()
	err := ms.SaveMarket(context.Background(), &model.Market{
		Address:          market,
		ConditionID:      conditionID,
		OutcomeSlotCount: slots,
	})
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
}

// seedResolvedCondition registers a condition with the given payout vector.
func seedResolvedCondition(t *testing.T, ms *store.MemoryStore, id common.Hash, numerators []int64, denominator int64) {
	t.Helper()
	c := &model.Condition{
		ID:                id,
		OutcomeSlotCount:  uint(len(numerators)),
		PayoutDenominator: bi(denominator),
	}
	for _, n := range numerators {
		c.PayoutNumerators = append(c.PayoutNumerators, bi(n))
	}
	if err := ms.SaveCondition(context.Background(), c); err != nil {
		t.Fatalf("failed to seed condition: %v", err)
	}
}

func getPosition(t *testing.T, ms *store.MemoryStore, user, market common.Address, index uint) *model.MarketPosition {
	t.Helper()
	p, err := ms.GetPosition(context.Background(), user, market, index)
	if err != nil {
		t.Fatalf("failed to load position: %v", err)
	}
	return p
}

func assertField(t *testing.T, name string, got *big.Int, want int64) {
	t.Helper()
	if got.Cmp(bi(want)) != 0 {
		t.Errorf("%s = %s, want %d", name, got, want)
	}
}

// --- Trade reducer ---

func TestApplyTrade_Buy(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)

	txn := &model.Transaction{
		Hash:                hsh(9),
		User:                user,
		Market:              market,
		OutcomeIndex:        1,
		Type:                model.TradeBuy,
		OutcomeTokensAmount: bi(100),
		TradeAmount:         bi(60),
	}
	if err := eng.RecordTransaction(ctx, txn); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if err := eng.ApplyTrade(ctx, hsh(9)); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	p := getPosition(t, ms, user, market, 1)
	assertField(t, "quantityBought", p.QuantityBought, 100)
	assertField(t, "valueBought", p.ValueBought, 60)
	assertField(t, "netQuantity", p.NetQuantity, 100)
	assertField(t, "netValue", p.NetValue, 60)
}

func TestApplyTrade_SellAfterBuy(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)

	buy := &model.Transaction{
		Hash: hsh(1), User: user, Market: market, OutcomeIndex: 0,
		Type: model.TradeBuy, OutcomeTokensAmount: bi(100), TradeAmount: bi(60),
	}
	sell := &model.Transaction{
		Hash: hsh(2), User: user, Market: market, OutcomeIndex: 0,
		Type: model.TradeSell, OutcomeTokensAmount: bi(40), TradeAmount: bi(30),
	}
	for _, txn := range []*model.Transaction{buy, sell} {
		if err := eng.RecordTransaction(ctx, txn); err != nil {
			t.Fatalf("record transaction: %v", err)
		}
		if err := eng.ApplyTrade(ctx, txn.Hash); err != nil {
			t.Fatalf("apply trade: %v", err)
		}
	}

	p := getPosition(t, ms, user, market, 0)
	assertField(t, "quantityBought", p.QuantityBought, 100)
	assertField(t, "quantitySold", p.QuantitySold, 40)
	assertField(t, "netQuantity", p.NetQuantity, 60)
	assertField(t, "valueBought", p.ValueBought, 60)
	assertField(t, "valueSold", p.ValueSold, 30)
	assertField(t, "netValue", p.NetValue, 30)
}

func TestApplyTrade_MissingTransaction(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()

	if err := eng.ApplyTrade(ctx, hsh(42)); err != nil {
		t.Fatalf("apply trade should not error on missing transaction: %v", err)
	}

	positions, _ := ms.ListPositionsByUser(ctx, addr(1))
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
	if recorder.Count() != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", recorder.Count())
	}
	if got := recorder.Recent(1)[0].Kind; got != diag.KindTransactionNotFound {
		t.Errorf("diagnostic kind = %s, want %s", got, diag.KindTransactionNotFound)
	}
}

// --- Split / Merge reducers ---

func TestApplySplit_EqualWeightValuation(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 3)

	if err := eng.ApplySplit(ctx, user, market, bi(90)); err != nil {
		t.Fatalf("apply split: %v", err)
	}

	for i := uint(0); i < 3; i++ {
		p := getPosition(t, ms, user, market, i)
		assertField(t, "quantityBought", p.QuantityBought, 90)
		assertField(t, "valueBought", p.ValueBought, 30)
		assertField(t, "netQuantity", p.NetQuantity, 90)
	}
}

func TestApplySplit_ValueShareTruncates(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 3)

	if err := eng.ApplySplit(ctx, user, market, bi(100)); err != nil {
		t.Fatalf("apply split: %v", err)
	}

	p := getPosition(t, ms, user, market, 0)
	assertField(t, "valueBought", p.ValueBought, 33) // 100/3 truncated
}

func TestApplySplit_UnknownMarket(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()

	if err := eng.ApplySplit(ctx, addr(1), addr(2), bi(100)); err != nil {
		t.Fatalf("apply split should not error on unknown market: %v", err)
	}

	positions, _ := ms.ListPositionsByUser(ctx, addr(1))
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
	if recorder.Count() != 1 {
		t.Errorf("expected exactly one diagnostic, got %d", recorder.Count())
	}
}

func TestSplitThenMergeRoundTrip(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 4)

	// Establish a prior balance so the round trip has something to preserve.
	txn := &model.Transaction{
		Hash: hsh(1), User: user, Market: market, OutcomeIndex: 2,
		Type: model.TradeBuy, OutcomeTokensAmount: bi(50), TradeAmount: bi(20),
	}
	if err := eng.RecordTransaction(ctx, txn); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if err := eng.ApplyTrade(ctx, txn.Hash); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	if err := eng.ApplySplit(ctx, user, market, bi(80)); err != nil {
		t.Fatalf("apply split: %v", err)
	}
	if err := eng.ApplyMerge(ctx, user, market, bi(80)); err != nil {
		t.Fatalf("apply merge: %v", err)
	}

	for i := uint(0); i < 4; i++ {
		p := getPosition(t, ms, user, market, i)
		wantQty, wantVal := int64(0), int64(0)
		if i == 2 {
			wantQty, wantVal = 50, 20
		}
		assertField(t, "netQuantity", p.NetQuantity, wantQty)
		assertField(t, "netValue", p.NetValue, wantVal)
	}
	if recorder.Count() != 0 {
		t.Errorf("round trip should produce no diagnostics, got %d", recorder.Count())
	}
}

// --- Redemption reducer ---

func TestApplyRedemption_DrivesNetQuantityToZero(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 2)
	seedResolvedCondition(t, ms, hsh(7), []int64{1, 0}, 1)

	if err := eng.ApplySplit(ctx, user, market, bi(100)); err != nil {
		t.Fatalf("apply split: %v", err)
	}
	if err := eng.ApplyRedemption(ctx, user, market, []uint{0, 1}); err != nil {
		t.Fatalf("apply redemption: %v", err)
	}

	winner := getPosition(t, ms, user, market, 0)
	assertField(t, "netQuantity", winner.NetQuantity, 0)
	assertField(t, "quantitySold", winner.QuantitySold, 100)
	assertField(t, "valueSold", winner.ValueSold, 100) // 100 * 1/1

	loser := getPosition(t, ms, user, market, 1)
	assertField(t, "netQuantity", loser.NetQuantity, 0)
	assertField(t, "valueSold", loser.ValueSold, 0) // 100 * 0/1
}

func TestApplyRedemption_PayoutTruncates(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 2)
	seedResolvedCondition(t, ms, hsh(7), []int64{1, 2}, 3)

	p := model.NewMarketPosition(user, market, 0)
	p.QuantityBought.SetInt64(100)
	p.NetQuantity.SetInt64(100)
	if err := ms.SavePositions(ctx, []*model.MarketPosition{p}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	if err := eng.ApplyRedemption(ctx, user, market, []uint{0}); err != nil {
		t.Fatalf("apply redemption: %v", err)
	}

	got := getPosition(t, ms, user, market, 0)
	assertField(t, "valueSold", got.ValueSold, 33) // 100 * 1/3 truncated
	assertField(t, "netQuantity", got.NetQuantity, 0)
}

func TestApplyRedemption_UnresolvedCondition(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 2)
	if err := ms.SaveCondition(ctx, &model.Condition{ID: hsh(7), OutcomeSlotCount: 2}); err != nil {
		t.Fatalf("seed condition: %v", err)
	}

	if err := eng.ApplySplit(ctx, user, market, bi(100)); err != nil {
		t.Fatalf("apply split: %v", err)
	}
	before := getPosition(t, ms, user, market, 0)

	if err := eng.ApplyRedemption(ctx, user, market, []uint{0, 1}); err != nil {
		t.Fatalf("apply redemption should not error: %v", err)
	}

	after := getPosition(t, ms, user, market, 0)
	if after.NetQuantity.Cmp(before.NetQuantity) != 0 || after.QuantitySold.Cmp(before.QuantitySold) != 0 {
		t.Errorf("position mutated despite unresolved condition")
	}
	if recorder.Count() != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", recorder.Count())
	}
	if got := recorder.Recent(1)[0].Kind; got != diag.KindConditionUnresolved {
		t.Errorf("diagnostic kind = %s, want %s", got, diag.KindConditionUnresolved)
	}
}

func TestApplyRedemption_SlotCountMismatch(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 3)
	seedResolvedCondition(t, ms, hsh(7), []int64{1, 0}, 1) // 2 slots, market has 3

	if err := eng.ApplyRedemption(ctx, user, market, []uint{0}); err != nil {
		t.Fatalf("apply redemption should not error: %v", err)
	}
	if recorder.Count() != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", recorder.Count())
	}
	if got := recorder.Recent(1)[0].Kind; got != diag.KindConditionMismatch {
		t.Errorf("diagnostic kind = %s, want %s", got, diag.KindConditionMismatch)
	}
}

// --- Liquidity reducers ---

func TestApplyFundingAdded_NoExcess(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()
	funder, market := addr(1), addr(2)

	amounts := []*big.Int{bi(100), bi(100), bi(100)}
	if err := eng.ApplyFundingAdded(ctx, funder, market, amounts, bi(100)); err != nil {
		t.Fatalf("apply funding added: %v", err)
	}

	for i := uint(0); i < 3; i++ {
		p := getPosition(t, ms, funder, market, i)
		assertField(t, "quantityBought", p.QuantityBought, 0)
		assertField(t, "valueBought", p.ValueBought, 0)
		assertField(t, "netQuantity", p.NetQuantity, 0)
	}
	if recorder.Count() != 0 {
		t.Errorf("expected no diagnostics, got %d", recorder.Count())
	}
}

func TestApplyFundingAdded_ProportionalRefunds(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	funder, market := addr(1), addr(2)

	// addedFunds=100, refunded=[0,20,40], totalRefundedTokens=60,
	// totalRefundedValue=40.
	amounts := []*big.Int{bi(100), bi(80), bi(60)}
	if err := eng.ApplyFundingAdded(ctx, funder, market, amounts, bi(60)); err != nil {
		t.Fatalf("apply funding added: %v", err)
	}

	p0 := getPosition(t, ms, funder, market, 0)
	assertField(t, "quantityBought", p0.QuantityBought, 0)
	assertField(t, "valueBought", p0.ValueBought, 0)

	p1 := getPosition(t, ms, funder, market, 1)
	assertField(t, "quantityBought", p1.QuantityBought, 20)
	assertField(t, "valueBought", p1.ValueBought, 13) // 40*20/60 truncated

	p2 := getPosition(t, ms, funder, market, 2)
	assertField(t, "quantityBought", p2.QuantityBought, 40)
	assertField(t, "valueBought", p2.ValueBought, 26) // 40*40/60 truncated
}

func TestApplyFundingRemoved_UniformValuation(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	funder, market := addr(1), addr(2)

	amounts := []*big.Int{bi(30), bi(25), bi(35)}
	if err := eng.ApplyFundingRemoved(ctx, funder, market, amounts, bi(90)); err != nil {
		t.Fatalf("apply funding removed: %v", err)
	}

	for i, wantQty := range []int64{30, 25, 35} {
		p := getPosition(t, ms, funder, market, uint(i))
		assertField(t, "quantityBought", p.QuantityBought, wantQty)
		assertField(t, "valueBought", p.ValueBought, 30) // 90/3 per outcome
	}
}

// --- Invariant handling ---

func TestNegativeNetQuantity_FlaggedAndPersisted(t *testing.T) {
	eng, ms, recorder := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)

	txn := &model.Transaction{
		Hash: hsh(1), User: user, Market: market, OutcomeIndex: 0,
		Type: model.TradeSell, OutcomeTokensAmount: bi(5), TradeAmount: bi(3),
	}
	if err := eng.RecordTransaction(ctx, txn); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if err := eng.ApplyTrade(ctx, txn.Hash); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	// Persisted with the negative value, not clamped.
	p := getPosition(t, ms, user, market, 0)
	assertField(t, "netQuantity", p.NetQuantity, -5)

	if recorder.Count() != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", recorder.Count())
	}
	if got := recorder.Recent(1)[0].Kind; got != diag.KindInvariantViolation {
		t.Errorf("diagnostic kind = %s, want %s", got, diag.KindInvariantViolation)
	}
}

// TestNetFieldsConsistency checks the reconciliation law over a mixed event
// sequence: netQuantity == quantityBought - quantitySold and
// netValue == valueBought - valueSold on every persisted position.
func TestNetFieldsConsistency(t *testing.T) {
	eng, ms, _ := newTestEnv(t)
	ctx := context.Background()
	user, market := addr(1), addr(2)
	seedMarket(t, ms, market, hsh(7), 3)

	if err := eng.ApplySplit(ctx, user, market, bi(100)); err != nil {
		t.Fatalf("apply split: %v", err)
	}
	if err := eng.ApplyFundingAdded(ctx, user, market,
		[]*big.Int{bi(50), bi(40), bi(30)}, bi(30)); err != nil {
		t.Fatalf("apply funding added: %v", err)
	}
	if err := eng.ApplyMerge(ctx, user, market, bi(20)); err != nil {
		t.Fatalf("apply merge: %v", err)
	}

	positions, err := ms.ListPositionsByUser(ctx, user)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(positions))
	}
	for _, p := range positions {
		wantQty := new(big.Int).Sub(p.QuantityBought, p.QuantitySold)
		wantVal := new(big.Int).Sub(p.ValueBought, p.ValueSold)
		if p.NetQuantity.Cmp(wantQty) != 0 {
			t.Errorf("outcome %d: netQuantity = %s, want %s", p.OutcomeIndex, p.NetQuantity, wantQty)
		}
		if p.NetValue.Cmp(wantVal) != 0 {
			t.Errorf("outcome %d: netValue = %s, want %s", p.OutcomeIndex, p.NetValue, wantVal)
		}
	}
}
