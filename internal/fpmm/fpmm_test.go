package fpmm

import (
	"math/big"
	"testing"
)

func bi(n int64) *big.Int {
	return big.NewInt(n)
}

// --- Equal-weight split valuation ---

func TestEqualWeightShare(t *testing.T) {
	share, err := EqualWeightShare(bi(90), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share.Cmp(bi(30)) != 0 {
		t.Errorf("expected 30, got %s", share)
	}
}

func TestEqualWeightShare_Truncates(t *testing.T) {
	share, err := EqualWeightShare(bi(100), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share.Cmp(bi(33)) != 0 {
		t.Errorf("expected 33, got %s", share)
	}
}

func TestEqualWeightShare_ZeroOutcomes(t *testing.T) {
	_, err := EqualWeightShare(bi(100), 0)
	if err != ErrNoOutcomes {
		t.Errorf("expected ErrNoOutcomes, got %v", err)
	}
}

// --- Redemption ---

func TestRedemptionValue(t *testing.T) {
	tests := []struct {
		name                    string
		netQty, num, den, want  int64
	}{
		{"full payout", 100, 1, 1, 100},
		{"zero payout", 100, 0, 1, 0},
		{"fractional truncates", 100, 1, 3, 33},
		{"scaled payout", 100, 2, 3, 66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedemptionValue(bi(tt.netQty), bi(tt.num), bi(tt.den))
			if got.Cmp(bi(tt.want)) != 0 {
				t.Errorf("expected %d, got %s", tt.want, got)
			}
		})
	}
}

// --- Funding-added refund math ---

func TestAddedFunds_Max(t *testing.T) {
	got := AddedFunds([]*big.Int{bi(100), bi(80), bi(60)})
	if got.Cmp(bi(100)) != 0 {
		t.Errorf("expected 100, got %s", got)
	}
}

func TestAddedFunds_DoesNotAliasInput(t *testing.T) {
	amounts := []*big.Int{bi(100), bi(80)}
	got := AddedFunds(amounts)
	got.SetInt64(0)
	if amounts[0].Cmp(bi(100)) != 0 {
		t.Errorf("AddedFunds aliased its input")
	}
}

func TestRefundedAmounts(t *testing.T) {
	refunded := RefundedAmounts(bi(100), []*big.Int{bi(100), bi(80), bi(60)})
	want := []int64{0, 20, 40}
	for i, w := range want {
		if refunded[i].Cmp(bi(w)) != 0 {
			t.Errorf("refunded[%d] = %s, want %d", i, refunded[i], w)
		}
	}
}

func TestSum(t *testing.T) {
	got := Sum([]*big.Int{bi(0), bi(20), bi(40)})
	if got.Cmp(bi(60)) != 0 {
		t.Errorf("expected 60, got %s", got)
	}
}

func TestRefundValue_Proportional(t *testing.T) {
	// 40 total value over 60 refunded tokens: outcome with 40 tokens gets
	// 40*40/60 = 26 (truncated).
	got := RefundValue(bi(40), bi(40), bi(60))
	if got.Cmp(bi(26)) != 0 {
		t.Errorf("expected 26, got %s", got)
	}
}

func TestRefundValue_NoExcess(t *testing.T) {
	got := RefundValue(bi(0), bi(0), bi(0))
	if got.Sign() != 0 {
		t.Errorf("expected 0 when nothing was refunded, got %s", got)
	}
}

// --- Funding-removed valuation ---

func TestRemovalPricePerOutcome(t *testing.T) {
	got, err := RemovalPricePerOutcome(bi(90), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(bi(30)) != 0 {
		t.Errorf("expected 30, got %s", got)
	}
}

func TestRemovalPricePerOutcome_ZeroOutcomes(t *testing.T) {
	_, err := RemovalPricePerOutcome(bi(90), 0)
	if err != ErrNoOutcomes {
		t.Errorf("expected ErrNoOutcomes, got %v", err)
	}
}
