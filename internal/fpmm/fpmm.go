// Package fpmm implements the accounting arithmetic of fixed-product
// market-maker mechanics: equal-weight valuation of collateral splits,
// proportional refund distribution on funding, and payout-ratio redemption.
//
// All functions are pure and stateless; amounts are on-chain scale
// math/big integers. Division truncates toward zero (big.Int.Quo), the
// same approximation the on-chain contracts apply. Remainders are lost,
// not redistributed.
package fpmm

import (
	"errors"
	"math/big"
)

// ErrNoOutcomes is returned when an operation requires at least one
// outcome slot.
var ErrNoOutcomes = errors.New("fpmm: market must have at least one outcome slot")

// EqualWeightShare returns amount / outcomeSlotCount, the per-outcome value
// attributed to a collateral split or token merge. Splitting is economically
// an even bet across all outcomes, so absent live pricing each outcome is
// valued identically.
func EqualWeightShare(amount *big.Int, outcomeSlotCount uint) (*big.Int, error) {
	if outcomeSlotCount == 0 {
		return nil, ErrNoOutcomes
	}
	return new(big.Int).Quo(amount, big.NewInt(int64(outcomeSlotCount))), nil
}

// RedemptionValue returns netQuantity * payoutNumerator / payoutDenominator,
// the collateral realized by redeeming a full outcome balance.
func RedemptionValue(netQuantity, payoutNumerator, payoutDenominator *big.Int) *big.Int {
	v := new(big.Int).Mul(netQuantity, payoutNumerator)
	return v.Quo(v, payoutDenominator)
}

// AddedFunds returns the largest single-outcome contribution in
// amountsAdded. The market maker only consumes the minimum common amount
// per outcome, so the maximum determines how much collateral was actually
// split; the rest comes back as excess outcome tokens.
func AddedFunds(amountsAdded []*big.Int) *big.Int {
	max := new(big.Int)
	for _, a := range amountsAdded {
		if a.Cmp(max) > 0 {
			max.Set(a)
		}
	}
	return max
}

// RefundedAmounts returns addedFunds - amountsAdded[i] per outcome: the
// excess outcome tokens handed back to the funder.
func RefundedAmounts(addedFunds *big.Int, amountsAdded []*big.Int) []*big.Int {
	refunded := make([]*big.Int, len(amountsAdded))
	for i, a := range amountsAdded {
		refunded[i] = new(big.Int).Sub(addedFunds, a)
	}
	return refunded
}

// Sum returns the total of the given amounts.
func Sum(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	return total
}

// RefundValue apportions totalRefundedValue to one outcome in proportion to
// its refunded token amount. Returns zero when no tokens were refunded at
// all (no excess existed).
func RefundValue(totalRefundedValue, refundedAmount, totalRefundedTokens *big.Int) *big.Int {
	if totalRefundedTokens.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(totalRefundedValue, refundedAmount)
	return v.Quo(v, totalRefundedTokens)
}

// RemovalPricePerOutcome returns sharesBurnt / outcomeSlotCount: the uniform
// per-outcome price attributed to a liquidity withdrawal, mirroring the
// equal-weight split valuation.
func RemovalPricePerOutcome(sharesBurnt *big.Int, outcomeSlotCount uint) (*big.Int, error) {
	if outcomeSlotCount == 0 {
		return nil, ErrNoOutcomes
	}
	return new(big.Int).Quo(sharesBurnt, big.NewInt(int64(outcomeSlotCount))), nil
}
