// Package chain decodes conditional-token and fixed-product market-maker
// logs and routes each decoded event to the matching position reducer.
//
// The package consumes already-fetched types.Log values; fetching,
// ordering, and replay protection are the responsibility of the upstream
// log source.
package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// eventsABI covers the event surface of three contracts: the ConditionalTokens
// framework, FixedProductMarketMaker instances, and the FPMM factory.
var eventsABI abi.ABI

func init() {
	var err error
	eventsABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "ConditionPreparation",
			"type": "event",
			"inputs": [
				{"name": "conditionId", "type": "bytes32", "indexed": true},
				{"name": "oracle", "type": "address", "indexed": true},
				{"name": "questionId", "type": "bytes32", "indexed": true},
				{"name": "outcomeSlotCount", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "ConditionResolution",
			"type": "event",
			"inputs": [
				{"name": "conditionId", "type": "bytes32", "indexed": true},
				{"name": "oracle", "type": "address", "indexed": true},
				{"name": "questionId", "type": "bytes32", "indexed": true},
				{"name": "outcomeSlotCount", "type": "uint256", "indexed": false},
				{"name": "payoutNumerators", "type": "uint256[]", "indexed": false}
			]
		},
		{
			"name": "PositionSplit",
			"type": "event",
			"inputs": [
				{"name": "stakeholder", "type": "address", "indexed": true},
				{"name": "collateralToken", "type": "address", "indexed": false},
				{"name": "parentCollectionId", "type": "bytes32", "indexed": true},
				{"name": "conditionId", "type": "bytes32", "indexed": true},
				{"name": "partition", "type": "uint256[]", "indexed": false},
				{"name": "amount", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "PositionsMerge",
			"type": "event",
			"inputs": [
				{"name": "stakeholder", "type": "address", "indexed": true},
				{"name": "collateralToken", "type": "address", "indexed": false},
				{"name": "parentCollectionId", "type": "bytes32", "indexed": true},
				{"name": "conditionId", "type": "bytes32", "indexed": true},
				{"name": "partition", "type": "uint256[]", "indexed": false},
				{"name": "amount", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "PayoutRedemption",
			"type": "event",
			"inputs": [
				{"name": "redeemer", "type": "address", "indexed": true},
				{"name": "collateralToken", "type": "address", "indexed": true},
				{"name": "parentCollectionId", "type": "bytes32", "indexed": true},
				{"name": "conditionId", "type": "bytes32", "indexed": false},
				{"name": "indexSets", "type": "uint256[]", "indexed": false},
				{"name": "payout", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FPMMBuy",
			"type": "event",
			"inputs": [
				{"name": "buyer", "type": "address", "indexed": true},
				{"name": "investmentAmount", "type": "uint256", "indexed": false},
				{"name": "feeAmount", "type": "uint256", "indexed": false},
				{"name": "outcomeIndex", "type": "uint256", "indexed": true},
				{"name": "outcomeTokensBought", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FPMMSell",
			"type": "event",
			"inputs": [
				{"name": "seller", "type": "address", "indexed": true},
				{"name": "returnAmount", "type": "uint256", "indexed": false},
				{"name": "feeAmount", "type": "uint256", "indexed": false},
				{"name": "outcomeIndex", "type": "uint256", "indexed": true},
				{"name": "outcomeTokensSold", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FPMMFundingAdded",
			"type": "event",
			"inputs": [
				{"name": "funder", "type": "address", "indexed": true},
				{"name": "amountsAdded", "type": "uint256[]", "indexed": false},
				{"name": "sharesMinted", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FPMMFundingRemoved",
			"type": "event",
			"inputs": [
				{"name": "funder", "type": "address", "indexed": true},
				{"name": "amountsRemoved", "type": "uint256[]", "indexed": false},
				{"name": "collateralRemovedFromFeePool", "type": "uint256", "indexed": false},
				{"name": "sharesBurnt", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FixedProductMarketMakerCreation",
			"type": "event",
			"inputs": [
				{"name": "creator", "type": "address", "indexed": true},
				{"name": "fixedProductMarketMaker", "type": "address", "indexed": false},
				{"name": "conditionalTokens", "type": "address", "indexed": true},
				{"name": "collateralToken", "type": "address", "indexed": true},
				{"name": "conditionIds", "type": "bytes32[]", "indexed": false},
				{"name": "fee", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic(fmt.Sprintf("chain: parse events ABI: %v", err))
	}
}

// EventID returns the topic hash for a named event in the package ABI.
// Exposed for tests and log-filter construction.
func EventID(name string) common.Hash {
	return eventsABI.Events[name].ID
}

// unpackData unpacks the non-indexed fields of a log into a value slice.
func unpackData(name string, log types.Log) ([]interface{}, error) {
	vals, err := eventsABI.Unpack(name, log.Data)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", name, err)
	}
	return vals, nil
}

func topicAddress(log types.Log, i int) common.Address {
	return common.BytesToAddress(log.Topics[i].Bytes())
}

func topicUint(log types.Log, i int) uint {
	return uint(new(big.Int).SetBytes(log.Topics[i].Bytes()).Uint64())
}

// OutcomeIndexesFromIndexSets expands CTF index-set bitmasks into the sorted
// set of outcome indexes they cover. Index set 0b101 covers outcomes 0 and 2.
func OutcomeIndexesFromIndexSets(indexSets []*big.Int) []uint {
	seen := make(map[uint]struct{})
	for _, set := range indexSets {
		for b := 0; b < set.BitLen(); b++ {
			if set.Bit(b) == 1 {
				seen[uint(b)] = struct{}{}
			}
		}
	}
	indexes := make([]uint, 0, len(seen))
	for i := range seen {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	return indexes
}
