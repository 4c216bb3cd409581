// Package gascost converts native gas usage into accepted-token charges.
//
// Amounts are 128-bit on the wire; big.Int never wraps, so overflow is an
// explicit range check against MaxAmount rather than a wraparound hazard.
package gascost

import (
	"errors"
	"math/big"
)

var (
	ErrArithmeticOverflow = errors.New("gascost: arithmetic overflow")
	ErrInvalidRate        = errors.New("gascost: invalid rate denominator")
)

// MaxAmount is the largest representable charge (2^128 - 1).
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// GasSettings are supplied by the caller at transaction-build time and
// consumed read-only.
type GasSettings struct {
	DAGasLimit         *big.Int
	L2GasLimit         *big.Int
	FeePerDAGas        *big.Int
	FeePerL2Gas        *big.Int
	TeardownDAGasLimit *big.Int
	TeardownL2GasLimit *big.Int
}

// MaxCostNoTeardown is feePerDaGas*daGasLimit + feePerL2Gas*l2GasLimit.
func MaxCostNoTeardown(gs GasSettings) *big.Int {
	da := new(big.Int).Mul(gs.FeePerDAGas, gs.DAGasLimit)
	l2 := new(big.Int).Mul(gs.FeePerL2Gas, gs.L2GasLimit)
	return da.Add(da, l2)
}

// MaxCostWithTeardown adds the teardown phase gas on top of MaxCostNoTeardown.
func MaxCostWithTeardown(gs GasSettings) *big.Int {
	cost := MaxCostNoTeardown(gs)
	da := new(big.Int).Mul(gs.FeePerDAGas, gs.TeardownDAGasLimit)
	l2 := new(big.Int).Mul(gs.FeePerL2Gas, gs.TeardownL2GasLimit)
	cost.Add(cost, da)
	return cost.Add(cost, l2)
}

// AssetCharge converts feeJuice units into accepted-token units at
// rateNum/rateDen, rounding up. The intermediate product must fit in 128
// bits or the call fails with ErrArithmeticOverflow.
func AssetCharge(feeJuice, rateNum, rateDen *big.Int) (*big.Int, error) {
	if rateDen.Sign() == 0 {
		return nil, ErrInvalidRate
	}
	if feeJuice.Sign() == 0 {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(feeJuice, rateNum)
	if product.Cmp(MaxAmount) > 0 {
		return nil, ErrArithmeticOverflow
	}
	// Ceiling division: (product + den - 1) / den
	product.Add(product, rateDen)
	product.Sub(product, big.NewInt(1))
	return product.Div(product, rateDen), nil
}
