// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feerate

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// floatStringPrecision is the number of decimal places used when rendering a
// fee rate, enough that 1 sat/kvb still displays as 0.001 sat/vb instead of
// rounding to zero.
const floatStringPrecision = 3

// ZeroSatPerVByte is a fee rate of 0 sat/vb.
var ZeroSatPerVByte = NewSatPerVByte(0)

// baseFeeRate stores the canonical representation of a fee rate, which is
// satoshis per kilo-weight-unit (sat/kwu).
type baseFeeRate struct {
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a new baseFeeRate from a numerator and denominator.
// A zero denominator yields a zero fee rate.
func newBaseFeeRate(numerator btcutil.Amount, denominator uint64) baseFeeRate {
	if denominator == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	return baseFeeRate{satsPerKWU: big.NewRat(
		int64(numerator), safeUint64ToInt64(denominator),
	)}
}

// FeeForWeight calculates the fee this rate yields for the given weight,
// truncated to whole satoshis.
func (f baseFeeRate) FeeForWeight(weightUnit WeightUnit) btcutil.Amount {
	fee := big.NewRat(0, 1)
	fee.Mul(f.satsPerKWU, big.NewRat(
		safeUint64ToInt64(weightUnit.wu), kilo,
	))

	quotient := big.NewInt(0)
	quotient.Div(fee.Num(), fee.Denom())
	return btcutil.Amount(quotient.Int64())
}

// FeeForVByte calculates the fee this rate yields for the given size in
// virtual bytes.
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

func (f baseFeeRate) equal(other baseFeeRate) bool {
	return f.satsPerKWU.Cmp(other.satsPerKWU) == 0
}

func (f baseFeeRate) greaterThan(other baseFeeRate) bool {
	return f.satsPerKWU.Cmp(other.satsPerKWU) > 0
}

func (f baseFeeRate) lessThan(other baseFeeRate) bool {
	return f.satsPerKWU.Cmp(other.satsPerKWU) < 0
}

// SatPerVByte represents a fee rate in sat/vbyte. Internally the rate is
// stored and operated on as satoshis per kilo-weight-unit; only String
// presents it in sat/vbyte.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a new fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte calculates the fee rate in sat/vb for a given fee and size.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	// The canonical unit is sat/kwu: (fee * 1000) / size_in_wu. The VByte
	// already carries its size in weight units.
	return SatPerVByte{newBaseFeeRate(fee*kilo, vb.wu)}
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	rate := big.NewRat(0, 1)
	rate.Mul(s.satsPerKWU, big.NewRat(witnessScaleFactor, kilo))
	return rate.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee
// rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.lessThan(other.baseFeeRate)
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// The values converted here are transaction weights, which consensus rules
// keep far below the cap.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}
