// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package feerate provides types for transaction sizes and fee rates. Sizes
// are stored canonically in weight units and fee rates in satoshis per
// kilo-weight-unit, so conversions between the display units never compound
// rounding errors.
package feerate

import (
	"fmt"
)

const (
	// witnessScaleFactor relates weight units to virtual bytes: one
	// virtual byte is four weight units.
	witnessScaleFactor = 4

	// kilo is a generic multiplier for kilo units.
	kilo = 1000
)

// baseUnit stores the canonical representation of a transaction size, which
// is weight units (wu).
type baseUnit struct {
	wu uint64
}

// ToWU converts the unit to a WeightUnit.
func (b baseUnit) ToWU() WeightUnit {
	return WeightUnit{b}
}

// ToVB converts the unit to a VByte.
func (b baseUnit) ToVB() VByte {
	return VByte{b}
}

// WeightUnit expresses a transaction size in weight units. The weight of a
// transaction is `base size * 3 + total size`, where base size excludes
// witness data and total size is the full BIP144 serialization.
type WeightUnit struct {
	baseUnit
}

// NewWeightUnit creates a new WeightUnit from a uint64 value.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{baseUnit{wu: val}}
}

// String returns the string representation of the weight unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte expresses a transaction size in virtual bytes. One virtual byte is
// four weight units, rounded up.
type VByte struct {
	baseUnit
}

// NewVByte creates a new VByte from a uint64 value.
func NewVByte(val uint64) VByte {
	return VByte{baseUnit{wu: val * witnessScaleFactor}}
}

// Units returns the size in whole virtual bytes, rounded up.
func (v VByte) Units() uint64 {
	return (v.wu + witnessScaleFactor - 1) / witnessScaleFactor
}

// String returns the string representation of the virtual byte.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.Units())
}
