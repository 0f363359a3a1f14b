// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feerate

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestCalcSatPerVByte(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		fee        int64
		vbytes     uint64
		wantString string
	}{{
		name:       "whole rate",
		fee:        5_000,
		vbytes:     250,
		wantString: "20.000 sat/vb",
	}, {
		name:       "fractional rate",
		fee:        1_000,
		vbytes:     300,
		wantString: "3.333 sat/vb",
	}, {
		name:       "zero size",
		fee:        1_000,
		vbytes:     0,
		wantString: "0.000 sat/vb",
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rate := CalcSatPerVByte(
				btcutil.Amount(tc.fee), NewVByte(tc.vbytes),
			)
			require.Equal(t, tc.wantString, rate.String())
		})
	}
}

func TestFeeForVByte(t *testing.T) {
	t.Parallel()

	// 20 sat/vb over 141 vb is 2820 sats, exactly.
	rate := NewSatPerVByte(20)
	require.EqualValues(t, 2_820, rate.FeeForVByte(NewVByte(141)))

	// Fractional fees truncate.
	third := CalcSatPerVByte(1, NewVByte(3))
	require.EqualValues(t, 33, third.FeeForVByte(NewVByte(100)))
}

func TestRateComparisons(t *testing.T) {
	t.Parallel()

	low := NewSatPerVByte(1)
	high := NewSatPerVByte(25)

	require.True(t, low.LessThan(high))
	require.True(t, high.GreaterThan(low))
	require.True(t, low.Equal(CalcSatPerVByte(1_000, NewVByte(1_000))))
	require.True(t, ZeroSatPerVByte.LessThan(low))
}

func TestVByteRounding(t *testing.T) {
	t.Parallel()

	// 573 wu rounds up to 144 vb.
	require.EqualValues(t, 144, NewWeightUnit(573).ToVB().Units())
	require.Equal(t, "144 vb", NewWeightUnit(573).ToVB().String())
	require.Equal(t, "573 wu", NewWeightUnit(573).String())
}
