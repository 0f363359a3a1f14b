// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
	"github.com/bitgo/go-utxo/pkg/feerate"
)

// TestEstimateVSize signs each script type for real and checks that the
// pre-signing estimate bounds the actual virtual size from above without
// drifting far from it.
func TestEstimateVSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		chain    fixedscript.Chain
		signPath fn.Option[fixedscript.SignPath]
		signers  [2]fixedscript.KeyName
	}{{
		name: "p2sh",
		chain: fixedscript.Chain{
			ScriptType: fixedscript.ScriptTypeP2SH,
		},
		signPath: fn.None[fixedscript.SignPath](),
		signers: [2]fixedscript.KeyName{
			fixedscript.KeyUser, fixedscript.KeyBitGo,
		},
	}, {
		name: "p2shP2wsh",
		chain: fixedscript.Chain{
			ScriptType: fixedscript.ScriptTypeP2SHP2WSH,
		},
		signPath: fn.None[fixedscript.SignPath](),
		signers: [2]fixedscript.KeyName{
			fixedscript.KeyUser, fixedscript.KeyBitGo,
		},
	}, {
		name: "p2wsh",
		chain: fixedscript.Chain{
			ScriptType: fixedscript.ScriptTypeP2WSH,
		},
		signPath: fn.None[fixedscript.SignPath](),
		signers: [2]fixedscript.KeyName{
			fixedscript.KeyUser, fixedscript.KeyBitGo,
		},
	}, {
		name: "p2tr script path",
		chain: fixedscript.Chain{
			ScriptType: fixedscript.ScriptTypeP2TR,
		},
		signPath: fn.Some(fixedscript.SignPathUserBitGo),
		signers: [2]fixedscript.KeyName{
			fixedscript.KeyUser, fixedscript.KeyBitGo,
		},
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			keys, xprvs := testWallet(t)
			p, err := New(netpolicy.Bitcoin, keys, 0, 0)
			require.NoError(t, err)

			addFundedInput(
				t, p, keys, netpolicy.Bitcoin, tc.chain, 0,
				100_000, tc.signPath,
			)
			p.AddOutput(externalScript(t), 95_000)

			estimate, err := p.EstimateVSize()
			require.NoError(t, err)

			for _, name := range tc.signers {
				err := p.SignInputWithXprv(
					0, name, xprvs[name],
				)
				require.NoError(t, err)
			}
			require.NoError(t, p.FinalizeAll())

			finalTx, err := p.ExtractTransaction()
			require.NoError(t, err)

			weight := blockchain.GetTransactionWeight(
				btcutil.NewTx(finalTx),
			)
			actual := (uint64(weight) + 3) / 4

			require.GreaterOrEqual(t, estimate.Units(), actual)
			require.LessOrEqual(t, estimate.Units()-actual,
				uint64(10))

			// The implied fee rate is computable from the parsed
			// view and the estimate.
			parsed, err := p.ParseWithWalletKeys(nil, nil, nil)
			require.NoError(t, err)
			rate := parsed.FeeRate(estimate)
			require.True(
				t, rate.GreaterThan(feerate.NewSatPerVByte(1)),
			)
		})
	}
}

// TestEstimateVSizeFinalized checks that a finalized packet reports its
// actual size rather than a worst-case bound.
func TestEstimateVSizeFinalized(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	chain := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, chain, 0, 100_000,
		fn.None[fixedscript.SignPath](),
	)
	p.AddOutput(externalScript(t), 95_000)

	require.NoError(t, p.SignWithXprv(fixedscript.KeyUser, xprvs[0]))
	require.NoError(t, p.SignWithXprv(fixedscript.KeyBitGo, xprvs[2]))
	require.NoError(t, p.FinalizeAll())

	estimate, err := p.EstimateVSize()
	require.NoError(t, err)

	finalTx, err := p.ExtractTransaction()
	require.NoError(t, err)
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(finalTx))

	require.EqualValues(t, (uint64(weight)+3)/4, estimate.Units())
}
