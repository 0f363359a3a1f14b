// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/bitgo/go-utxo/netpolicy"
)

// testRootKeys derives a deterministic RootWalletKeys from fixed seeds.
func testRootKeys(t *testing.T) *RootWalletKeys {
	t.Helper()

	keys := make([]*hdkeychain.ExtendedKey, 3)
	for i := range keys {
		seed := bytes.Repeat([]byte{byte(i + 1)}, 32)
		master, err := hdkeychain.NewMaster(
			seed, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		keys[i] = master
	}

	rootKeys, err := NewRootWalletKeys(keys[0], keys[1], keys[2])
	require.NoError(t, err)
	return rootKeys
}

// altRootKeys returns a triple whose bitgo key differs from testRootKeys.
func altRootKeys(t *testing.T) *RootWalletKeys {
	t.Helper()

	keys := make([]*hdkeychain.ExtendedKey, 3)
	for i := range keys {
		seed := bytes.Repeat([]byte{byte(i + 1)}, 32)
		if i == 2 {
			seed = bytes.Repeat([]byte{0x77}, 32)
		}
		master, err := hdkeychain.NewMaster(
			seed, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		keys[i] = master
	}

	rootKeys, err := NewRootWalletKeys(keys[0], keys[1], keys[2])
	require.NoError(t, err)
	return rootKeys
}

// TestScriptDeterminism checks that script construction is a pure function
// of the key triple and chain, and that changing any one key changes the
// output script.
func TestScriptDeterminism(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	altKeys := altRootKeys(t)
	policy := netpolicy.MustPolicyFor(netpolicy.Bitcoin)

	for _, chain := range AllChains {
		chain := chain
		t.Run(chain.String(), func(t *testing.T) {
			t.Parallel()

			first, _, err := DeriveWalletScripts(
				rootKeys, chain, 0, policy,
			)
			require.NoError(t, err)

			second, _, err := DeriveWalletScripts(
				rootKeys, chain, 0, policy,
			)
			require.NoError(t, err)
			require.Equal(t, first.PkScript, second.PkScript)
			require.Equal(t, first.RedeemScript, second.RedeemScript)
			require.Equal(t, first.WitnessScript, second.WitnessScript)

			// A different bitgo key must produce a different
			// output script.
			other, _, err := DeriveWalletScripts(
				altKeys, chain, 0, policy,
			)
			require.NoError(t, err)
			require.NotEqual(t, first.PkScript, other.PkScript)

			// A different index must too.
			nextIndex, _, err := DeriveWalletScripts(
				rootKeys, chain, 1, policy,
			)
			require.NoError(t, err)
			require.NotEqual(t, first.PkScript, nextIndex.PkScript)
		})
	}
}

// TestScriptShapes checks the structural properties of each script type.
func TestScriptShapes(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	policy := netpolicy.MustPolicyFor(netpolicy.Bitcoin)

	t.Run("p2sh", func(t *testing.T) {
		t.Parallel()

		scripts, _, err := DeriveWalletScripts(
			rootKeys, Chain{ScriptTypeP2SH, ScopeExternal}, 0,
			policy,
		)
		require.NoError(t, err)

		require.Len(t, scripts.PkScript, 23)
		require.Equal(t, byte(txscript.OP_HASH160), scripts.PkScript[0])
		require.NotNil(t, scripts.RedeemScript)
		require.Nil(t, scripts.WitnessScript)
		require.Nil(t, scripts.TapSpendInfo)

		// 2-of-3 multisig: OP_2 <3 keys> OP_3 OP_CHECKMULTISIG.
		require.Equal(
			t, byte(txscript.OP_2), scripts.RedeemScript[0],
		)
		require.Equal(
			t, byte(txscript.OP_CHECKMULTISIG),
			scripts.RedeemScript[len(scripts.RedeemScript)-1],
		)
		require.Len(t, scripts.RedeemScript, 1+3*34+2)
	})

	t.Run("p2shP2wsh", func(t *testing.T) {
		t.Parallel()

		scripts, _, err := DeriveWalletScripts(
			rootKeys, Chain{ScriptTypeP2SHP2WSH, ScopeExternal}, 0,
			policy,
		)
		require.NoError(t, err)

		require.Len(t, scripts.PkScript, 23)
		// The redeem script is the 34-byte p2wsh program.
		require.Len(t, scripts.RedeemScript, 34)
		require.Equal(t, byte(txscript.OP_0), scripts.RedeemScript[0])
		require.NotNil(t, scripts.WitnessScript)
	})

	t.Run("p2wsh", func(t *testing.T) {
		t.Parallel()

		scripts, _, err := DeriveWalletScripts(
			rootKeys, Chain{ScriptTypeP2WSH, ScopeInternal}, 0,
			policy,
		)
		require.NoError(t, err)

		require.Len(t, scripts.PkScript, 34)
		require.Equal(t, byte(txscript.OP_0), scripts.PkScript[0])
		require.Nil(t, scripts.RedeemScript)
		require.NotNil(t, scripts.WitnessScript)
	})

	t.Run("taproot", func(t *testing.T) {
		t.Parallel()

		scripts, _, err := DeriveWalletScripts(
			rootKeys, Chain{ScriptTypeP2TRMuSig2, ScopeExternal},
			0, policy,
		)
		require.NoError(t, err)

		require.Len(t, scripts.PkScript, 34)
		require.Equal(t, byte(txscript.OP_1), scripts.PkScript[0])
		require.True(t, txscript.IsPayToTaproot(scripts.PkScript))
		require.NotNil(t, scripts.TapSpendInfo)
	})
}

// TestUnsupportedScriptTypes checks that network policy denies segwit and
// taproot chains where unsupported.
func TestUnsupportedScriptTypes(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)

	testCases := []struct {
		name    string
		network netpolicy.Network
		chain   Chain
		ok      bool
	}{{
		name:    "p2sh on dogecoin",
		network: netpolicy.Dogecoin,
		chain:   Chain{ScriptTypeP2SH, ScopeExternal},
		ok:      true,
	}, {
		name:    "p2wsh on bitcoincash",
		network: netpolicy.BitcoinCash,
		chain:   Chain{ScriptTypeP2WSH, ScopeExternal},
	}, {
		name:    "p2shP2wsh on zcash",
		network: netpolicy.Zcash,
		chain:   Chain{ScriptTypeP2SHP2WSH, ScopeExternal},
	}, {
		name:    "p2tr on litecoin",
		network: netpolicy.Litecoin,
		chain:   Chain{ScriptTypeP2TR, ScopeExternal},
	}, {
		name:    "p2trMusig2 on bitcoin",
		network: netpolicy.Bitcoin,
		chain:   Chain{ScriptTypeP2TRMuSig2, ScopeExternal},
		ok:      true,
	}, {
		name:    "p2wsh on bitcoingold",
		network: netpolicy.BitcoinGold,
		chain:   Chain{ScriptTypeP2WSH, ScopeExternal},
		ok:      true,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			policy := netpolicy.MustPolicyFor(tc.network)
			_, _, err := DeriveWalletScripts(
				rootKeys, tc.chain, 0, policy,
			)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(
					t, err, ErrUnsupportedScriptType,
				)
			}
		})
	}
}

// TestDerivationPaths checks prefix handling and the path layout.
func TestDerivationPaths(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	chain := Chain{ScriptTypeP2TRMuSig2, ScopeExternal}

	require.Equal(
		t, "0/0/40/7",
		rootKeys.DerivationPathString(KeyUser, chain, 7),
	)
	require.Equal(
		t, []uint32{0, 0, 40, 7},
		rootKeys.DerivationPath(KeyBitGo, chain, 7),
	)

	_, err := NewRootWalletKeys(
		rootKeys.Key(KeyUser), rootKeys.Key(KeyBackup),
		rootKeys.Key(KeyBitGo),
		WithDerivationPrefixes("0/0", "bad/path", "0/0"),
	)
	require.ErrorIs(t, err, ErrBadDerivationPrefix)

	_, err = NewRootWalletKeys(rootKeys.Key(KeyUser), nil, rootKeys.Key(KeyBitGo))
	require.ErrorIs(t, err, ErrNilRootKey)
}
