// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/bitgo/go-utxo/netpolicy"
)

// TestLegacyTapTreeShape checks the three-leaf legacy tree: leaf order,
// depths, signer pairs and leaf-hash metadata.
func TestLegacyTapTreeShape(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	policy := netpolicy.MustPolicyFor(netpolicy.Bitcoin)

	scripts, triple, err := DeriveWalletScripts(
		rootKeys, Chain{ScriptTypeP2TR, ScopeExternal}, 0, policy,
	)
	require.NoError(t, err)

	info := scripts.TapSpendInfo
	require.NotNil(t, info)
	require.Len(t, info.Leaves, 3)

	require.Equal(t, [2]KeyName{KeyUser, KeyBitGo}, info.Leaves[0].Signers)
	require.Equal(t, uint8(1), info.Leaves[0].Depth)
	require.Equal(t, [2]KeyName{KeyUser, KeyBackup}, info.Leaves[1].Signers)
	require.Equal(t, uint8(2), info.Leaves[1].Depth)
	require.Equal(t, [2]KeyName{KeyBackup, KeyBitGo}, info.Leaves[2].Signers)
	require.Equal(t, uint8(2), info.Leaves[2].Depth)

	// Every key participates in exactly two leaves.
	for _, name := range KeyNames {
		require.Len(t, info.LeafHashesForKey(name), 2, name.String())
	}

	// The legacy internal key must differ from the MuSig2 aggregate of
	// the same pair: key-path spending is deliberately out of reach.
	participants := MuSig2Participants(triple)
	musigKey, _, _, err := musig2.AggregateKeys(participants[:], false)
	require.NoError(t, err)
	require.NotEqual(
		t,
		musigKey.FinalKey.SerializeCompressed(),
		info.InternalKey.SerializeCompressed(),
	)
}

// TestMuSig2TapTreeShape checks the two-leaf MuSig2 tree and the key-path
// dispatch of sign paths.
func TestMuSig2TapTreeShape(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	policy := netpolicy.MustPolicyFor(netpolicy.Bitcoin)

	scripts, triple, err := DeriveWalletScripts(
		rootKeys, Chain{ScriptTypeP2TRMuSig2, ScopeExternal}, 0, policy,
	)
	require.NoError(t, err)

	info := scripts.TapSpendInfo
	require.Len(t, info.Leaves, 2)
	require.Equal(t, [2]KeyName{KeyUser, KeyBackup}, info.Leaves[0].Signers)
	require.Equal(t, uint8(1), info.Leaves[0].Depth)
	require.Equal(t, [2]KeyName{KeyBackup, KeyBitGo}, info.Leaves[1].Signers)
	require.Equal(t, uint8(1), info.Leaves[1].Depth)

	// user+bitgo spends via the aggregated key path.
	require.True(t, info.UsesKeyPath(SignPathUserBitGo))
	_, err = info.LeafForSignPath(SignPathUserBitGo)
	require.ErrorIs(t, err, ErrKeyPathSignPath)

	// Recovery paths resolve to their leaves.
	leaf, err := info.LeafForSignPath(SignPathBackupBitGo)
	require.NoError(t, err)
	require.Equal(t, [2]KeyName{KeyBackup, KeyBitGo}, leaf.Signers)

	// The internal key is the untweaked MuSig2 aggregate of user+bitgo.
	participants := MuSig2Participants(triple)
	aggKey, _, _, err := musig2.AggregateKeys(
		participants[:], false,
		musig2.WithTaprootKeyTweak(info.MerkleRoot),
	)
	require.NoError(t, err)
	require.Equal(
		t,
		aggKey.PreTweakedKey.SerializeCompressed(),
		info.InternalKey.SerializeCompressed(),
	)
	require.Equal(
		t,
		schnorr.SerializePubKey(aggKey.FinalKey),
		schnorr.SerializePubKey(info.OutputKey),
	)
}

// TestControlBlocksVerify checks that each leaf's control block proves the
// leaf under the taproot output key.
func TestControlBlocksVerify(t *testing.T) {
	t.Parallel()

	rootKeys := testRootKeys(t)
	policy := netpolicy.MustPolicyFor(netpolicy.Bitcoin)

	for _, scriptType := range []ScriptType{
		ScriptTypeP2TR, ScriptTypeP2TRMuSig2,
	} {
		scriptType := scriptType
		t.Run(scriptType.String(), func(t *testing.T) {
			t.Parallel()

			scripts, _, err := DeriveWalletScripts(
				rootKeys, Chain{scriptType, ScopeExternal}, 0,
				policy,
			)
			require.NoError(t, err)

			info := scripts.TapSpendInfo
			for i := range info.Leaves {
				leaf := &info.Leaves[i]

				controlBlock, err := txscript.ParseControlBlock(
					leaf.ControlBlock,
				)
				require.NoError(t, err)

				rootHash := controlBlock.RootHash(leaf.Script)
				require.Equal(
					t, info.MerkleRoot, rootHash,
					"leaf %d", i,
				)
			}
		})
	}
}

// TestSignPathKeys checks the pair resolution of each sign path.
func TestSignPathKeys(t *testing.T) {
	t.Parallel()

	keys, err := SignPathUserBitGo.Keys()
	require.NoError(t, err)
	require.Equal(t, [2]KeyName{KeyUser, KeyBitGo}, keys)

	keys, err = SignPathUserBackup.Keys()
	require.NoError(t, err)
	require.Equal(t, [2]KeyName{KeyUser, KeyBackup}, keys)

	keys, err = SignPathBackupBitGo.Keys()
	require.NoError(t, err)
	require.Equal(t, [2]KeyName{KeyBackup, KeyBitGo}, keys)

	_, err = SignPath(9).Keys()
	require.ErrorIs(t, err, ErrUnknownSignPath)
}
