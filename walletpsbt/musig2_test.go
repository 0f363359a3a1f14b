// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
)

// musig2Chain is the aggregated-key-path external chain.
var musig2Chain = fixedscript.Chain{
	ScriptType: fixedscript.ScriptTypeP2TRMuSig2,
}

// exchange serializes a packet and hands a fresh copy to the counterparty,
// the way two cosigners actually communicate.
func exchange(t *testing.T, from, to *Packet,
	keys *fixedscript.RootWalletKeys) {

	t.Helper()

	raw, err := from.Serialize()
	require.NoError(t, err)

	copied, err := Deserialize(raw, from.Network(), keys)
	require.NoError(t, err)
	require.NoError(t, to.CombineMuSig2Nonces(copied))
}

// TestMuSig2EndToEnd walks the full two-party aggregated-key-path flow: both
// parties construct the packet independently from serialized bytes, exchange
// nonces, sign, exchange partial signatures, and one of them finalizes.
func TestMuSig2EndToEnd(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)

	const inputValue = 100_000
	user, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)
	addFundedInput(
		t, user, keys, netpolicy.Bitcoin, musig2Chain, 0, inputValue,
		fn.Some(fixedscript.SignPathUserBitGo),
	)
	user.AddOutput(externalScript(t), 95_000)

	raw, err := user.Serialize()
	require.NoError(t, err)
	bitgo, err := Deserialize(raw, netpolicy.Bitcoin, keys)
	require.NoError(t, err)

	// Round 1: nonce generation and exchange.
	err = user.GenerateMuSig2Nonces(fixedscript.KeyUser, xprvs[0])
	require.NoError(t, err)
	err = bitgo.GenerateMuSig2Nonces(fixedscript.KeyBitGo, xprvs[2])
	require.NoError(t, err)

	exchange(t, bitgo, user, keys)
	exchange(t, user, bitgo, keys)

	// Round 2: partial signatures.
	err = user.SignMuSig2Input(0, fixedscript.KeyUser, xprvs[0])
	require.NoError(t, err)
	err = bitgo.SignMuSig2Input(0, fixedscript.KeyBitGo, xprvs[2])
	require.NoError(t, err)

	exchange(t, bitgo, user, keys)

	require.NoError(t, user.FinalizeAll())

	finalTx, err := user.ExtractTransaction()
	require.NoError(t, err)

	// A key path spend is a single 64-byte Schnorr signature.
	require.Len(t, finalTx.TxIn[0].Witness, 1)
	require.Len(t, finalTx.TxIn[0].Witness[0], 64)

	scripts, _, err := fixedscript.DeriveWalletScripts(
		keys, musig2Chain, 0,
		netpolicy.MustPolicyFor(netpolicy.Bitcoin),
	)
	require.NoError(t, err)
	verifyInput(t, finalTx, 0, scripts.PkScript, inputValue)

	parsed, err := user.ParseWithWalletKeys(nil, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, parsed.Fee)
}

// TestMuSig2NonceSingleUse pins the nonce-reuse protection: the secret nonce
// is consumed by the first signature and a second attempt fails.
func TestMuSig2NonceSingleUse(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)

	user, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)
	addFundedInput(
		t, user, keys, netpolicy.Bitcoin, musig2Chain, 0, 50_000,
		fn.Some(fixedscript.SignPathUserBitGo),
	)
	user.AddOutput(externalScript(t), 45_000)

	err = user.GenerateMuSig2Nonces(fixedscript.KeyUser, xprvs[0])
	require.NoError(t, err)

	// The counterparty nonce arrives out of band.
	raw, err := user.Serialize()
	require.NoError(t, err)
	bitgo, err := Deserialize(raw, netpolicy.Bitcoin, keys)
	require.NoError(t, err)
	err = bitgo.GenerateMuSig2Nonces(fixedscript.KeyBitGo, xprvs[2])
	require.NoError(t, err)
	exchange(t, bitgo, user, keys)

	err = user.SignMuSig2Input(0, fixedscript.KeyUser, xprvs[0])
	require.NoError(t, err)

	err = user.SignMuSig2Input(0, fixedscript.KeyUser, xprvs[0])
	require.ErrorIs(t, err, ErrNoNonceState)
}

// TestMuSig2SessionIDPolicy pins the production refusal of caller-supplied
// session ids.
func TestMuSig2SessionIDPolicy(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)
	sessionID := [32]byte{0x42}

	for _, network := range []netpolicy.Network{
		netpolicy.Bitcoin, netpolicy.BitcoinTestnet,
	} {
		p, err := New(network, keys, 0, 0)
		require.NoError(t, err)
		addFundedInput(
			t, p, keys, network, musig2Chain, 0, 50_000,
			fn.Some(fixedscript.SignPathUserBitGo),
		)

		err = p.GenerateMuSig2Nonces(
			fixedscript.KeyUser, xprvs[0], WithSessionID(sessionID),
		)
		if network.IsMainnet() {
			require.ErrorIs(t, err, ErrSessionIDForbidden)
		} else {
			require.NoError(t, err)
		}
	}
}

// TestMuSig2KeyPathRefusals pins the operations a key path input rejects.
func TestMuSig2KeyPathRefusals(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)

	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, musig2Chain, 0, 50_000,
		fn.Some(fixedscript.SignPathUserBitGo),
	)

	// ECDSA-style signing never touches a key path input.
	err = p.SignInputWithXprv(0, fixedscript.KeyUser, xprvs[0])
	require.ErrorIs(t, err, ErrNotSignable)

	// The backup key is not a key path participant.
	err = p.GenerateMuSig2Nonces(fixedscript.KeyBackup, xprvs[1])
	require.ErrorIs(t, err, ErrNotSignable)

	// Finalizing without any nonces reports the missing nonce.
	err = p.FinalizeInput(0)
	require.ErrorIs(t, err, ErrMissingNonce)

	// Nonce merging requires matching transactions.
	other, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, p.CombineMuSig2Nonces(other), ErrTxIDMismatch)
}
