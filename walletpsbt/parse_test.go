// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
)

func TestParseFeeConservation(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	external := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	internal := fixedscript.Chain{
		ScriptType: fixedscript.ScriptTypeP2WSH,
		Scope:      fixedscript.ScopeInternal,
	}

	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, external, 9, 100_000,
		fn.None[fixedscript.SignPath](),
	)
	require.NoError(t, p.AddWalletOutput(internal, 1, 20_000))
	p.AddOutput(externalScript(t), 75_000)

	parsed, err := p.ParseWithWalletKeys(nil, nil, nil)
	require.NoError(t, err)

	require.EqualValues(t, 100_000, parsed.InputTotal)
	require.EqualValues(t, 95_000, parsed.OutputTotal)
	require.EqualValues(t, 20_000, parsed.WalletOutputTotal)
	require.EqualValues(t, 75_000, parsed.ExternalOutputTotal)
	require.EqualValues(t, 5_000, parsed.Fee)

	require.Len(t, parsed.Inputs, 1)
	require.True(t, parsed.Inputs[0].ScriptID.IsSome())
	inputID := parsed.Inputs[0].ScriptID.UnwrapOr(ScriptID{})
	require.Equal(t, external, inputID.Chain)
	require.EqualValues(t, 9, inputID.Index)
	require.NotEmpty(t, parsed.Inputs[0].Address)

	require.Len(t, parsed.Outputs, 2)
	require.True(t, parsed.Outputs[0].ScriptID.IsSome())
	changeID := parsed.Outputs[0].ScriptID.UnwrapOr(ScriptID{})
	require.Equal(t, internal, changeID.Chain)
	require.EqualValues(t, 1, changeID.Index)
	require.True(t, parsed.Outputs[1].ScriptID.IsNone())
}

func TestParseFeeUnderflow(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	chain := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, chain, 0, 10_000,
		fn.None[fixedscript.SignPath](),
	)
	p.AddOutput(externalScript(t), 10_001)

	_, err = p.ParseWithWalletKeys(nil, nil, nil)
	require.ErrorIs(t, err, ErrFeeCalculation)
}

func TestParseReplayProtection(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.BitcoinCash, keys, 0, 0)
	require.NoError(t, err)

	replayKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	redeemScript, err := ReplayProtectionRedeemScript(replayKey.PubKey())
	require.NoError(t, err)
	pkScript, err := replayProtectionPkScript(redeemScript)
	require.NoError(t, err)

	raw, txid := fundingTx(t, netpolicy.BitcoinCash, pkScript, 10_000)
	err = p.AddReplayProtectionInput(
		wire.OutPoint{Hash: txid, Index: 0}, replayKey.PubKey(),
		10_000, raw,
	)
	require.NoError(t, err)
	p.AddOutput(externalScript(t), 9_000)

	// Allow-listed: classified as replay protection, no wallet position.
	parsed, err := p.ParseWithWalletKeys(nil, [][]byte{pkScript}, nil)
	require.NoError(t, err)
	require.True(t, parsed.Inputs[0].ReplayProtection)
	require.True(t, parsed.Inputs[0].ScriptID.IsNone())

	// Without the allow-list the input is neither wallet nor replay.
	_, err = p.ParseWithWalletKeys(nil, nil, nil)
	require.ErrorIs(t, err, ErrNonWalletInput)
}

func TestParseTamperedChange(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	chain := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	internal := fixedscript.Chain{
		ScriptType: fixedscript.ScriptTypeP2WSH,
		Scope:      fixedscript.ScopeInternal,
	}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, chain, 0, 50_000,
		fn.None[fixedscript.SignPath](),
	)
	require.NoError(t, p.AddWalletOutput(internal, 0, 49_000))

	// An output claiming a wallet position but paying elsewhere must not
	// pass as change.
	p.UnsignedTx().TxOut[0].PkScript = externalScript(t)

	_, err = p.ParseWithWalletKeys(nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidOutputScript)
}

func TestParseUtxoConflict(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	chain := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, chain, 0, 50_000,
		fn.None[fixedscript.SignPath](),
	)
	p.AddOutput(externalScript(t), 45_000)

	// Inject the second utxo form alongside the witness utxo.
	scripts, _, err := fixedscript.DeriveWalletScripts(
		keys, chain, 0, netpolicy.MustPolicyFor(netpolicy.Bitcoin),
	)
	require.NoError(t, err)
	raw, _ := fundingTx(t, netpolicy.Bitcoin, scripts.PkScript, 50_000)
	prevTx := &wire.MsgTx{}
	require.NoError(t, prevTx.Deserialize(bytes.NewReader(raw)))
	p.Psbt().Inputs[0].NonWitnessUtxo = prevTx

	_, err = p.ParseWithWalletKeys(nil, nil, nil)
	require.ErrorIs(t, err, ErrInputUtxoConflict)
}

func TestParsePayGoAttestation(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)

	newPacket := func(t *testing.T) *Packet {
		p, err := New(netpolicy.Bitcoin, keys, 0, 0)
		require.NoError(t, err)

		chain := fixedscript.Chain{
			ScriptType: fixedscript.ScriptTypeP2WSH,
		}
		addFundedInput(
			t, p, keys, netpolicy.Bitcoin, chain, 0, 50_000,
			fn.None[fixedscript.SignPath](),
		)
		p.AddOutput(externalScript(t), 45_000)
		return p
	}

	attestationKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p := newPacket(t)
	entropy := bytes.Repeat([]byte{0x5a}, 32)
	pkScript := p.UnsignedTx().TxOut[0].PkScript
	digest := chainhash.DoubleHashB(
		append(append([]byte{}, entropy...), pkScript...),
	)
	sig := ecdsa.Sign(attestationKey, digest)
	require.NoError(t, p.AddPayGoAttestationProof(0, entropy, sig.Serialize()))

	// The proof survives serialization alongside the rest of the packet.
	raw, err := p.Serialize()
	require.NoError(t, err)
	p, err = Deserialize(raw, netpolicy.Bitcoin, keys)
	require.NoError(t, err)

	attestationPub := []*btcec.PublicKey{attestationKey.PubKey()}
	_, err = p.ParseWithWalletKeys(nil, nil, attestationPub)
	require.NoError(t, err)

	// No configured attestation keys means the proof cannot be checked.
	_, err = p.ParseWithWalletKeys(nil, nil, nil)
	require.ErrorIs(t, err, ErrPayGoAttestation)

	// A different key must not validate the proof.
	wrongKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	_, err = p.ParseWithWalletKeys(
		nil, nil, []*btcec.PublicKey{wrongKey.PubKey()},
	)
	require.ErrorIs(t, err, ErrPayGoAttestation)

	// A tampered output script invalidates the attestation.
	tampered := newPacket(t)
	err = tampered.AddPayGoAttestationProof(0, entropy, sig.Serialize())
	require.NoError(t, err)
	tampered.UnsignedTx().TxOut[0].PkScript = append(
		[]byte{}, pkScript[:len(pkScript)-1]...,
	)
	_, err = tampered.ParseWithWalletKeys(nil, nil, attestationPub)
	require.ErrorIs(t, err, ErrPayGoAttestation)
}

func TestParseForeignWalletKeys(t *testing.T) {
	t.Parallel()

	keys, _ := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	chain := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, chain, 0, 50_000,
		fn.None[fixedscript.SignPath](),
	)
	p.AddOutput(externalScript(t), 45_000)

	// A different wallet's keys derive different scripts, so the input
	// fails re-derivation.
	otherUser := testMaster(t, 0x0a)
	otherBackup := testMaster(t, 0x0b)
	otherBitGo := testMaster(t, 0x0c)
	otherKeys, err := fixedscript.NewRootWalletKeys(
		otherUser, otherBackup, otherBitGo,
	)
	require.NoError(t, err)

	_, err = p.ParseWithWalletKeys(otherKeys, nil, nil)
	require.ErrorIs(t, err, ErrInvalidOutputScript)
}

// TestParseFinalizedPacket checks that a fully signed packet still parses:
// finalization clears the derivation metadata, so finalized inputs count
// toward the totals without a wallet position.
func TestParseFinalizedPacket(t *testing.T) {
	t.Parallel()

	keys, xprvs := testWallet(t)
	p, err := New(netpolicy.Bitcoin, keys, 0, 0)
	require.NoError(t, err)

	p2wsh := fixedscript.Chain{ScriptType: fixedscript.ScriptTypeP2WSH}
	addFundedInput(
		t, p, keys, netpolicy.Bitcoin, p2wsh, 3, 100_000,
		fn.None[fixedscript.SignPath](),
	)
	p.AddOutput(externalScript(t), 95_000)

	require.NoError(t, p.SignWithXprv(fixedscript.KeyUser, xprvs[0]))
	require.NoError(t, p.SignWithXprv(fixedscript.KeyBitGo, xprvs[2]))
	require.NoError(t, p.FinalizeAll())

	parsed, err := p.ParseWithWalletKeys(nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, parsed.Inputs, 1)
	require.True(t, parsed.Inputs[0].ScriptID.IsNone())
	require.EqualValues(t, 100_000, parsed.InputTotal)
	require.EqualValues(t, 5_000, parsed.Fee)

	// The same holds after a serialize round trip.
	raw, err := p.Serialize()
	require.NoError(t, err)
	restored, err := Deserialize(raw, netpolicy.Bitcoin, keys)
	require.NoError(t, err)

	parsed, err = restored.ParseWithWalletKeys(nil, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, parsed.Fee)
}
