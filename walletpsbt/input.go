// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/bitgo/go-utxo/fixedscript"
)

// WalletUnspent describes one wallet-owned previous output to spend.
type WalletUnspent struct {
	// OutPoint is the previous output being spent.
	OutPoint wire.OutPoint

	// Value is the previous output's value.
	Value btcutil.Amount

	// Chain and Index locate the output in the wallet's derivation tree.
	Chain fixedscript.Chain
	Index uint32

	// PrevTx is the full previous transaction in the network's wire
	// format. Required for non-segwit inputs and on special-format
	// networks; optional otherwise.
	PrevTx []byte
}

// AddWalletInput appends a wallet input to the unsigned transaction and its
// PSBT metadata in one step; the two lists never disagree in length. For
// taproot chains the cosigning pair must be chosen here, since the leaf and
// merkle metadata depend on it.
func (p *Packet) AddWalletInput(unspent *WalletUnspent,
	signPath fn.Option[fixedscript.SignPath]) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}

	scripts, triple, err := fixedscript.DeriveWalletScripts(
		p.keys, unspent.Chain, unspent.Index, p.policy,
	)
	if err != nil {
		return err
	}

	if unspent.Chain.IsTaproot() && signPath.IsNone() {
		return ErrSignPathRequired
	}

	pin := psbt.PInput{
		SighashType: p.defaultSigHashType(unspent.Chain),
	}

	// Resolve the previous transaction. Segwit and taproot inputs commit
	// to the spent output alone; everything else needs the full previous
	// transaction for sighash computation. Exactly one utxo form is set
	// per input.
	segwitLike := unspent.Chain.IsSegwit() || unspent.Chain.IsTaproot()
	if len(unspent.PrevTx) == 0 && !segwitLike {
		return ErrPrevTxRequired
	}
	if len(unspent.PrevTx) > 0 {
		prevTx, err := p.checkPrevTx(
			unspent.PrevTx, unspent.OutPoint, unspent.Value,
			scripts.PkScript,
		)
		if err != nil {
			return err
		}
		if !segwitLike {
			pin.NonWitnessUtxo = prevTx
		}
	}
	if segwitLike {
		pin.WitnessUtxo = &wire.TxOut{
			Value:    int64(unspent.Value),
			PkScript: scripts.PkScript,
		}
	}

	pin.RedeemScript = scripts.RedeemScript
	pin.WitnessScript = scripts.WitnessScript

	if unspent.Chain.IsTaproot() {
		path := signPath.UnwrapOr(fixedscript.SignPathUserBitGo)
		err := p.populateTaprootInput(
			&pin, scripts.TapSpendInfo, triple, unspent.Chain,
			unspent.Index, path,
		)
		if err != nil {
			return err
		}
	} else {
		for _, name := range fixedscript.KeyNames {
			pin.Bip32Derivation = append(
				pin.Bip32Derivation, &psbt.Bip32Derivation{
					PubKey: triple[name].SerializeCompressed(),
					Bip32Path: p.keys.DerivationPath(
						name, unspent.Chain,
						unspent.Index,
					),
				},
			)
		}
	}

	txIn := wire.NewTxIn(&unspent.OutPoint, nil, nil)
	idx := len(p.inner.Inputs)
	p.inner.UnsignedTx.AddTxIn(txIn)
	p.inner.Inputs = append(p.inner.Inputs, pin)
	if p.policy.SpecialTransaction {
		p.prevTxRaw[idx] = unspent.PrevTx
	}

	log.Debugf("Added wallet input %d spending %v (chain %v, index %d)",
		idx, unspent.OutPoint, unspent.Chain, unspent.Index)
	return nil
}

// AddInput appends an input spending an output this wallet does not own. The
// caller supplies either the spent output alone or the full previous
// transaction in the network wire format, and the output's owner is expected
// to attach the signing metadata on their side.
func (p *Packet) AddInput(outPoint wire.OutPoint, utxo *wire.TxOut,
	prevTx []byte) error {

	var pin psbt.PInput
	switch {
	case utxo != nil && len(prevTx) > 0:
		return ErrInputUtxoConflict

	case utxo != nil:
		pin.WitnessUtxo = utxo

	case len(prevTx) > 0:
		prev, err := p.decodePrevTx(prevTx, outPoint)
		if err != nil {
			return err
		}
		pin.NonWitnessUtxo = prev

	default:
		return ErrInputUtxoMissing
	}

	txIn := wire.NewTxIn(&outPoint, nil, nil)
	idx := len(p.inner.Inputs)
	p.inner.UnsignedTx.AddTxIn(txIn)
	p.inner.Inputs = append(p.inner.Inputs, pin)
	if p.policy.SpecialTransaction && len(prevTx) > 0 {
		p.prevTxRaw[idx] = prevTx
	}

	log.Debugf("Added foreign input %d spending %v", idx, outPoint)
	return nil
}

// populateTaprootInput fills the taproot metadata for the chosen sign path:
// internal key, merkle root, per-key derivation entries with leaf hashes,
// and either the participant set (key path) or the leaf script with its
// control block (script path).
func (p *Packet) populateTaprootInput(pin *psbt.PInput,
	info *fixedscript.TapSpendInfo, triple fixedscript.KeyTriple,
	chain fixedscript.Chain, index uint32,
	path fixedscript.SignPath) error {

	pin.TaprootInternalKey = schnorr.SerializePubKey(info.InternalKey)
	pin.TaprootMerkleRoot = info.MerkleRoot

	for _, name := range fixedscript.KeyNames {
		leafHashes := info.LeafHashesForKey(name)
		hashes := make([][]byte, len(leafHashes))
		for i := range leafHashes {
			hash := leafHashes[i]
			hashes[i] = hash[:]
		}

		pin.TaprootBip32Derivation = append(
			pin.TaprootBip32Derivation,
			&psbt.TaprootBip32Derivation{
				XOnlyPubKey: schnorr.SerializePubKey(
					triple[name],
				),
				LeafHashes: hashes,
				Bip32Path: p.keys.DerivationPath(
					name, chain, index,
				),
			},
		)
	}

	if info.UsesKeyPath(path) {
		participants := fixedscript.MuSig2Participants(triple)
		value := make([]byte, 0, 66)
		value = append(
			value, participants[0].SerializeCompressed()...,
		)
		value = append(
			value, participants[1].SerializeCompressed()...,
		)

		pin.Unknowns = setUnknown(
			pin.Unknowns,
			proprietaryKey(
				SubtypeMuSig2ParticipantPubKeys,
				musig2ParticipantsKeyData(info),
			),
			value,
		)
		return nil
	}

	leaf, err := info.LeafForSignPath(path)
	if err != nil {
		return err
	}
	pin.TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: leaf.ControlBlock,
		Script:       leaf.Script,
		LeafVersion:  txscript.BaseLeafVersion,
	}}
	return nil
}

// musig2ParticipantsKeyData builds the key data of the participant-set
// proprietary key: x-only output key then x-only internal key.
func musig2ParticipantsKeyData(info *fixedscript.TapSpendInfo) []byte {
	keyData := make([]byte, 0, 64)
	keyData = append(keyData, schnorr.SerializePubKey(info.OutputKey)...)
	keyData = append(keyData, schnorr.SerializePubKey(info.InternalKey)...)
	return keyData
}

// decodePrevTx decodes a previous transaction, in the network wire format,
// and verifies it actually contains the referenced outpoint.
func (p *Packet) decodePrevTx(raw []byte,
	outPoint wire.OutPoint) (*wire.MsgTx, error) {

	var (
		prevTx *wire.MsgTx
		txid   chainhash.Hash
	)
	if p.policy.SpecialTransaction {
		var err error
		prevTx, err = p.decodeNetworkTx(raw)
		if err != nil {
			return nil, err
		}
		txid = chainhash.DoubleHashH(raw)
	} else {
		prevTx = &wire.MsgTx{}
		if err := prevTx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("decoding previous "+
				"transaction: %w", err)
		}
		txid = prevTx.TxHash()
	}

	if txid != outPoint.Hash {
		return nil, fmt.Errorf("%w: txid %v != outpoint %v",
			ErrPrevTxMismatch, txid, outPoint.Hash)
	}
	if outPoint.Index >= uint32(len(prevTx.TxOut)) {
		return nil, fmt.Errorf("%w: output index %d out of range",
			ErrPrevTxMismatch, outPoint.Index)
	}

	return prevTx, nil
}

// checkPrevTx decodes a previous transaction and verifies it matches the
// outpoint, value and script being spent.
func (p *Packet) checkPrevTx(raw []byte, outPoint wire.OutPoint,
	value btcutil.Amount, pkScript []byte) (*wire.MsgTx, error) {

	prevTx, err := p.decodePrevTx(raw, outPoint)
	if err != nil {
		return nil, err
	}

	prevOut := prevTx.TxOut[outPoint.Index]
	if prevOut.Value != int64(value) {
		return nil, fmt.Errorf("%w: value %d != %d", ErrPrevTxMismatch,
			prevOut.Value, int64(value))
	}
	if pkScript != nil && !bytes.Equal(prevOut.PkScript, pkScript) {
		return nil, fmt.Errorf("%w: output script mismatch",
			ErrPrevTxMismatch)
	}

	return prevTx, nil
}

// AddReplayProtectionInput appends an input spending a p2sh-wrapped
// pay-to-pubkey output for the given key. Forked networks include one such
// input so the transaction cannot be replayed on a sibling chain.
func (p *Packet) AddReplayProtectionInput(outPoint wire.OutPoint,
	pubKey *btcec.PublicKey, value btcutil.Amount, prevTx []byte) error {

	redeemScript, err := ReplayProtectionRedeemScript(pubKey)
	if err != nil {
		return err
	}
	pkScript, err := replayProtectionPkScript(redeemScript)
	if err != nil {
		return err
	}

	pin := psbt.PInput{
		SighashType:  p.defaultSigHashType(fixedscript.Chain{}),
		RedeemScript: redeemScript,
	}

	if len(prevTx) == 0 {
		return ErrPrevTxRequired
	}
	pin.NonWitnessUtxo, err = p.checkPrevTx(
		prevTx, outPoint, value, pkScript,
	)
	if err != nil {
		return err
	}

	txIn := wire.NewTxIn(&outPoint, nil, nil)
	idx := len(p.inner.Inputs)
	p.inner.UnsignedTx.AddTxIn(txIn)
	p.inner.Inputs = append(p.inner.Inputs, pin)
	if p.policy.SpecialTransaction {
		p.prevTxRaw[idx] = prevTx
	}

	log.Debugf("Added replay protection input %d spending %v", idx,
		outPoint)
	return nil
}

// ReplayProtectionRedeemScript builds the pay-to-pubkey redeem script of a
// replay protection output.
func ReplayProtectionRedeemScript(pubKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pubKey.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// replayProtectionPkScript wraps the redeem script in the p2sh output form.
func replayProtectionPkScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}
