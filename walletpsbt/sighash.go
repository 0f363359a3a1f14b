// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
	"github.com/bitgo/go-utxo/zcashtx"
)

// The signature hash algorithm is selected in exactly one place, for wallet
// and replay protection inputs alike: taproot inputs use the BIP 341 default,
// Zcash uses ZIP-243, forked networks use BIP143 with the fork id embedded in
// the hash type, and everything else uses the legacy algorithm. A mismatch
// between the algorithm used to sign and the one a verifier assumes is the
// bug class this centralization guards against.

// defaultSigHashType returns the hash type new inputs are created with.
func (p *Packet) defaultSigHashType(
	chain fixedscript.Chain) txscript.SigHashType {

	if chain.IsTaproot() {
		return txscript.SigHashDefault
	}
	if p.policy.UsesForkIDSighash() {
		return txscript.SigHashAll | netpolicy.SighashForkID
	}
	return txscript.SigHashAll
}

// inputUtxo resolves the output being spent by input idx from exactly one of
// the two utxo forms.
func (p *Packet) inputUtxo(idx int) (*wire.TxOut, error) {
	in := &p.inner.Inputs[idx]

	switch {
	case in.WitnessUtxo != nil && in.NonWitnessUtxo != nil:
		return nil, ErrInputUtxoConflict

	case in.WitnessUtxo != nil:
		return in.WitnessUtxo, nil

	case in.NonWitnessUtxo != nil:
		outPoint := p.inner.UnsignedTx.TxIn[idx].PreviousOutPoint
		if outPoint.Index >= uint32(len(in.NonWitnessUtxo.TxOut)) {
			return nil, fmt.Errorf("%w: output index %d out of "+
				"range", ErrPrevTxMismatch, outPoint.Index)
		}
		return in.NonWitnessUtxo.TxOut[outPoint.Index], nil

	default:
		return nil, ErrInputUtxoMissing
	}
}

// prevOutFetcher builds a fetcher over every input's spent output. Taproot
// signature hashes commit to all spent outputs, so every input must resolve.
func (p *Packet) prevOutFetcher() (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i := range p.inner.Inputs {
		utxo, err := p.inputUtxo(i)
		if err != nil {
			return nil, &InputError{Index: i, Err: err}
		}
		outPoint := p.inner.UnsignedTx.TxIn[i].PreviousOutPoint
		fetcher.AddPrevOut(outPoint, utxo)
	}
	return fetcher, nil
}

// ecdsaInputDigest computes the digest an ECDSA signer commits to for input
// idx over the given script, dispatching on the network policy.
func (p *Packet) ecdsaInputDigest(idx int, script []byte) ([]byte,
	txscript.SigHashType, error) {

	in := &p.inner.Inputs[idx]
	hashType := in.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	utxo, err := p.inputUtxo(idx)
	if err != nil {
		return nil, 0, err
	}
	tx := p.inner.UnsignedTx

	switch {
	case p.policy.RequiresConsensusBranchID:
		branchID, err := p.ConsensusBranchID()
		if err != nil {
			return nil, 0, err
		}
		ztx := &zcashtx.Tx{
			Version:        uint32(tx.Version),
			Overwintered:   p.zcash.overwintered,
			VersionGroupID: p.zcash.versionGroupID,
			ExpiryHeight:   p.zcash.expiryHeight,
			MsgTx:          tx,
			SaplingExtra:   p.zcash.saplingExtra,
		}
		digest, err := zcashtx.SignatureHash(
			ztx, branchID, idx, script, utxo.Value, hashType,
		)
		return digest, hashType, err

	case p.policy.UsesForkIDSighash():
		hashType |= netpolicy.SighashForkID
		forkID := p.policy.ForkID.UnwrapOr(0)
		digest := forkidSignatureHash(
			tx, idx, script, utxo.Value, hashType, forkID,
		)
		return digest, hashType, nil

	case in.WitnessScript != nil:
		fetcher, err := p.prevOutFetcher()
		if err != nil {
			return nil, 0, err
		}
		sigHashes := txscript.NewTxSigHashes(tx, fetcher)
		digest, err := txscript.CalcWitnessSigHash(
			script, sigHashes, hashType, tx, idx, utxo.Value,
		)
		return digest, hashType, err

	default:
		digest, err := txscript.CalcSignatureHash(
			script, hashType, tx, idx,
		)
		return digest, hashType, err
	}
}

// taprootKeySpendDigest computes the BIP 341 default-sighash digest for a
// key path spend of input idx.
func (p *Packet) taprootKeySpendDigest(idx int) ([]byte, error) {
	fetcher, err := p.prevOutFetcher()
	if err != nil {
		return nil, err
	}

	tx := p.inner.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, tx, idx, fetcher,
	)
}

// taprootScriptSpendDigest computes the tapscript digest for spending input
// idx through the given leaf script.
func (p *Packet) taprootScriptSpendDigest(idx int,
	leafScript []byte) ([]byte, error) {

	fetcher, err := p.prevOutFetcher()
	if err != nil {
		return nil, err
	}

	tx := p.inner.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, tx, idx, fetcher,
		txscript.NewBaseTapLeaf(leafScript),
	)
}

// forkidSignatureHash computes the BIP143-style digest used by forked
// networks. It differs from segwit v0 hashing in the final field: the
// 32-bit hash type carries the fork id in its second byte, which is what
// makes signatures invalid on sibling chains.
func forkidSignatureHash(tx *wire.MsgTx, idx int, scriptCode []byte,
	amount int64, hashType txscript.SigHashType, forkID uint8) []byte {

	zero := make([]byte, 32)
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0
	baseType := hashType & 0x1f

	hashPrevouts := zero
	if !anyoneCanPay {
		var buf bytes.Buffer
		for _, txIn := range tx.TxIn {
			buf.Write(txIn.PreviousOutPoint.Hash[:])
			binary.Write(
				&buf, binary.LittleEndian,
				txIn.PreviousOutPoint.Index,
			)
		}
		hashPrevouts = chainhash.DoubleHashB(buf.Bytes())
	}

	hashSequence := zero
	if !anyoneCanPay && baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone {

		var buf bytes.Buffer
		for _, txIn := range tx.TxIn {
			binary.Write(&buf, binary.LittleEndian, txIn.Sequence)
		}
		hashSequence = chainhash.DoubleHashB(buf.Bytes())
	}

	hashOutputs := zero
	switch {
	case baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone:

		var buf bytes.Buffer
		for _, txOut := range tx.TxOut {
			binary.Write(&buf, binary.LittleEndian, txOut.Value)
			wire.WriteVarBytes(&buf, 0, txOut.PkScript)
		}
		hashOutputs = chainhash.DoubleHashB(buf.Bytes())

	case baseType == txscript.SigHashSingle && idx < len(tx.TxOut):
		var buf bytes.Buffer
		txOut := tx.TxOut[idx]
		binary.Write(&buf, binary.LittleEndian, txOut.Value)
		wire.WriteVarBytes(&buf, 0, txOut.PkScript)
		hashOutputs = chainhash.DoubleHashB(buf.Bytes())
	}

	var preimage bytes.Buffer
	binary.Write(&preimage, binary.LittleEndian, uint32(tx.Version))
	preimage.Write(hashPrevouts)
	preimage.Write(hashSequence)

	txIn := tx.TxIn[idx]
	preimage.Write(txIn.PreviousOutPoint.Hash[:])
	binary.Write(
		&preimage, binary.LittleEndian, txIn.PreviousOutPoint.Index,
	)
	wire.WriteVarBytes(&preimage, 0, scriptCode)
	binary.Write(&preimage, binary.LittleEndian, amount)
	binary.Write(&preimage, binary.LittleEndian, txIn.Sequence)

	preimage.Write(hashOutputs)
	binary.Write(&preimage, binary.LittleEndian, tx.LockTime)
	binary.Write(
		&preimage, binary.LittleEndian,
		uint32(hashType)|uint32(forkID)<<8,
	)

	return chainhash.DoubleHashB(preimage.Bytes())
}
