// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zcashtx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/minio/blake2b-simd"
)

// BLAKE2b personalization strings of the ZIP-243 intermediate hashes.
const (
	prevoutsPersonalization   = "ZcashPrevoutHash"
	sequencePersonalization   = "ZcashSequencHash"
	outputsPersonalization    = "ZcashOutputsHash"
	sigHashPersonalization    = "ZcashSigHash"
	sigHashPersonalizationLen = 16
)

var (
	// ErrNotOverwintered is returned when a ZIP-243 signature hash is
	// requested for a pre-overwinter transaction; those use the legacy
	// algorithm instead.
	ErrNotOverwintered = errors.New("zip-243 sighash requires an " +
		"overwintered transaction")

	// ErrShieldedSigning is returned when the transaction carries
	// shielded components. This module signs transparent-only
	// transactions; shielded value would make the transparent signature
	// hash computed here incorrect.
	ErrShieldedSigning = errors.New("transaction has shielded " +
		"components, transparent-only signing refused")
)

// blake256 computes a 32-byte BLAKE2b digest with the given
// personalization.
func blake256(personalization []byte, chunks ...[]byte) ([]byte, error) {
	h, err := blake2b.New(&blake2b.Config{
		Size:   32,
		Person: personalization,
	})
	if err != nil {
		return nil, err
	}
	for _, chunk := range chunks {
		h.Write(chunk)
	}
	return h.Sum(nil), nil
}

// checkTransparentOnly verifies that the opaque trailing region describes
// zero shielded value: value balance zero, empty shielded vectors and no
// join splits. Anything else is refused rather than mis-signed.
func checkTransparentOnly(tx *Tx) error {
	if len(tx.SaplingExtra) == 0 {
		return nil
	}

	r := bytes.NewReader(tx.SaplingExtra)

	var valueBalance int64
	if err := binary.Read(r, binary.LittleEndian, &valueBalance); err != nil {
		return fmt.Errorf("%w: %v", ErrNotZcash, err)
	}
	if valueBalance != 0 {
		return ErrShieldedSigning
	}

	for _, vector := range []string{"spends", "outputs", "joinsplits"} {
		count, err := wire.ReadVarInt(r, 0)
		if err != nil {
			// Older formats end after fewer vectors; whatever was
			// present so far was empty.
			return nil
		}
		if count != 0 {
			return fmt.Errorf("%w: non-empty %s", ErrShieldedSigning,
				vector)
		}
	}

	return nil
}

// SignatureHash computes the ZIP-243 transparent-input signature hash for
// the sapling format. The consensus branch id is baked into the BLAKE2b
// personalization, so a signature commits to the network upgrade it was
// produced under.
func SignatureHash(tx *Tx, branchID uint32, idx int, scriptCode []byte,
	amount int64, hashType txscript.SigHashType) ([]byte, error) {

	if !tx.Overwintered {
		return nil, ErrNotOverwintered
	}
	if err := checkTransparentOnly(tx); err != nil {
		return nil, err
	}

	msgTx := tx.MsgTx
	if idx < 0 || idx >= len(msgTx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}

	zero := make([]byte, 32)
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0
	baseType := hashType & 0x1f

	hashPrevouts := zero
	if !anyoneCanPay {
		var buf bytes.Buffer
		for _, txIn := range msgTx.TxIn {
			buf.Write(txIn.PreviousOutPoint.Hash[:])
			binary.Write(
				&buf, binary.LittleEndian,
				txIn.PreviousOutPoint.Index,
			)
		}
		var err error
		hashPrevouts, err = blake256(
			[]byte(prevoutsPersonalization), buf.Bytes(),
		)
		if err != nil {
			return nil, err
		}
	}

	hashSequence := zero
	if !anyoneCanPay && baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone {

		var buf bytes.Buffer
		for _, txIn := range msgTx.TxIn {
			binary.Write(&buf, binary.LittleEndian, txIn.Sequence)
		}
		var err error
		hashSequence, err = blake256(
			[]byte(sequencePersonalization), buf.Bytes(),
		)
		if err != nil {
			return nil, err
		}
	}

	hashOutputs := zero
	switch {
	case baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone:

		var buf bytes.Buffer
		for _, txOut := range msgTx.TxOut {
			binary.Write(&buf, binary.LittleEndian, txOut.Value)
			wire.WriteVarBytes(&buf, 0, txOut.PkScript)
		}
		var err error
		hashOutputs, err = blake256(
			[]byte(outputsPersonalization), buf.Bytes(),
		)
		if err != nil {
			return nil, err
		}

	case baseType == txscript.SigHashSingle && idx < len(msgTx.TxOut):
		var buf bytes.Buffer
		txOut := msgTx.TxOut[idx]
		binary.Write(&buf, binary.LittleEndian, txOut.Value)
		wire.WriteVarBytes(&buf, 0, txOut.PkScript)

		var err error
		hashOutputs, err = blake256(
			[]byte(outputsPersonalization), buf.Bytes(),
		)
		if err != nil {
			return nil, err
		}
	}

	var preimage bytes.Buffer
	header := tx.Version | overwinterFlag
	binary.Write(&preimage, binary.LittleEndian, header)
	binary.Write(&preimage, binary.LittleEndian, tx.VersionGroupID)
	preimage.Write(hashPrevouts)
	preimage.Write(hashSequence)
	preimage.Write(hashOutputs)
	preimage.Write(zero) // hashJoinSplits
	preimage.Write(zero) // hashShieldedSpends
	preimage.Write(zero) // hashShieldedOutputs
	binary.Write(&preimage, binary.LittleEndian, msgTx.LockTime)
	binary.Write(&preimage, binary.LittleEndian, tx.ExpiryHeight)
	binary.Write(&preimage, binary.LittleEndian, int64(0)) // valueBalance
	binary.Write(&preimage, binary.LittleEndian, uint32(hashType))

	txIn := msgTx.TxIn[idx]
	preimage.Write(txIn.PreviousOutPoint.Hash[:])
	binary.Write(
		&preimage, binary.LittleEndian, txIn.PreviousOutPoint.Index,
	)
	wire.WriteVarBytes(&preimage, 0, scriptCode)
	binary.Write(&preimage, binary.LittleEndian, amount)
	binary.Write(&preimage, binary.LittleEndian, txIn.Sequence)

	personalization := make([]byte, sigHashPersonalizationLen)
	copy(personalization, sigHashPersonalization)
	binary.LittleEndian.PutUint32(personalization[12:], branchID)

	return blake256(personalization, preimage.Bytes())
}
