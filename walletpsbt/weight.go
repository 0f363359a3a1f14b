// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/bitgo/go-utxo/pkg/feerate"
)

const (
	// maxDERSigLen is the worst-case length of a DER encoded ECDSA
	// signature including the trailing hash type byte.
	maxDERSigLen = 72

	// maxSchnorrSigLen is the worst-case length of a Schnorr signature
	// with an explicit hash type byte appended.
	maxSchnorrSigLen = 65

	// witnessScaleFactor relates base transaction size to weight.
	witnessScaleFactor = 4
)

// varintLen returns the serialized length of a Bitcoin variable-length
// integer.
func varintLen(n uint64) uint64 {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// pushDataLen returns the script bytes consumed by pushing n bytes of data.
func pushDataLen(n uint64) uint64 {
	switch {
	case n < 76:
		return 1 + n
	case n <= 0xff:
		return 2 + n
	default:
		return 3 + n
	}
}

// estimateInputSpend returns the worst-case script sig and serialized witness
// lengths of one input once finalized. Already-final inputs report their
// actual lengths.
func estimateInputSpend(in *psbt.PInput) (uint64, uint64, error) {
	if in.FinalScriptSig != nil || in.FinalScriptWitness != nil {
		return uint64(len(in.FinalScriptSig)),
			uint64(len(in.FinalScriptWitness)), nil
	}

	kind, err := classifyInput(in)
	if err != nil {
		return 0, 0, err
	}

	var scriptSig, witness uint64
	switch kind {
	case kindMultisig:
		if in.WitnessScript != nil {
			ws := uint64(len(in.WitnessScript))
			witness = 1 + 1 + 2*(1+maxDERSigLen) +
				varintLen(ws) + ws
			if in.RedeemScript != nil {
				scriptSig = 1 + uint64(len(in.RedeemScript))
			}
			break
		}
		rs := uint64(len(in.RedeemScript))
		scriptSig = 1 + 2*(1+maxDERSigLen) + pushDataLen(rs)

	case kindReplay:
		rs := uint64(len(in.RedeemScript))
		scriptSig = 1 + maxDERSigLen + pushDataLen(rs)

	case kindTapScript:
		leaf := in.TaprootLeafScript[0]
		script := uint64(len(leaf.Script))
		block := uint64(len(leaf.ControlBlock))
		witness = 1 + 2*(1+maxSchnorrSigLen) +
			varintLen(script) + script + varintLen(block) + block

	case kindTapKeyPath:
		witness = 1 + 1 + 64
	}

	return scriptSig, witness, nil
}

// EstimateVSize estimates the virtual size of the final transaction from the
// unsigned transaction and each input's script metadata, assuming worst-case
// signature lengths. Estimates never undershoot the final size, so a fee
// chosen against them always clears the intended rate.
func (p *Packet) EstimateVSize() (feerate.VByte, error) {
	tx := p.inner.UnsignedTx

	base := uint64(4 + 4)
	base += varintLen(uint64(len(tx.TxIn)))
	base += varintLen(uint64(len(tx.TxOut)))
	for _, txOut := range tx.TxOut {
		scriptLen := uint64(len(txOut.PkScript))
		base += 8 + varintLen(scriptLen) + scriptLen
	}

	var (
		witnessLens []uint64
		hasWitness  bool
	)
	for i := range p.inner.Inputs {
		scriptSig, witness, err := estimateInputSpend(&p.inner.Inputs[i])
		if err != nil {
			return feerate.VByte{}, &InputError{Index: i, Err: err}
		}

		base += 36 + 4 + varintLen(scriptSig) + scriptSig
		witnessLens = append(witnessLens, witness)
		if witness > 0 {
			hasWitness = true
		}
	}

	total := base
	if hasWitness {
		// Marker and flag, plus a one-byte empty witness for every
		// input without one.
		total += 2
		for _, witness := range witnessLens {
			if witness == 0 {
				witness = 1
			}
			total += witness
		}
	}

	weight := base*(witnessScaleFactor-1) + total
	return feerate.NewWeightUnit(weight).ToVB(), nil
}
