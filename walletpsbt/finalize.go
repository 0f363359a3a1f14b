// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FinalizeInput assembles the final witness or script sig for input idx from
// the collected signatures and clears the intermediate signing metadata.
func (p *Packet) FinalizeInput(idx int) error {
	if idx < 0 || idx >= len(p.inner.Inputs) {
		return fmt.Errorf("input index %d out of range", idx)
	}
	in := &p.inner.Inputs[idx]

	if inputFinalized(in) {
		return nil
	}

	kind, err := classifyInput(in)
	if err != nil {
		return err
	}

	switch kind {
	case kindMultisig:
		err = finalizeMultisig(in)
	case kindReplay:
		err = finalizeReplay(in)
	case kindTapScript:
		err = finalizeTapScript(in)
	case kindTapKeyPath:
		err = p.finalizeMuSig2(idx, in)
	default:
		err = ErrNotFinalizable
	}
	if err != nil {
		return err
	}

	clearSigningMetadata(in)
	log.Debugf("Finalized input %d", idx)
	return nil
}

// FinalizeAll finalizes every input, attempting each independently and
// aggregating the per-input failures so a caller sees all blocking inputs in
// one pass.
func (p *Packet) FinalizeAll() error {
	var errs []error
	for i := range p.inner.Inputs {
		if err := p.FinalizeInput(i); err != nil {
			errs = append(errs, &InputError{Index: i, Err: err})
		}
	}
	return errors.Join(errs...)
}

// orderedSigs returns the recorded partial signatures in script key order.
func orderedSigs(in *psbt.PInput, script []byte) [][]byte {
	var sigs [][]byte
	for _, key := range extractScriptKeys(script, 33) {
		for _, partial := range in.PartialSigs {
			if bytes.Equal(partial.PubKey, key) {
				sigs = append(sigs, partial.Signature)
				break
			}
		}
	}
	return sigs
}

// finalizeMultisig assembles the 2-of-3 spend. Signatures go into the
// witness or script sig in script key order, preceded by the null dummy the
// CHECKMULTISIG off-by-one consumes.
func finalizeMultisig(in *psbt.PInput) error {
	script := in.WitnessScript
	if script == nil {
		script = in.RedeemScript
	}

	sigs := orderedSigs(in, script)
	if len(sigs) < 2 {
		return fmt.Errorf("%w: have %d of 2", ErrMissingSignature,
			len(sigs))
	}
	sigs = sigs[:2]

	if in.WitnessScript != nil {
		witness, err := serializeWitness(wire.TxWitness{
			nil, sigs[0], sigs[1], in.WitnessScript,
		})
		if err != nil {
			return err
		}
		in.FinalScriptWitness = witness

		// Wrapped segwit reveals the witness program in the script
		// sig.
		if in.RedeemScript != nil {
			scriptSig, err := txscript.NewScriptBuilder().
				AddData(in.RedeemScript).
				Script()
			if err != nil {
				return err
			}
			in.FinalScriptSig = scriptSig
		}
		return nil
	}

	scriptSig, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_FALSE).
		AddData(sigs[0]).
		AddData(sigs[1]).
		AddData(in.RedeemScript).
		Script()
	if err != nil {
		return err
	}
	in.FinalScriptSig = scriptSig
	return nil
}

// finalizeReplay assembles the p2sh pay-to-pubkey spend.
func finalizeReplay(in *psbt.PInput) error {
	sigs := orderedSigs(in, in.RedeemScript)
	if len(sigs) < 1 {
		return fmt.Errorf("%w: have 0 of 1", ErrMissingSignature)
	}

	scriptSig, err := txscript.NewScriptBuilder().
		AddData(sigs[0]).
		AddData(in.RedeemScript).
		Script()
	if err != nil {
		return err
	}
	in.FinalScriptSig = scriptSig
	return nil
}

// finalizeTapScript assembles the script path spend. The leaf script checks
// the first key with CHECKSIGVERIFY, so its signature sits on top of the
// witness stack, directly below the script and control block.
func finalizeTapScript(in *psbt.PInput) error {
	leaf := in.TaprootLeafScript[0]
	leafHash := txscript.NewBaseTapLeaf(leaf.Script).TapHash()

	keys := extractScriptKeys(leaf.Script, 32)
	if len(keys) != 2 {
		return fmt.Errorf("%w: unexpected leaf script shape",
			ErrNotFinalizable)
	}

	sigs := make([][]byte, 2)
	for i, key := range keys {
		for _, spendSig := range in.TaprootScriptSpendSig {
			if !bytes.Equal(spendSig.XOnlyPubKey, key) ||
				!bytes.Equal(spendSig.LeafHash, leafHash[:]) {

				continue
			}

			sig := spendSig.Signature
			if spendSig.SigHash != txscript.SigHashDefault {
				sig = append(sig, byte(spendSig.SigHash))
			}
			sigs[i] = sig
			break
		}
	}
	if sigs[0] == nil || sigs[1] == nil {
		return fmt.Errorf("%w: need both leaf signatures",
			ErrMissingSignature)
	}

	witness, err := serializeWitness(wire.TxWitness{
		sigs[1], sigs[0], leaf.Script, leaf.ControlBlock,
	})
	if err != nil {
		return err
	}
	in.FinalScriptWitness = witness
	return nil
}

// finalizeMuSig2 combines both participants' partial signatures into one
// Schnorr signature for the aggregated key path and verifies it against the
// taproot output key before committing it to the witness.
func (p *Packet) finalizeMuSig2(idx int, in *psbt.PInput) error {
	participants, outputKey, err := p.musig2Participants(idx)
	if err != nil {
		return err
	}

	pubNonces, err := p.inputPubNonces(idx, participants, outputKey)
	if err != nil {
		return err
	}
	aggNonce, err := musig2.AggregateNonces(pubNonces[:])
	if err != nil {
		return err
	}

	digest, err := p.taprootKeySpendDigest(idx)
	if err != nil {
		return err
	}
	var msg [32]byte
	copy(msg[:], digest)

	partialSigs := make([]*musig2.PartialSignature, 0, 2)
	for _, participant := range participants {
		value := findUnknown(in.Unknowns, proprietaryKey(
			SubtypeMuSig2PartialSig,
			nonceKeyData(participant, outputKey),
		))
		if value == nil {
			return fmt.Errorf("%w: participant %x",
				ErrMissingPartialSig,
				participant.SerializeCompressed())
		}

		var partialSig musig2.PartialSignature
		err := partialSig.Decode(bytes.NewReader(value))
		if err != nil {
			return fmt.Errorf("decoding partial signature: %w",
				err)
		}
		partialSigs = append(partialSigs, &partialSig)
	}

	scriptRoot := in.TaprootMerkleRoot
	aggKey, _, _, err := musig2.AggregateKeys(
		participants[:], false,
		musig2.WithTaprootKeyTweak(scriptRoot),
	)
	if err != nil {
		return err
	}

	finalNonce, err := finalNoncePoint(aggNonce, aggKey.FinalKey, msg)
	if err != nil {
		return err
	}

	finalSig := musig2.CombineSigs(
		finalNonce, partialSigs,
		musig2.WithTaprootTweakedCombine(
			msg, participants[:], scriptRoot, false,
		),
	)

	outKey, err := schnorr.ParsePubKey(outputKey)
	if err != nil {
		return err
	}
	if !finalSig.Verify(msg[:], outKey) {
		return ErrInvalidAggregateSignature
	}

	witness, err := serializeWitness(wire.TxWitness{finalSig.Serialize()})
	if err != nil {
		return err
	}
	in.FinalScriptWitness = witness
	return nil
}

// finalNoncePoint recomputes the aggregate signing nonce R from the
// combined public nonce, the tweaked aggregate key and the message, exactly
// as each signer derived it: R = R1 + b*R2 with the blinding factor b bound
// to all three. A combined nonce at infinity degrades to the generator.
func finalNoncePoint(combinedNonce [musig2.PubNonceSize]byte,
	combinedKey *btcec.PublicKey, msg [32]byte) (*btcec.PublicKey, error) {

	blindHash := chainhash.TaggedHash(
		musig2.NonceBlindTag, combinedNonce[:],
		schnorr.SerializePubKey(combinedKey), msg[:],
	)
	var blinder btcec.ModNScalar
	blinder.SetByteSlice(blindHash[:])

	nonce1, err := btcec.ParsePubKey(combinedNonce[:33])
	if err != nil {
		return nil, err
	}
	nonce2, err := btcec.ParsePubKey(combinedNonce[33:])
	if err != nil {
		return nil, err
	}

	var nonce1J, nonce2J, finalJ btcec.JacobianPoint
	nonce1.AsJacobian(&nonce1J)
	nonce2.AsJacobian(&nonce2J)
	btcec.ScalarMultNonConst(&blinder, &nonce2J, &nonce2J)
	btcec.AddNonConst(&nonce1J, &nonce2J, &finalJ)

	if (finalJ.X.IsZero() && finalJ.Y.IsZero()) || finalJ.Z.IsZero() {
		var one btcec.ModNScalar
		one.SetInt(1)
		btcec.ScalarBaseMultNonConst(&one, &finalJ)
	}

	finalJ.ToAffine()
	return btcec.NewPublicKey(&finalJ.X, &finalJ.Y), nil
}

// inputFinalized reports whether an input already carries its final script
// sig or witness.
func inputFinalized(in *psbt.PInput) bool {
	return in.FinalScriptSig != nil || in.FinalScriptWitness != nil
}

// clearSigningMetadata drops the intermediate fields a finalized input no
// longer needs, per the container format's finalization rules.
func clearSigningMetadata(in *psbt.PInput) {
	in.PartialSigs = nil
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil
	in.TaprootScriptSpendSig = nil
	in.TaprootLeafScript = nil
	in.TaprootBip32Derivation = nil
	in.TaprootInternalKey = nil
	in.TaprootMerkleRoot = nil

	in.Unknowns = removeProprietarySubtypes(
		in.Unknowns, SubtypeMuSig2ParticipantPubKeys,
		SubtypeMuSig2PubNonce, SubtypeMuSig2PartialSig,
	)
}

// removeProprietarySubtypes drops every namespaced key with one of the given
// subtypes, leaving foreign unknowns untouched.
func removeProprietarySubtypes(unknowns []*psbt.Unknown,
	subtypes ...uint8) []*psbt.Unknown {

	kept := unknowns[:0]
	for _, unknown := range unknowns {
		subtype, _, ours := parseProprietaryKey(unknown.Key)
		drop := false
		if ours {
			for _, s := range subtypes {
				if subtype == s {
					drop = true
					break
				}
			}
		}
		if !drop {
			kept = append(kept, unknown)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// serializeWitness encodes a witness stack in the wire format the container
// stores final witnesses in.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
