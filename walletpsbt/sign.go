// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitgo/go-utxo/fixedscript"
)

// inputKind classifies an input by the script form its metadata describes.
type inputKind int

const (
	// kindMultisig is a 2-of-3 multisig input: p2sh, p2shP2wsh or p2wsh.
	kindMultisig inputKind = iota

	// kindTapScript is a taproot input committed to a script path spend.
	kindTapScript

	// kindTapKeyPath is a taproot input spent through the aggregated key
	// path; it is signed with the MuSig2 operations only.
	kindTapKeyPath

	// kindReplay is a p2sh-wrapped pay-to-pubkey replay protection input.
	kindReplay
)

// classifyInput determines the script form of an input from its metadata.
func classifyInput(in *psbt.PInput) (inputKind, error) {
	switch {
	case in.TaprootInternalKey != nil:
		participants := findUnknownSubtype(
			in.Unknowns, SubtypeMuSig2ParticipantPubKeys,
		)
		if participants != nil {
			return kindTapKeyPath, nil
		}
		if len(in.TaprootLeafScript) > 0 {
			return kindTapScript, nil
		}
		return 0, fmt.Errorf("%w: taproot input has neither leaf "+
			"script nor participant set", ErrNotFinalizable)

	case in.WitnessScript != nil:
		return kindMultisig, nil

	case in.RedeemScript != nil:
		isMultisig, _ := txscript.IsMultisigScript(in.RedeemScript)
		if isMultisig {
			return kindMultisig, nil
		}
		return kindReplay, nil

	default:
		return 0, fmt.Errorf("%w: no script metadata",
			ErrNotFinalizable)
	}
}

// findUnknownSubtype returns the value of the first namespaced key with the
// given subtype, or nil.
func findUnknownSubtype(unknowns []*psbt.Unknown, subtype uint8) []byte {
	var value []byte
	_ = forEachProprietary(
		unknowns, subtype, func(_, v []byte) error {
			if value == nil {
				value = v
			}
			return nil
		},
	)
	return value
}

// extractScriptKeys returns every data push of the given length in script
// order. For multisig scripts with 33-byte pushes and tap leaf scripts with
// 32-byte pushes this yields the signing keys in their canonical order.
func extractScriptKeys(script []byte, keyLen int) [][]byte {
	var keys [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if data := tokenizer.Data(); len(data) == keyLen {
			keys = append(keys, data)
		}
	}
	return keys
}

// setPartialSig records an ECDSA partial signature, replacing an existing
// one by the same key so re-signing is idempotent.
func setPartialSig(in *psbt.PInput, pubKey, sig []byte) {
	for _, partial := range in.PartialSigs {
		if bytes.Equal(partial.PubKey, pubKey) {
			partial.Signature = sig
			return
		}
	}
	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey,
		Signature: sig,
	})
}

// SignInputWithPrivKey signs input idx with a raw private key. The key must
// participate in the input's spending script; aggregated key path inputs are
// signed with SignMuSig2Input instead.
func (p *Packet) SignInputWithPrivKey(idx int,
	privKey *btcec.PrivateKey) error {

	if idx < 0 || idx >= len(p.inner.Inputs) {
		return fmt.Errorf("input index %d out of range", idx)
	}
	in := &p.inner.Inputs[idx]

	kind, err := classifyInput(in)
	if err != nil {
		return err
	}

	switch kind {
	case kindMultisig:
		script := in.WitnessScript
		if script == nil {
			script = in.RedeemScript
		}
		return p.signECDSA(idx, in, script, privKey)

	case kindReplay:
		return p.signECDSA(idx, in, in.RedeemScript, privKey)

	case kindTapScript:
		return p.signTapScript(idx, in, privKey)

	case kindTapKeyPath:
		return fmt.Errorf("%w: aggregated key path input needs "+
			"musig2 signing", ErrNotSignable)

	default:
		return ErrNotSignable
	}
}

// signECDSA computes the network's digest over the script and records a
// partial signature, after checking the key actually appears in the script.
func (p *Packet) signECDSA(idx int, in *psbt.PInput, script []byte,
	privKey *btcec.PrivateKey) error {

	pubKey := privKey.PubKey().SerializeCompressed()
	matched := false
	for _, key := range extractScriptKeys(script, 33) {
		if bytes.Equal(key, pubKey) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: key not in script", ErrNotSignable)
	}

	digest, hashType, err := p.ecdsaInputDigest(idx, script)
	if err != nil {
		return err
	}

	sig := ecdsa.Sign(privKey, digest)
	setPartialSig(in, pubKey, append(sig.Serialize(), byte(hashType)))

	log.Tracef("Signed input %d with key %x", idx, pubKey)
	return nil
}

// signTapScript signs the input's committed leaf script with a Schnorr
// signature.
func (p *Packet) signTapScript(idx int, in *psbt.PInput,
	privKey *btcec.PrivateKey) error {

	leaf := in.TaprootLeafScript[0]

	xOnly := schnorr.SerializePubKey(privKey.PubKey())
	matched := false
	for _, key := range extractScriptKeys(leaf.Script, 32) {
		if bytes.Equal(key, xOnly) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: key not in leaf script", ErrNotSignable)
	}

	digest, err := p.taprootScriptSpendDigest(idx, leaf.Script)
	if err != nil {
		return err
	}

	sig, err := schnorr.Sign(privKey, digest)
	if err != nil {
		return err
	}

	leafHash := txscript.NewBaseTapLeaf(leaf.Script).TapHash()
	spendSig := &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: xOnly,
		LeafHash:    leafHash[:],
		Signature:   sig.Serialize(),
		SigHash:     txscript.SigHashDefault,
	}

	for i, existing := range in.TaprootScriptSpendSig {
		if bytes.Equal(existing.XOnlyPubKey, xOnly) &&
			bytes.Equal(existing.LeafHash, leafHash[:]) {

			in.TaprootScriptSpendSig[i] = spendSig
			return nil
		}
	}
	in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig, spendSig)

	log.Tracef("Signed tap script input %d with key %x", idx, xOnly)
	return nil
}

// SignWithPrivKey signs every input the key participates in. Inputs the key
// cannot sign are skipped; if it matches none, ErrNotSignable is returned.
// Per-input failures are collected so one bad input does not hide another.
func (p *Packet) SignWithPrivKey(privKey *btcec.PrivateKey) error {
	var (
		errs   []error
		signed int
	)
	for i := range p.inner.Inputs {
		err := p.SignInputWithPrivKey(i, privKey)
		switch {
		case err == nil:
			signed++
		case errors.Is(err, ErrNotSignable):
		default:
			errs = append(errs, &InputError{Index: i, Err: err})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if signed == 0 {
		return ErrNotSignable
	}
	return nil
}

// inputChainIndex resolves the wallet chain and index an input claims
// through its derivation entries. Every entry must agree.
func (p *Packet) inputChainIndex(idx int) (fixedscript.Chain, uint32, error) {
	in := &p.inner.Inputs[idx]

	var paths [][]uint32
	for _, derivation := range in.Bip32Derivation {
		paths = append(paths, derivation.Bip32Path)
	}
	for _, derivation := range in.TaprootBip32Derivation {
		paths = append(paths, derivation.Bip32Path)
	}

	return chainIndexFromPaths(paths)
}

// SignInputWithXprv derives the wallet position's private key for the named
// root key and signs input idx with it.
func (p *Packet) SignInputWithXprv(idx int, name fixedscript.KeyName,
	xprv *hdkeychain.ExtendedKey) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}

	chain, index, err := p.inputChainIndex(idx)
	if err != nil {
		return err
	}

	privKey, err := p.keys.DerivePrivForChainAndIndex(
		name, xprv, chain, index,
	)
	if err != nil {
		return err
	}

	return p.SignInputWithPrivKey(idx, privKey)
}

// SignWithXprv signs every wallet input the named key participates in.
// Replay protection and external inputs are skipped, as are aggregated key
// path inputs, which are signed with SignMuSig2Input.
func (p *Packet) SignWithXprv(name fixedscript.KeyName,
	xprv *hdkeychain.ExtendedKey) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}

	var (
		errs   []error
		signed int
	)
	for i := range p.inner.Inputs {
		err := p.SignInputWithXprv(i, name, xprv)
		switch {
		case err == nil:
			signed++
		case errors.Is(err, ErrNonWalletInput):
		case errors.Is(err, ErrNotSignable):
		default:
			errs = append(errs, &InputError{Index: i, Err: err})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if signed == 0 {
		return ErrNotSignable
	}
	return nil
}
