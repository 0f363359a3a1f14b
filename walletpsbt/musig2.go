// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/bitgo/go-utxo/fixedscript"
)

// nonceKey addresses one participant's secret nonce for one input.
type nonceKey struct {
	inputIndex int
	pubKey     [33]byte
}

// nonceConfig holds optional nonce generation settings.
type nonceConfig struct {
	sessionID fn.Option[[32]byte]
}

// MuSig2NonceOption configures nonce generation.
type MuSig2NonceOption func(*nonceConfig)

// WithSessionID supplies the 32-byte session id seeding nonce generation.
// Only usable on test networks: reusing a session id with the same key signs
// two messages with one nonce, which reveals the private key, so production
// networks always generate the id internally.
func WithSessionID(sessionID [32]byte) MuSig2NonceOption {
	return func(cfg *nonceConfig) {
		cfg.sessionID = fn.Some(sessionID)
	}
}

// musig2Participants reads an input's aggregated-key-path participant set:
// the two participant keys in aggregation order plus the x-only output key
// that scopes the proprietary fields.
func (p *Packet) musig2Participants(idx int) ([2]*btcec.PublicKey, []byte,
	error) {

	in := &p.inner.Inputs[idx]

	var keyData, value []byte
	_ = forEachProprietary(
		in.Unknowns, SubtypeMuSig2ParticipantPubKeys,
		func(kd, v []byte) error {
			if value == nil {
				keyData, value = kd, v
			}
			return nil
		},
	)
	if value == nil {
		return [2]*btcec.PublicKey{}, nil, ErrNotMuSig2Input
	}
	if len(value) != 66 || len(keyData) != 64 {
		return [2]*btcec.PublicKey{}, nil, fmt.Errorf(
			"malformed musig2 participant set on input %d", idx)
	}

	first, err := btcec.ParsePubKey(value[:33])
	if err != nil {
		return [2]*btcec.PublicKey{}, nil, err
	}
	second, err := btcec.ParsePubKey(value[33:])
	if err != nil {
		return [2]*btcec.PublicKey{}, nil, err
	}

	outputKey := keyData[:32]
	return [2]*btcec.PublicKey{first, second}, outputKey, nil
}

// nonceKeyData builds the key data scoping a nonce or partial signature to
// one participant of one taproot output.
func nonceKeyData(participant *btcec.PublicKey, outputKey []byte) []byte {
	keyData := make([]byte, 0, 33+32)
	keyData = append(keyData, participant.SerializeCompressed()...)
	keyData = append(keyData, outputKey...)
	return keyData
}

// inputSessionID derives a distinct per-input seed from a caller-supplied
// session id, so one id never produces the same nonce for two different
// messages.
func inputSessionID(sessionID [32]byte, idx int) [32]byte {
	var buf [36]byte
	copy(buf[:32], sessionID[:])
	binary.LittleEndian.PutUint32(buf[32:], uint32(idx))
	return sha256.Sum256(buf[:])
}

// GenerateMuSig2Nonces generates a secret/public nonce pair for every
// aggregated-key-path input the named key participates in. The public nonce
// is written into the packet for exchange with the counterparty; the secret
// half stays in the process-local store until SignMuSig2Input consumes it.
func (p *Packet) GenerateMuSig2Nonces(name fixedscript.KeyName,
	xprv *hdkeychain.ExtendedKey, options ...MuSig2NonceOption) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}

	cfg := &nonceConfig{sessionID: fn.None[[32]byte]()}
	for _, option := range options {
		option(cfg)
	}
	if cfg.sessionID.IsSome() && p.network.IsMainnet() {
		return ErrSessionIDForbidden
	}

	generated := 0
	for i := range p.inner.Inputs {
		in := &p.inner.Inputs[i]
		if kind, err := classifyInput(in); err != nil ||
			kind != kindTapKeyPath {

			continue
		}

		participants, outputKey, err := p.musig2Participants(i)
		if err != nil {
			return &InputError{Index: i, Err: err}
		}

		chain, index, err := p.inputChainIndex(i)
		if err != nil {
			return &InputError{Index: i, Err: err}
		}
		privKey, err := p.keys.DerivePrivForChainAndIndex(
			name, xprv, chain, index,
		)
		if err != nil {
			return &InputError{Index: i, Err: err}
		}

		pubKey := privKey.PubKey()
		if !pubKey.IsEqual(participants[0]) &&
			!pubKey.IsEqual(participants[1]) {

			return &InputError{
				Index: i,
				Err: fmt.Errorf("%w: %v key is not a "+
					"participant", ErrNotSignable, name),
			}
		}

		var sessionID [32]byte
		if cfg.sessionID.IsSome() {
			sessionID = inputSessionID(
				cfg.sessionID.UnwrapOr([32]byte{}), i,
			)
		} else if _, err := rand.Read(sessionID[:]); err != nil {
			return err
		}

		nonces, err := musig2.GenNonces(
			musig2.WithPublicKey(pubKey),
			musig2.WithCustomRand(bytes.NewReader(sessionID[:])),
		)
		if err != nil {
			return &InputError{Index: i, Err: err}
		}

		key := nonceKey{inputIndex: i}
		copy(key.pubKey[:], pubKey.SerializeCompressed())

		p.nonceMtx.Lock()
		if p.nonces == nil {
			p.nonces = make(map[nonceKey]musig2.Nonces)
		}
		p.nonces[key] = *nonces
		p.nonceMtx.Unlock()

		in.Unknowns = setUnknown(
			in.Unknowns,
			proprietaryKey(
				SubtypeMuSig2PubNonce,
				nonceKeyData(pubKey, outputKey),
			),
			nonces.PubNonce[:],
		)
		generated++
	}

	if generated == 0 {
		return ErrNotMuSig2Input
	}

	log.Debugf("Generated musig2 nonces for %d inputs as %v", generated,
		name)
	return nil
}

// SetCounterpartyNonce records a participant's public nonce received out of
// band for input idx.
func (p *Packet) SetCounterpartyNonce(idx int, participant *btcec.PublicKey,
	pubNonce [musig2.PubNonceSize]byte) error {

	if idx < 0 || idx >= len(p.inner.Inputs) {
		return fmt.Errorf("input index %d out of range", idx)
	}

	participants, outputKey, err := p.musig2Participants(idx)
	if err != nil {
		return err
	}
	if !participant.IsEqual(participants[0]) &&
		!participant.IsEqual(participants[1]) {

		return fmt.Errorf("%w: key is not a participant",
			ErrNotSignable)
	}

	in := &p.inner.Inputs[idx]
	in.Unknowns = setUnknown(
		in.Unknowns,
		proprietaryKey(
			SubtypeMuSig2PubNonce,
			nonceKeyData(participant, outputKey),
		),
		pubNonce[:],
	)
	return nil
}

// CombineMuSig2Nonces merges the public nonces and partial signatures of a
// packet independently constructed over the same unsigned transaction, so
// two signers can reconcile their containers without sharing memory.
func (p *Packet) CombineMuSig2Nonces(other *Packet) error {
	ourID, err := p.UnsignedTxID()
	if err != nil {
		return err
	}
	theirID, err := other.UnsignedTxID()
	if err != nil {
		return err
	}
	if ourID != theirID {
		return ErrTxIDMismatch
	}

	for i := range p.inner.Inputs {
		in := &p.inner.Inputs[i]
		theirs := &other.inner.Inputs[i]

		for _, subtype := range []uint8{
			SubtypeMuSig2PubNonce, SubtypeMuSig2PartialSig,
		} {
			err := forEachProprietary(
				theirs.Unknowns, subtype,
				func(keyData, value []byte) error {
					in.Unknowns = setUnknown(
						in.Unknowns,
						proprietaryKey(
							subtype, keyData,
						),
						value,
					)
					return nil
				},
			)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// inputPubNonces reads both participants' public nonces for input idx.
func (p *Packet) inputPubNonces(idx int,
	participants [2]*btcec.PublicKey,
	outputKey []byte) ([2][musig2.PubNonceSize]byte, error) {

	in := &p.inner.Inputs[idx]

	var nonces [2][musig2.PubNonceSize]byte
	for i, participant := range participants {
		value := findUnknown(in.Unknowns, proprietaryKey(
			SubtypeMuSig2PubNonce,
			nonceKeyData(participant, outputKey),
		))
		if len(value) != musig2.PubNonceSize {
			return nonces, fmt.Errorf("%w: participant %x",
				ErrMissingNonce,
				participant.SerializeCompressed())
		}
		copy(nonces[i][:], value)
	}

	return nonces, nil
}

// SignMuSig2Input produces this participant's partial signature for an
// aggregated-key-path input. The stored secret nonce is removed on use, so a
// second call without regenerating nonces fails with ErrNoNonceState.
func (p *Packet) SignMuSig2Input(idx int, name fixedscript.KeyName,
	xprv *hdkeychain.ExtendedKey) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}
	if idx < 0 || idx >= len(p.inner.Inputs) {
		return fmt.Errorf("input index %d out of range", idx)
	}
	in := &p.inner.Inputs[idx]

	participants, outputKey, err := p.musig2Participants(idx)
	if err != nil {
		return err
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
	pubKey := privKey.PubKey()
	if !pubKey.IsEqual(participants[0]) &&
		!pubKey.IsEqual(participants[1]) {

		return fmt.Errorf("%w: %v key is not a participant",
			ErrNotSignable, name)
	}

	pubNonces, err := p.inputPubNonces(idx, participants, outputKey)
	if err != nil {
		return err
	}
	aggNonce, err := musig2.AggregateNonces(pubNonces[:])
	if err != nil {
		return err
	}

	// Take ownership of the secret nonce; reuse is structurally
	// impossible once the entry is gone.
	key := nonceKey{inputIndex: idx}
	copy(key.pubKey[:], pubKey.SerializeCompressed())

	p.nonceMtx.Lock()
	secNonce, ok := p.nonces[key]
	delete(p.nonces, key)
	p.nonceMtx.Unlock()
	if !ok {
		return ErrNoNonceState
	}

	digest, err := p.taprootKeySpendDigest(idx)
	if err != nil {
		return err
	}
	var msg [32]byte
	copy(msg[:], digest)

	partialSig, err := musig2.Sign(
		secNonce.SecNonce, privKey, aggNonce, participants[:], msg,
		musig2.WithTaprootSignTweak(in.TaprootMerkleRoot),
	)
	if err != nil {
		return err
	}

	var sigBytes bytes.Buffer
	if err := partialSig.Encode(&sigBytes); err != nil {
		return err
	}

	in.Unknowns = setUnknown(
		in.Unknowns,
		proprietaryKey(
			SubtypeMuSig2PartialSig,
			nonceKeyData(pubKey, outputKey),
		),
		sigBytes.Bytes(),
	)

	log.Debugf("Recorded musig2 partial signature for input %d as %v",
		idx, name)
	return nil
}
