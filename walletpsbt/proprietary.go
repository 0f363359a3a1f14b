// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// Proprietary keys live under the BIP 174 proprietary key type with a fixed
// namespace identifier, distinguishing subtypes for the fields the standard
// PSBT model cannot carry.
const (
	// proprietaryKeyType is the BIP 174 proprietary key type byte.
	proprietaryKeyType = 0xfc

	// ProprietaryIdentifier is the namespace identifier of all
	// proprietary keys written by this module.
	ProprietaryIdentifier = "BITGO"
)

// Proprietary key subtypes. Any other subtype under the namespace is
// rejected at deserialization time.
const (
	// SubtypeConsensusBranchID holds the Zcash consensus branch id as a
	// little-endian uint32 in a global key.
	SubtypeConsensusBranchID = 0x00

	// SubtypeMuSig2ParticipantPubKeys holds the two aggregated-key-path
	// participant public keys of a taproot input. The key data is the
	// x-only output key followed by the x-only internal key; the value is
	// the two compressed participant keys in aggregation order.
	SubtypeMuSig2ParticipantPubKeys = 0x01

	// SubtypeMuSig2PubNonce holds one participant's public nonce. The key
	// data is the compressed participant key followed by the x-only
	// output key; the value is the 66-byte public nonce.
	SubtypeMuSig2PubNonce = 0x02

	// SubtypeMuSig2PartialSig holds one participant's partial signature.
	// Key data as for the nonce; the value is the 32-byte s scalar.
	SubtypeMuSig2PartialSig = 0x03

	// SubtypePayGoAttestationProof holds a fee-rebate attestation proof
	// in a global key. The key data is the affected output index as a
	// little-endian uint32 followed by the attestation entropy; the value
	// is a DER signature by an attestation key.
	SubtypePayGoAttestationProof = 0x04

	// SubtypeMessageSigningRequest marks the packet as a message-signing
	// request rather than a spendable transaction.
	SubtypeMessageSigningRequest = 0x05
)

// maxKnownSubtype is the highest subtype this version understands.
const maxKnownSubtype = SubtypeMessageSigningRequest

// proprietaryKey serializes a namespaced proprietary key in the BIP 174
// layout: type byte, compact-size identifier length, identifier, compact-size
// subtype, key data. Identifier and subtype both fit in single-byte compact
// sizes here.
func proprietaryKey(subtype uint8, keyData []byte) []byte {
	key := make([]byte, 0, 3+len(ProprietaryIdentifier)+len(keyData))
	key = append(key, proprietaryKeyType)
	key = append(key, byte(len(ProprietaryIdentifier)))
	key = append(key, ProprietaryIdentifier...)
	key = append(key, subtype)
	key = append(key, keyData...)
	return key
}

// parseProprietaryKey splits a raw unknown key into subtype and key data if
// it belongs to our namespace. The second return reports namespace
// membership; keys of other types or namespaces are not ours to interpret.
func parseProprietaryKey(raw []byte) (uint8, []byte, bool) {
	prefix := []byte{
		proprietaryKeyType, byte(len(ProprietaryIdentifier)),
	}
	prefix = append(prefix, ProprietaryIdentifier...)

	if len(raw) < len(prefix)+1 || !bytes.HasPrefix(raw, prefix) {
		return 0, nil, false
	}

	subtype := raw[len(prefix)]
	keyData := raw[len(prefix)+1:]
	return subtype, keyData, true
}

// checkProprietaryKeys rejects unknown subtypes under our namespace.
func checkProprietaryKeys(unknowns []*psbt.Unknown) error {
	for _, unknown := range unknowns {
		subtype, _, ours := parseProprietaryKey(unknown.Key)
		if !ours {
			continue
		}
		if subtype > maxKnownSubtype {
			return fmt.Errorf("%w: 0x%02x",
				ErrUnknownProprietaryKey, subtype)
		}
	}
	return nil
}

// findUnknown returns the value stored under the exact key, or nil.
func findUnknown(unknowns []*psbt.Unknown, key []byte) []byte {
	for _, unknown := range unknowns {
		if bytes.Equal(unknown.Key, key) {
			return unknown.Value
		}
	}
	return nil
}

// setUnknown stores value under key, replacing an existing entry in place so
// merges are idempotent.
func setUnknown(unknowns []*psbt.Unknown, key, value []byte) []*psbt.Unknown {
	for _, unknown := range unknowns {
		if bytes.Equal(unknown.Key, key) {
			unknown.Value = value
			return unknowns
		}
	}
	return append(unknowns, &psbt.Unknown{Key: key, Value: value})
}

// forEachProprietary calls fn for every namespaced key with the given
// subtype.
func forEachProprietary(unknowns []*psbt.Unknown, subtype uint8,
	fn func(keyData, value []byte) error) error {

	for _, unknown := range unknowns {
		gotSubtype, keyData, ours := parseProprietaryKey(unknown.Key)
		if !ours || gotSubtype != subtype {
			continue
		}
		if err := fn(keyData, unknown.Value); err != nil {
			return err
		}
	}
	return nil
}
