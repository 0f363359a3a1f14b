// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownSignPath is returned for a sign path value outside the
	// three defined cosigning pairs.
	ErrUnknownSignPath = errors.New("unknown sign path")

	// ErrKeyPathSignPath is returned when a script-path leaf is requested
	// for the pair that spends via the aggregated key path.
	ErrKeyPathSignPath = errors.New("sign path spends via key path, " +
		"not a script leaf")

	// ErrNoSuchLeaf is returned when no script leaf exists for the
	// requested cosigning pair.
	ErrNoSuchLeaf = errors.New("no tap leaf for sign path")
)

// SignPath names the pair of wallet keys that will cosign a taproot input.
// Taproot inputs commit to one concrete spending path up front, so the pair
// must be chosen when the input is added.
type SignPath int

const (
	// SignPathUserBitGo is the normal spending path: for p2trMusig2 the
	// aggregated key path, for legacy p2tr the depth-1 script leaf.
	SignPathUserBitGo SignPath = iota

	// SignPathUserBackup is the user-side recovery path.
	SignPathUserBackup

	// SignPathBackupBitGo is the service-assisted recovery path.
	SignPathBackupBitGo
)

// String returns "user+bitgo" style.
func (p SignPath) String() string {
	keys, err := p.Keys()
	if err != nil {
		return fmt.Sprintf("unknownSignPath(%d)", int(p))
	}
	return fmt.Sprintf("%v+%v", keys[0], keys[1])
}

// Keys returns the two wallet keys of the pair, in canonical
// user-before-backup-before-bitgo order.
func (p SignPath) Keys() ([2]KeyName, error) {
	switch p {
	case SignPathUserBitGo:
		return [2]KeyName{KeyUser, KeyBitGo}, nil
	case SignPathUserBackup:
		return [2]KeyName{KeyUser, KeyBackup}, nil
	case SignPathBackupBitGo:
		return [2]KeyName{KeyBackup, KeyBitGo}, nil
	default:
		return [2]KeyName{}, fmt.Errorf("%w: %d", ErrUnknownSignPath,
			int(p))
	}
}

// TapLeafSpend is one script-path leaf of a wallet taproot output, carrying
// everything needed to both reconstruct the output and later spend through
// this leaf.
type TapLeafSpend struct {
	// Signers are the two wallet keys whose signatures satisfy the leaf.
	Signers [2]KeyName

	// Script is the leaf script: <pk1> OP_CHECKSIGVERIFY <pk2>
	// OP_CHECKSIG over the x-only keys.
	Script []byte

	// LeafHash is the BIP341 tapleaf hash of Script.
	LeafHash chainhash.Hash

	// Depth is the leaf's depth in the taptree. The tree shapes are
	// fixed: 1 for two-leaf trees, 1/2/2 for three-leaf trees, making
	// the merkle root reproducible from the key triple alone.
	Depth uint8

	// ControlBlock is the serialized BIP341 control block proving the
	// leaf's inclusion under the output key.
	ControlBlock []byte
}

// TapSpendInfo is the spend information for one wallet taproot output: the
// ordered leaves, the (aggregated) internal key, the merkle root and the
// tweaked output key. It is a pure function of the key triple and variant.
type TapSpendInfo struct {
	// ScriptType is ScriptTypeP2TR or ScriptTypeP2TRMuSig2.
	ScriptType ScriptType

	// InternalKey is the taproot internal key. For the legacy variant it
	// is the deterministic (non-MuSig2) aggregate of user and bitgo; for
	// the MuSig2 variant it is the MuSig2 aggregate of the same pair.
	InternalKey *btcec.PublicKey

	// OutputKey is the internal key tweaked with the merkle root.
	OutputKey *btcec.PublicKey

	// MerkleRoot is the root of the fixed-shape taptree.
	MerkleRoot []byte

	// Leaves holds the script-path leaves in canonical order:
	// user+bitgo (legacy only), user+backup, backup+bitgo.
	Leaves []TapLeafSpend
}

// tapLeafScript builds the 2-of-2 leaf script for an ordered key pair.
func tapLeafScript(first, second *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(first)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddData(schnorr.SerializePubKey(second)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// aggregateLegacyKeys combines the user and bitgo keys into the legacy
// taproot internal key. The rule predates the MuSig2 standard: per-key
// coefficients are plain SHA256 of the key list hash and the key, and the
// weighted sum is used directly. No party knows a discrete log for the
// result under this scheme, which is exactly the point: legacy p2tr
// outputs must only be spendable through their script leaves. Do not
// "modernize" this to MuSig2 aggregation; that would change which spending
// paths are valid.
func aggregateLegacyKeys(user, bitgo *btcec.PublicKey) (*btcec.PublicKey,
	error) {

	listHash := sha256.New()
	listHash.Write(user.SerializeCompressed())
	listHash.Write(bitgo.SerializeCompressed())
	ell := listHash.Sum(nil)

	var sum btcec.JacobianPoint
	for _, key := range []*btcec.PublicKey{user, bitgo} {
		coeffHash := sha256.New()
		coeffHash.Write(ell)
		coeffHash.Write(key.SerializeCompressed())

		var coeff btcec.ModNScalar
		coeff.SetByteSlice(coeffHash.Sum(nil))

		var point, scaled btcec.JacobianPoint
		key.AsJacobian(&point)
		btcec.ScalarMultNonConst(&coeff, &point, &scaled)
		btcec.AddNonConst(&sum, &scaled, &sum)
	}

	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, errors.New("legacy key aggregation produced the " +
			"point at infinity")
	}

	sum.ToAffine()
	return btcec.NewPublicKey(&sum.X, &sum.Y), nil
}

// MuSig2Participants returns the two keys of the aggregated key path, in
// the order fed to MuSig2 key aggregation.
func MuSig2Participants(triple KeyTriple) [2]*btcec.PublicKey {
	return [2]*btcec.PublicKey{triple[KeyUser], triple[KeyBitGo]}
}

// newTapSpendInfo computes the taproot spend information for a key triple.
// Leaves are placed at explicit depths (1 for the two-leaf MuSig2 tree,
// 1/2/2 for the three-leaf legacy tree) so the merkle root is deterministic.
func newTapSpendInfo(triple KeyTriple,
	scriptType ScriptType) (*TapSpendInfo, error) {

	user, backup, bitgo := triple[KeyUser], triple[KeyBackup], triple[KeyBitGo]

	userBackupScript, err := tapLeafScript(user, backup)
	if err != nil {
		return nil, err
	}
	backupBitGoScript, err := tapLeafScript(backup, bitgo)
	if err != nil {
		return nil, err
	}

	userBackupLeaf := txscript.NewBaseTapLeaf(userBackupScript)
	backupBitGoLeaf := txscript.NewBaseTapLeaf(backupBitGoScript)

	info := &TapSpendInfo{ScriptType: scriptType}

	var root chainhash.Hash
	switch scriptType {
	case ScriptTypeP2TR:
		// Three leaves: the user+bitgo leaf sits alone at depth 1,
		// the two recovery leaves pair up at depth 2.
		userBitGoScript, err := tapLeafScript(user, bitgo)
		if err != nil {
			return nil, err
		}
		userBitGoLeaf := txscript.NewBaseTapLeaf(userBitGoScript)

		recoveryBranch := txscript.NewTapBranch(
			userBackupLeaf, backupBitGoLeaf,
		)
		root = txscript.NewTapBranch(
			userBitGoLeaf, recoveryBranch,
		).TapHash()

		info.InternalKey, err = aggregateLegacyKeys(user, bitgo)
		if err != nil {
			return nil, err
		}

		userBitGoHash := userBitGoLeaf.TapHash()
		userBackupHash := userBackupLeaf.TapHash()
		backupBitGoHash := backupBitGoLeaf.TapHash()
		recoveryHash := recoveryBranch.TapHash()

		info.Leaves = []TapLeafSpend{{
			Signers:  [2]KeyName{KeyUser, KeyBitGo},
			Script:   userBitGoScript,
			LeafHash: userBitGoHash,
			Depth:    1,
		}, {
			Signers:  [2]KeyName{KeyUser, KeyBackup},
			Script:   userBackupScript,
			LeafHash: userBackupHash,
			Depth:    2,
		}, {
			Signers:  [2]KeyName{KeyBackup, KeyBitGo},
			Script:   backupBitGoScript,
			LeafHash: backupBitGoHash,
			Depth:    2,
		}}

		proofs := [][]byte{
			recoveryHash[:],
			append(backupBitGoHash[:], userBitGoHash[:]...),
			append(userBackupHash[:], userBitGoHash[:]...),
		}
		if err := info.finishLeaves(root, proofs); err != nil {
			return nil, err
		}

	case ScriptTypeP2TRMuSig2:
		// Two recovery leaves at depth 1; the normal spend is the
		// MuSig2 key path and has no leaf.
		root = txscript.NewTapBranch(
			userBackupLeaf, backupBitGoLeaf,
		).TapHash()

		participants := MuSig2Participants(triple)
		aggKey, _, _, err := musig2.AggregateKeys(
			participants[:], false,
			musig2.WithTaprootKeyTweak(root[:]),
		)
		if err != nil {
			return nil, fmt.Errorf("musig2 key aggregation: %w",
				err)
		}
		info.InternalKey = aggKey.PreTweakedKey

		userBackupHash := userBackupLeaf.TapHash()
		backupBitGoHash := backupBitGoLeaf.TapHash()

		info.Leaves = []TapLeafSpend{{
			Signers:  [2]KeyName{KeyUser, KeyBackup},
			Script:   userBackupScript,
			LeafHash: userBackupHash,
			Depth:    1,
		}, {
			Signers:  [2]KeyName{KeyBackup, KeyBitGo},
			Script:   backupBitGoScript,
			LeafHash: backupBitGoHash,
			Depth:    1,
		}}

		proofs := [][]byte{
			backupBitGoHash[:],
			userBackupHash[:],
		}
		if err := info.finishLeaves(root, proofs); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %v is not a taproot type",
			ErrUnsupportedScriptType, scriptType)
	}

	info.MerkleRoot = root[:]
	info.OutputKey = txscript.ComputeTaprootOutputKey(
		info.InternalKey, root[:],
	)

	return info, nil
}

// finishLeaves computes the output key parity and fills in each leaf's
// control block from its inclusion proof.
func (t *TapSpendInfo) finishLeaves(root chainhash.Hash,
	proofs [][]byte) error {

	outputKey := txscript.ComputeTaprootOutputKey(t.InternalKey, root[:])
	yIsOdd := outputKey.SerializeCompressed()[0] ==
		secp256k1CompressedOddY

	for i := range t.Leaves {
		controlBlock := txscript.ControlBlock{
			InternalKey:     t.InternalKey,
			OutputKeyYIsOdd: yIsOdd,
			LeafVersion:     txscript.BaseLeafVersion,
			InclusionProof:  proofs[i],
		}
		blockBytes, err := controlBlock.ToBytes()
		if err != nil {
			return fmt.Errorf("control block for leaf %d: %w", i,
				err)
		}
		t.Leaves[i].ControlBlock = blockBytes
	}

	return nil
}

// secp256k1CompressedOddY is the compressed pubkey prefix for odd Y.
const secp256k1CompressedOddY = 0x03

// PkScript returns the taproot output script OP_1 <32-byte output key>.
func (t *TapSpendInfo) PkScript() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(t.OutputKey)).
		Script()
}

// UsesKeyPath reports whether the given sign path spends through the
// aggregated key path rather than a script leaf.
func (t *TapSpendInfo) UsesKeyPath(path SignPath) bool {
	return t.ScriptType == ScriptTypeP2TRMuSig2 && path == SignPathUserBitGo
}

// LeafForSignPath returns the script leaf satisfied by the given cosigning
// pair. For the MuSig2 variant's user+bitgo pair this errors, since that
// pair spends via the key path.
func (t *TapSpendInfo) LeafForSignPath(path SignPath) (*TapLeafSpend, error) {
	if t.UsesKeyPath(path) {
		return nil, ErrKeyPathSignPath
	}

	signers, err := path.Keys()
	if err != nil {
		return nil, err
	}

	for i := range t.Leaves {
		if t.Leaves[i].Signers == signers {
			return &t.Leaves[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSuchLeaf, path)
}

// LeafHashesForKey returns the tapleaf hashes of every leaf the named key
// participates in. This feeds the taproot derivation metadata written for
// each key that could plausibly sign, so a counterparty can verify
// provenance without trusting the constructor.
func (t *TapSpendInfo) LeafHashesForKey(name KeyName) []chainhash.Hash {
	var hashes []chainhash.Hash
	for i := range t.Leaves {
		leaf := &t.Leaves[i]
		if leaf.Signers[0] == name || leaf.Signers[1] == name {
			hashes = append(hashes, leaf.LeafHash)
		}
	}
	return hashes
}
