// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrNilRootKey is returned when a RootWalletKeys is constructed with
	// a missing extended key.
	ErrNilRootKey = errors.New("nil root extended key")

	// ErrBadDerivationPrefix is returned when a derivation prefix is not
	// a slash-separated list of non-hardened child indices.
	ErrBadDerivationPrefix = errors.New("malformed derivation prefix")
)

// KeyName identifies one of the three wallet keys. The order is
// load-bearing: scripts are always constructed over the keys in
// [user, backup, bitgo] order and must never be permuted.
type KeyName int

const (
	// KeyUser is the customer-held key.
	KeyUser KeyName = 0

	// KeyBackup is the offline recovery key.
	KeyBackup KeyName = 1

	// KeyBitGo is the cosigning service key.
	KeyBitGo KeyName = 2
)

// String returns "user", "backup" or "bitgo".
func (k KeyName) String() string {
	switch k {
	case KeyUser:
		return "user"
	case KeyBackup:
		return "backup"
	case KeyBitGo:
		return "bitgo"
	default:
		return fmt.Sprintf("unknownKey(%d)", int(k))
	}
}

// KeyNames lists the three keys in canonical order.
var KeyNames = [3]KeyName{KeyUser, KeyBackup, KeyBitGo}

// KeyTriple is the ordered set of derived public keys for one
// (chain, index) pair: [user, backup, bitgo].
type KeyTriple [3]*btcec.PublicKey

// DefaultPrefix is the derivation path prefix applied to each root key when
// no per-key prefix is configured.
const DefaultPrefix = "0/0"

// RootWalletKeys holds the wallet's three root extended public keys plus
// the per-key derivation path prefixes. Immutable once constructed; it owns
// no secret material (private extended keys are neutered on entry).
type RootWalletKeys struct {
	keys     [3]*hdkeychain.ExtendedKey
	prefixes [3][]uint32
}

// RootWalletKeysOption configures optional RootWalletKeys behavior.
type RootWalletKeysOption func(*rootKeyConfig) error

type rootKeyConfig struct {
	prefixes [3]string
}

// WithDerivationPrefixes overrides the per-key derivation prefixes, in
// [user, backup, bitgo] order. Each prefix is a slash-separated list of
// non-hardened child indices, e.g. "0/0".
func WithDerivationPrefixes(user, backup, bitgo string) RootWalletKeysOption {
	return func(cfg *rootKeyConfig) error {
		cfg.prefixes = [3]string{user, backup, bitgo}
		return nil
	}
}

// NewRootWalletKeys builds a RootWalletKeys from the three root keys.
// Private extended keys are accepted but stored neutered; actual signing
// takes the private key separately.
func NewRootWalletKeys(user, backup, bitgo *hdkeychain.ExtendedKey,
	options ...RootWalletKeysOption) (*RootWalletKeys, error) {

	cfg := &rootKeyConfig{
		prefixes: [3]string{DefaultPrefix, DefaultPrefix, DefaultPrefix},
	}
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	rootKeys := &RootWalletKeys{}
	for i, key := range [3]*hdkeychain.ExtendedKey{user, backup, bitgo} {
		if key == nil {
			return nil, fmt.Errorf("%w: %v", ErrNilRootKey,
				KeyNames[i])
		}

		if key.IsPrivate() {
			neutered, err := key.Neuter()
			if err != nil {
				return nil, fmt.Errorf("unable to neuter %v "+
					"key: %w", KeyNames[i], err)
			}
			key = neutered
		}
		rootKeys.keys[i] = key

		prefix, err := parsePathPrefix(cfg.prefixes[i])
		if err != nil {
			return nil, fmt.Errorf("%v key: %w", KeyNames[i], err)
		}
		rootKeys.prefixes[i] = prefix
	}

	return rootKeys, nil
}

// parsePathPrefix parses a slash-separated list of non-hardened child
// indices.
func parsePathPrefix(prefix string) ([]uint32, error) {
	parts := strings.Split(prefix, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %q",
				ErrBadDerivationPrefix, prefix)
		}
		indices = append(indices, uint32(index))
	}
	return indices, nil
}

// Key returns the root extended public key for the given key name.
func (r *RootWalletKeys) Key(name KeyName) *hdkeychain.ExtendedKey {
	return r.keys[name]
}

// DerivationPath returns the full non-hardened derivation path applied to
// the named root key for the given chain and index, as child indices.
func (r *RootWalletKeys) DerivationPath(name KeyName, chain Chain,
	index uint32) []uint32 {

	prefix := r.prefixes[name]
	path := make([]uint32, 0, len(prefix)+2)
	path = append(path, prefix...)
	path = append(path, chain.Code(), index)
	return path
}

// DerivationPathString renders the derivation path as "0/0/40/1" style.
func (r *RootWalletKeys) DerivationPathString(name KeyName, chain Chain,
	index uint32) string {

	path := r.DerivationPath(name, chain, index)
	parts := make([]string, len(path))
	for i, child := range path {
		parts[i] = strconv.FormatUint(uint64(child), 10)
	}
	return strings.Join(parts, "/")
}

// deriveChild walks an extended key down a non-hardened path.
func deriveChild(key *hdkeychain.ExtendedKey,
	path []uint32) (*hdkeychain.ExtendedKey, error) {

	var err error
	for _, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("unable to derive child %d: %w",
				child, err)
		}
	}
	return key, nil
}

// DeriveForChainAndIndex derives the three public keys for one
// (chain, index) pair. The returned triple is always in
// [user, backup, bitgo] order.
func (r *RootWalletKeys) DeriveForChainAndIndex(chain Chain,
	index uint32) (KeyTriple, error) {

	var triple KeyTriple
	for _, name := range KeyNames {
		derived, err := deriveChild(
			r.keys[name], r.DerivationPath(name, chain, index),
		)
		if err != nil {
			return KeyTriple{}, fmt.Errorf("%v key: %w", name, err)
		}

		pubKey, err := derived.ECPubKey()
		if err != nil {
			return KeyTriple{}, fmt.Errorf("%v key: %w", name, err)
		}
		triple[name] = pubKey
	}

	return triple, nil
}

// DerivePrivForChainAndIndex derives the private key matching the wallet
// position for an extended private key that corresponds to one of the three
// root keys. The caller identifies which root key the xprv belongs to.
func (r *RootWalletKeys) DerivePrivForChainAndIndex(name KeyName,
	xprv *hdkeychain.ExtendedKey, chain Chain,
	index uint32) (*btcec.PrivateKey, error) {

	if !xprv.IsPrivate() {
		return nil, fmt.Errorf("%v key: extended key is not private",
			name)
	}

	derived, err := deriveChild(
		xprv, r.DerivationPath(name, chain, index),
	)
	if err != nil {
		return nil, fmt.Errorf("%v key: %w", name, err)
	}

	privKey, err := derived.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%v key: %w", name, err)
	}
	return privKey, nil
}
