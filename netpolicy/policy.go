// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netpolicy

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnknownNetwork is returned when a network identifier is not a
	// member of the supported set.
	ErrUnknownNetwork = errors.New("unknown network")
)

// SighashForkID is the BIP143 replay-protection flag bit that forked
// networks require in the signature hash type.
const SighashForkID = 0x40

// Policy is the immutable capability table entry for one network. All
// network-conditional behavior in the module (script support, sighash
// algorithm, transaction wire format) derives from these fields.
type Policy struct {
	// SupportsSegwit reports whether the network activated segregated
	// witness. Networks without it cannot host p2wsh or p2shP2wsh
	// scripts.
	SupportsSegwit bool

	// SupportsTaproot reports whether the network activated taproot.
	// Required for the p2tr and p2trMusig2 script types.
	SupportsTaproot bool

	// ForkID is the replay-protection fork identifier mixed into the
	// BIP143-style signature hash on forked networks. None means the
	// network signs without the fork id scheme.
	ForkID fn.Option[uint8]

	// RequiresConsensusBranchID reports whether signature hashing needs a
	// Zcash consensus branch id. Containers on such a network refuse to
	// sign until a branch id is present.
	RequiresConsensusBranchID bool

	// SpecialTransaction reports whether the network's raw transaction
	// wire format deviates from the standard layout and needs the
	// byte-preserving codec treatment on (de)serialization.
	SpecialTransaction bool
}

// UsesForkIDSighash reports whether BIP143-with-forkid signature hashing
// applies on this network.
func (p Policy) UsesForkIDSighash() bool {
	return p.ForkID.IsSome()
}

// policies maps every mainnet to its capability entry. Testnets share their
// mainnet's policy.
var policies = map[Network]Policy{
	Bitcoin: {
		SupportsSegwit:  true,
		SupportsTaproot: true,
		ForkID:          fn.None[uint8](),
	},
	BitcoinCash: {
		ForkID: fn.Some[uint8](0x00),
	},
	BitcoinGold: {
		SupportsSegwit: true,
		ForkID:         fn.Some[uint8](79),
	},
	BitcoinSV: {
		ForkID: fn.Some[uint8](0x00),
	},
	Dash: {
		SpecialTransaction: true,
	},
	Dogecoin: {},
	Ecash: {
		ForkID: fn.Some[uint8](0x00),
	},
	Litecoin: {
		SupportsSegwit: true,
	},
	Zcash: {
		RequiresConsensusBranchID: true,
		SpecialTransaction:        true,
	},
}

// PolicyFor looks up the capability table entry for a network. Unknown
// networks are a hard error.
func PolicyFor(n Network) (Policy, error) {
	p, ok := policies[n.Mainnet()]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %d", ErrUnknownNetwork, int(n))
	}
	return p, nil
}

// MustPolicyFor is PolicyFor for networks known at compile time. It panics
// on unknown networks and is intended for static tables and tests only.
func MustPolicyFor(n Network) Policy {
	p, err := PolicyFor(n)
	if err != nil {
		panic(err)
	}
	return p
}
