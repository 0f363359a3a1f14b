// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netpolicy defines the closed set of supported networks and the
// per-network capability table consulted by the script engine and the
// signature-hash selector. Policies are immutable data; all dispatch on
// network behavior goes through this package instead of per-network
// virtual types.
package netpolicy

import "fmt"

// Network identifies one of the supported UTXO networks. The set is closed:
// every switch over Network in this module is exhaustive and unknown values
// are hard errors, never silently defaulted.
type Network int

const (
	// Bitcoin is the Bitcoin main network.
	Bitcoin Network = iota

	// BitcoinTestnet is the Bitcoin test network (testnet3).
	BitcoinTestnet

	// BitcoinCash is the Bitcoin Cash main network.
	BitcoinCash

	// BitcoinCashTestnet is the Bitcoin Cash test network.
	BitcoinCashTestnet

	// BitcoinGold is the Bitcoin Gold main network.
	BitcoinGold

	// BitcoinGoldTestnet is the Bitcoin Gold test network.
	BitcoinGoldTestnet

	// BitcoinSV is the Bitcoin SV main network.
	BitcoinSV

	// BitcoinSVTestnet is the Bitcoin SV test network.
	BitcoinSVTestnet

	// Dash is the Dash main network.
	Dash

	// DashTestnet is the Dash test network.
	DashTestnet

	// Dogecoin is the Dogecoin main network.
	Dogecoin

	// DogecoinTestnet is the Dogecoin test network.
	DogecoinTestnet

	// Ecash is the eCash (XEC) main network.
	Ecash

	// EcashTestnet is the eCash test network.
	EcashTestnet

	// Litecoin is the Litecoin main network.
	Litecoin

	// LitecoinTestnet is the Litecoin test network.
	LitecoinTestnet

	// Zcash is the Zcash main network.
	Zcash

	// ZcashTestnet is the Zcash test network.
	ZcashTestnet
)

// AllNetworks contains every supported network, mainnets first within each
// coin pair. Useful for exhaustive table tests.
var AllNetworks = []Network{
	Bitcoin, BitcoinTestnet,
	BitcoinCash, BitcoinCashTestnet,
	BitcoinGold, BitcoinGoldTestnet,
	BitcoinSV, BitcoinSVTestnet,
	Dash, DashTestnet,
	Dogecoin, DogecoinTestnet,
	Ecash, EcashTestnet,
	Litecoin, LitecoinTestnet,
	Zcash, ZcashTestnet,
}

var networkNames = map[Network]string{
	Bitcoin:            "bitcoin",
	BitcoinTestnet:     "bitcoinTestnet",
	BitcoinCash:        "bitcoincash",
	BitcoinCashTestnet: "bitcoincashTestnet",
	BitcoinGold:        "bitcoingold",
	BitcoinGoldTestnet: "bitcoingoldTestnet",
	BitcoinSV:          "bitcoinsv",
	BitcoinSVTestnet:   "bitcoinsvTestnet",
	Dash:               "dash",
	DashTestnet:        "dashTestnet",
	Dogecoin:           "dogecoin",
	DogecoinTestnet:    "dogecoinTestnet",
	Ecash:              "ecash",
	EcashTestnet:       "ecashTestnet",
	Litecoin:           "litecoin",
	LitecoinTestnet:    "litecoinTestnet",
	Zcash:              "zcash",
	ZcashTestnet:       "zcashTestnet",
}

// String returns the canonical lowerCamel name of the network.
func (n Network) String() string {
	name, ok := networkNames[n]
	if !ok {
		return fmt.Sprintf("unknownNetwork(%d)", int(n))
	}
	return name
}

// Valid reports whether n is a member of the supported network set.
func (n Network) Valid() bool {
	_, ok := networkNames[n]
	return ok
}

// Mainnet maps a network to the main network of the same coin. Mainnets map
// to themselves.
func (n Network) Mainnet() Network {
	switch n {
	case BitcoinTestnet:
		return Bitcoin
	case BitcoinCashTestnet:
		return BitcoinCash
	case BitcoinGoldTestnet:
		return BitcoinGold
	case BitcoinSVTestnet:
		return BitcoinSV
	case DashTestnet:
		return Dash
	case DogecoinTestnet:
		return Dogecoin
	case EcashTestnet:
		return Ecash
	case LitecoinTestnet:
		return Litecoin
	case ZcashTestnet:
		return Zcash
	default:
		return n
	}
}

// IsMainnet reports whether n is a production network. Several safety rules
// key off this, most importantly the refusal of caller-supplied MuSig2
// session ids.
func (n Network) IsMainnet() bool {
	return n.Valid() && n.Mainnet() == n
}

// IsTestnet reports whether n is a test network.
func (n Network) IsTestnet() bool {
	return n.Valid() && n.Mainnet() != n
}
