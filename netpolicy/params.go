// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netpolicy

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// addressParams builds a chaincfg parameter block for address rendering on
// the given network. Only the base58 version bytes, the bech32 prefix and
// the coin type differ from Bitcoin; consensus fields are irrelevant for
// address encoding and keep their Bitcoin values. The params are never
// registered with chaincfg, so the duplicated wire magic is harmless.
func addressParams(base chaincfg.Params, name string, p2pkhID, p2shID byte,
	hrp string, coinType uint32) *chaincfg.Params {

	params := base
	params.Name = name
	params.PubKeyHashAddrID = p2pkhID
	params.ScriptHashAddrID = p2shID
	params.Bech32HRPSegwit = hrp
	params.HDCoinType = coinType

	return &params
}

// netAddressParams holds one address parameter block per network.
//
// Zcash uses two-byte base58 version prefixes that the chaincfg model cannot
// express; its entry carries Bitcoin-style placeholders and callers are
// expected to render Zcash scripts through a dedicated address encoder (an
// external collaborator of this module). Bitcoin Cash and eCash entries
// describe the legacy base58 format, not cashaddr.
var netAddressParams = map[Network]*chaincfg.Params{
	Bitcoin:            &chaincfg.MainNetParams,
	BitcoinTestnet:     &chaincfg.TestNet3Params,
	BitcoinCash:        addressParams(chaincfg.MainNetParams, "bitcoincash", 0x00, 0x05, "", 145),
	BitcoinCashTestnet: addressParams(chaincfg.TestNet3Params, "bitcoincash-testnet", 0x6f, 0xc4, "", 1),
	BitcoinGold:        addressParams(chaincfg.MainNetParams, "bitcoingold", 0x26, 0x17, "btg", 156),
	BitcoinGoldTestnet: addressParams(chaincfg.TestNet3Params, "bitcoingold-testnet", 0x6f, 0xc4, "tbtg", 1),
	BitcoinSV:          addressParams(chaincfg.MainNetParams, "bitcoinsv", 0x00, 0x05, "", 236),
	BitcoinSVTestnet:   addressParams(chaincfg.TestNet3Params, "bitcoinsv-testnet", 0x6f, 0xc4, "", 1),
	Dash:               addressParams(chaincfg.MainNetParams, "dash", 0x4c, 0x10, "", 5),
	DashTestnet:        addressParams(chaincfg.TestNet3Params, "dash-testnet", 0x8c, 0x13, "", 1),
	Dogecoin:           addressParams(chaincfg.MainNetParams, "dogecoin", 0x1e, 0x16, "", 3),
	DogecoinTestnet:    addressParams(chaincfg.TestNet3Params, "dogecoin-testnet", 0x71, 0xc4, "", 1),
	Ecash:              addressParams(chaincfg.MainNetParams, "ecash", 0x00, 0x05, "", 899),
	EcashTestnet:       addressParams(chaincfg.TestNet3Params, "ecash-testnet", 0x6f, 0xc4, "", 1),
	Litecoin:           addressParams(chaincfg.MainNetParams, "litecoin", 0x30, 0x32, "ltc", 2),
	LitecoinTestnet:    addressParams(chaincfg.TestNet3Params, "litecoin-testnet", 0x6f, 0x3a, "tltc", 1),
	Zcash:              addressParams(chaincfg.MainNetParams, "zcash", 0x1c, 0x1c, "", 133),
	ZcashTestnet:       addressParams(chaincfg.TestNet3Params, "zcash-testnet", 0x1d, 0x1d, "", 1),
}

// AddressParams returns the chaincfg parameter block used to render scripts
// on the given network as human-readable addresses.
func AddressParams(n Network) (*chaincfg.Params, error) {
	params, ok := netAddressParams[n]
	if !ok {
		return nil, ErrUnknownNetwork
	}
	return params, nil
}
