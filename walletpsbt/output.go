// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitgo/go-utxo/fixedscript"
)

// AddWalletOutput appends an output paying back into the wallet, typically
// change, together with the derivation metadata a counterparty needs to
// verify the output really belongs to the wallet.
func (p *Packet) AddWalletOutput(chain fixedscript.Chain, index uint32,
	value btcutil.Amount) error {

	if p.keys == nil {
		return ErrNoWalletKeys
	}

	scripts, triple, err := fixedscript.DeriveWalletScripts(
		p.keys, chain, index, p.policy,
	)
	if err != nil {
		return err
	}

	pout := psbt.POutput{
		RedeemScript:  scripts.RedeemScript,
		WitnessScript: scripts.WitnessScript,
	}

	if chain.IsTaproot() {
		info := scripts.TapSpendInfo
		pout.TaprootInternalKey = schnorr.SerializePubKey(
			info.InternalKey,
		)
		for _, name := range fixedscript.KeyNames {
			leafHashes := info.LeafHashesForKey(name)
			hashes := make([][]byte, len(leafHashes))
			for i := range leafHashes {
				hash := leafHashes[i]
				hashes[i] = hash[:]
			}

			pout.TaprootBip32Derivation = append(
				pout.TaprootBip32Derivation,
				&psbt.TaprootBip32Derivation{
					XOnlyPubKey: schnorr.SerializePubKey(
						triple[name],
					),
					LeafHashes: hashes,
					Bip32Path: p.keys.DerivationPath(
						name, chain, index,
					),
				},
			)
		}
	} else {
		for _, name := range fixedscript.KeyNames {
			pout.Bip32Derivation = append(
				pout.Bip32Derivation, &psbt.Bip32Derivation{
					PubKey: triple[name].SerializeCompressed(),
					Bip32Path: p.keys.DerivationPath(
						name, chain, index,
					),
				},
			)
		}
	}

	p.inner.UnsignedTx.AddTxOut(wire.NewTxOut(
		int64(value), scripts.PkScript,
	))
	p.inner.Outputs = append(p.inner.Outputs, pout)

	log.Debugf("Added wallet output (chain %v, index %d, value %v)",
		chain, index, value)
	return nil
}

// AddOutput appends an external output paying an arbitrary script.
func (p *Packet) AddOutput(pkScript []byte, value btcutil.Amount) {
	p.inner.UnsignedTx.AddTxOut(wire.NewTxOut(int64(value), pkScript))
	p.inner.Outputs = append(p.inner.Outputs, psbt.POutput{})
}
