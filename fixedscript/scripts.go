// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitgo/go-utxo/netpolicy"
)

// WalletScripts is the concrete script material for one derived key triple
// on one chain. Exactly the fields applicable to the script type are set:
//
//	p2sh:       PkScript, RedeemScript
//	p2shP2wsh:  PkScript, RedeemScript, WitnessScript
//	p2wsh:      PkScript, WitnessScript
//	p2tr*:      PkScript, TapSpendInfo
//
// A WalletScripts owns no secret material and is never mutated after
// construction.
type WalletScripts struct {
	// Chain identifies the script type and scope this was built for.
	Chain Chain

	// PkScript is the output script to place in a transaction output.
	PkScript []byte

	// RedeemScript is the p2sh redeem script, when applicable.
	RedeemScript []byte

	// WitnessScript is the segwit v0 witness script, when applicable.
	WitnessScript []byte

	// TapSpendInfo holds the taproot spend data, when applicable.
	TapSpendInfo *TapSpendInfo
}

// multisig2of3Script builds the canonical 2-of-3 CHECKMULTISIG script over
// the triple in fixed [user, backup, bitgo] order. The key order is
// load-bearing: permuting it changes the output script and therefore the
// address.
func multisig2of3Script(triple KeyTriple) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_2)
	for _, key := range triple {
		builder.AddData(key.SerializeCompressed())
	}
	return builder.AddOp(txscript.OP_3).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// payToScriptHashScript wraps a redeem script in the standard p2sh output
// script.
func payToScriptHashScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// payToWitnessScriptHashScript builds the native p2wsh output script for a
// witness script.
func payToWitnessScriptHashScript(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

// BuildWalletScripts constructs the wallet scripts for a derived key triple
// on the given chain, enforcing the network's script capabilities: segwit
// chains need segwit support, taproot chains need taproot support.
func BuildWalletScripts(triple KeyTriple, chain Chain,
	policy netpolicy.Policy) (*WalletScripts, error) {

	switch chain.ScriptType {
	case ScriptTypeP2WSH, ScriptTypeP2SHP2WSH:
		if !policy.SupportsSegwit {
			return nil, fmt.Errorf("%w: %v requires segwit",
				ErrUnsupportedScriptType, chain.ScriptType)
		}

	case ScriptTypeP2TR, ScriptTypeP2TRMuSig2:
		if !policy.SupportsTaproot {
			return nil, fmt.Errorf("%w: %v requires taproot",
				ErrUnsupportedScriptType, chain.ScriptType)
		}
	}

	scripts := &WalletScripts{Chain: chain}

	switch chain.ScriptType {
	case ScriptTypeP2SH:
		redeemScript, err := multisig2of3Script(triple)
		if err != nil {
			return nil, err
		}
		scripts.RedeemScript = redeemScript

		scripts.PkScript, err = payToScriptHashScript(redeemScript)
		if err != nil {
			return nil, err
		}

	case ScriptTypeP2SHP2WSH:
		witnessScript, err := multisig2of3Script(triple)
		if err != nil {
			return nil, err
		}
		scripts.WitnessScript = witnessScript

		// The p2wsh program doubles as the p2sh redeem script.
		redeemScript, err := payToWitnessScriptHashScript(
			witnessScript,
		)
		if err != nil {
			return nil, err
		}
		scripts.RedeemScript = redeemScript

		scripts.PkScript, err = payToScriptHashScript(redeemScript)
		if err != nil {
			return nil, err
		}

	case ScriptTypeP2WSH:
		witnessScript, err := multisig2of3Script(triple)
		if err != nil {
			return nil, err
		}
		scripts.WitnessScript = witnessScript

		scripts.PkScript, err = payToWitnessScriptHashScript(
			witnessScript,
		)
		if err != nil {
			return nil, err
		}

	case ScriptTypeP2TR, ScriptTypeP2TRMuSig2:
		tapInfo, err := newTapSpendInfo(triple, chain.ScriptType)
		if err != nil {
			return nil, err
		}
		scripts.TapSpendInfo = tapInfo

		scripts.PkScript, err = tapInfo.PkScript()
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedScriptType,
			int(chain.ScriptType))
	}

	return scripts, nil
}

// DeriveWalletScripts derives the key triple for (chain, index) and builds
// its wallet scripts in one step.
func DeriveWalletScripts(rootKeys *RootWalletKeys, chain Chain, index uint32,
	policy netpolicy.Policy) (*WalletScripts, KeyTriple, error) {

	triple, err := rootKeys.DeriveForChainAndIndex(chain, index)
	if err != nil {
		return nil, KeyTriple{}, err
	}

	scripts, err := BuildWalletScripts(triple, chain, policy)
	if err != nil {
		return nil, KeyTriple{}, err
	}

	return scripts, triple, nil
}
