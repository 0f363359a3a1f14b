// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
	"github.com/bitgo/go-utxo/pkg/feerate"
)

// ScriptID locates an output in a wallet's derivation tree.
type ScriptID struct {
	Chain fixedscript.Chain
	Index uint32
}

// ParsedInput is the read-only view of one verified input.
type ParsedInput struct {
	// Value is the value of the spent output.
	Value btcutil.Amount

	// PkScript is the script of the spent output.
	PkScript []byte

	// Address is the human-readable form of PkScript, when renderable.
	Address string

	// ScriptID locates the input in the wallet; None for replay
	// protection inputs.
	ScriptID fn.Option[ScriptID]

	// ReplayProtection reports whether the input matched the replay
	// protection allow-list.
	ReplayProtection bool
}

// ParsedOutput is the read-only view of one output.
type ParsedOutput struct {
	// Value is the output value.
	Value btcutil.Amount

	// PkScript is the output script.
	PkScript []byte

	// Address is the human-readable form of PkScript, when renderable.
	Address string

	// ScriptID locates the output in the wallet; None for external
	// outputs.
	ScriptID fn.Option[ScriptID]
}

// ParsedTransaction is the verified view of a whole packet with checked
// totals. It is recomputed on every parse and never cached across packet
// mutation.
type ParsedTransaction struct {
	Inputs  []ParsedInput
	Outputs []ParsedOutput

	// InputTotal is the sum of all input values.
	InputTotal btcutil.Amount

	// OutputTotal is the sum of all output values, split below into the
	// wallet-owned and external portions.
	OutputTotal         btcutil.Amount
	WalletOutputTotal   btcutil.Amount
	ExternalOutputTotal btcutil.Amount

	// Fee is InputTotal minus OutputTotal.
	Fee btcutil.Amount
}

// FeeRate returns the fee rate implied by the checked fee and the given
// virtual size, typically Packet.EstimateVSize.
func (tx *ParsedTransaction) FeeRate(size feerate.VByte) feerate.SatPerVByte {
	return feerate.CalcSatPerVByte(tx.Fee, size)
}

// addAmount sums two amounts with explicit overflow checking. This is money
// arithmetic; it never wraps silently.
func addAmount(total, value btcutil.Amount) (btcutil.Amount, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: negative value %d",
			ErrValueOverflow, value)
	}
	sum := total + value
	if sum < total {
		return 0, ErrValueOverflow
	}
	return sum, nil
}

// chainIndexFromPaths resolves the (chain, index) claimed by a set of
// derivation paths. Every path must agree on its last two components.
func chainIndexFromPaths(paths [][]uint32) (fixedscript.Chain, uint32,
	error) {

	if len(paths) == 0 {
		return fixedscript.Chain{}, 0, ErrNonWalletInput
	}

	var (
		chainCode, index uint32
		resolved         bool
	)
	for _, path := range paths {
		if len(path) < 2 {
			return fixedscript.Chain{}, 0,
				ErrInconsistentDerivation
		}
		gotChain := path[len(path)-2]
		gotIndex := path[len(path)-1]

		if resolved && (gotChain != chainCode || gotIndex != index) {
			return fixedscript.Chain{}, 0,
				ErrInconsistentDerivation
		}
		chainCode, index, resolved = gotChain, gotIndex, true
	}

	chain, err := fixedscript.ChainFromCode(chainCode)
	if err != nil {
		return fixedscript.Chain{}, 0, err
	}
	return chain, index, nil
}

// scriptAddress renders a script as an address on the packet's network, or
// an empty string for non-standard scripts.
func (p *Packet) scriptAddress(pkScript []byte) string {
	params, err := netpolicy.AddressParams(p.network)
	if err != nil {
		return ""
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

// outputPaths collects an output's derivation paths.
func outputPaths(pout *psbt.POutput) [][]uint32 {
	var paths [][]uint32
	for _, derivation := range pout.Bip32Derivation {
		paths = append(paths, derivation.Bip32Path)
	}
	for _, derivation := range pout.TaprootBip32Derivation {
		paths = append(paths, derivation.Bip32Path)
	}
	return paths
}

// ParseWithWalletKeys reconciles the packet against a wallet's derivation
// tree and a replay protection allow-list of output scripts. Inputs must
// either match the allow-list or re-derive to their claimed wallet position;
// outputs claiming a wallet position must re-derive too. Per-item errors are
// collected across the whole set before returning, and totals use checked
// arithmetic throughout.
//
// The keys may belong to a different wallet than the packet was built with,
// which is how a cosigner verifies a counterparty's change outputs. Paygo
// attestation proofs on outputs are verified against the given attestation
// keys.
func (p *Packet) ParseWithWalletKeys(keys *fixedscript.RootWalletKeys,
	replayProtection [][]byte,
	paygoKeys []*btcec.PublicKey) (*ParsedTransaction, error) {

	if p.IsMessageSigningRequest() {
		return nil, ErrMessageSigningRequest
	}
	if keys == nil {
		keys = p.keys
	}
	if keys == nil {
		return nil, ErrNoWalletKeys
	}

	parsed := &ParsedTransaction{}
	var errs []error

	for i := range p.inner.Inputs {
		input, err := p.parseInput(i, keys, replayProtection)
		if err != nil {
			errs = append(errs, &InputError{Index: i, Err: err})
			continue
		}
		parsed.Inputs = append(parsed.Inputs, *input)

		parsed.InputTotal, err = addAmount(
			parsed.InputTotal, input.Value,
		)
		if err != nil {
			errs = append(errs, &InputError{Index: i, Err: err})
		}
	}

	for i := range p.inner.Outputs {
		output, wallet, err := p.parseOutput(i, keys, paygoKeys)
		if err != nil {
			errs = append(errs, &OutputError{Index: i, Err: err})
			continue
		}
		parsed.Outputs = append(parsed.Outputs, *output)

		parsed.OutputTotal, err = addAmount(
			parsed.OutputTotal, output.Value,
		)
		if err != nil {
			errs = append(errs, &OutputError{Index: i, Err: err})
			continue
		}
		if wallet {
			parsed.WalletOutputTotal, err = addAmount(
				parsed.WalletOutputTotal, output.Value,
			)
		} else {
			parsed.ExternalOutputTotal, err = addAmount(
				parsed.ExternalOutputTotal, output.Value,
			)
		}
		if err != nil {
			errs = append(errs, &OutputError{Index: i, Err: err})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if parsed.OutputTotal > parsed.InputTotal {
		return nil, fmt.Errorf("%w: inputs %v < outputs %v",
			ErrFeeCalculation, parsed.InputTotal,
			parsed.OutputTotal)
	}
	parsed.Fee = parsed.InputTotal - parsed.OutputTotal

	return parsed, nil
}

// parseInput classifies and verifies one input.
func (p *Packet) parseInput(idx int, keys *fixedscript.RootWalletKeys,
	replayProtection [][]byte) (*ParsedInput, error) {

	utxo, err := p.inputUtxo(idx)
	if err != nil {
		return nil, err
	}

	input := &ParsedInput{
		Value:    btcutil.Amount(utxo.Value),
		PkScript: utxo.PkScript,
		Address:  p.scriptAddress(utxo.PkScript),
	}

	for _, allowed := range replayProtection {
		if bytes.Equal(utxo.PkScript, allowed) {
			input.ReplayProtection = true
			input.ScriptID = fn.None[ScriptID]()
			return input, nil
		}
	}

	chain, index, err := p.inputChainIndex(idx)
	if errors.Is(err, ErrNonWalletInput) &&
		inputFinalized(&p.inner.Inputs[idx]) {

		// Finalization cleared the derivation metadata; the spend is
		// proven by the final script itself, so the input counts
		// toward the totals without a wallet position.
		input.ScriptID = fn.None[ScriptID]()
		return input, nil
	}
	if err != nil {
		return nil, err
	}

	scripts, _, err := fixedscript.DeriveWalletScripts(
		keys, chain, index, p.policy,
	)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(scripts.PkScript, utxo.PkScript) {
		return nil, fmt.Errorf("%w: chain %v index %d",
			ErrInvalidOutputScript, chain, index)
	}

	input.ScriptID = fn.Some(ScriptID{Chain: chain, Index: index})
	return input, nil
}

// parseOutput classifies and verifies one output; the second return reports
// whether it belongs to the wallet.
func (p *Packet) parseOutput(idx int, keys *fixedscript.RootWalletKeys,
	paygoKeys []*btcec.PublicKey) (*ParsedOutput, bool, error) {

	txOut := p.inner.UnsignedTx.TxOut[idx]
	output := &ParsedOutput{
		Value:    btcutil.Amount(txOut.Value),
		PkScript: txOut.PkScript,
		Address:  p.scriptAddress(txOut.PkScript),
		ScriptID: fn.None[ScriptID](),
	}

	if err := p.verifyPayGoProofs(idx, txOut.PkScript, paygoKeys); err != nil {
		return nil, false, err
	}

	paths := outputPaths(&p.inner.Outputs[idx])
	if len(paths) == 0 {
		return output, false, nil
	}

	chain, index, err := chainIndexFromPaths(paths)
	if err != nil {
		return nil, false, err
	}

	scripts, _, err := fixedscript.DeriveWalletScripts(
		keys, chain, index, p.policy,
	)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(scripts.PkScript, txOut.PkScript) {
		return nil, false, fmt.Errorf("%w: chain %v index %d",
			ErrInvalidOutputScript, chain, index)
	}

	output.ScriptID = fn.Some(ScriptID{Chain: chain, Index: index})
	return output, true, nil
}

// verifyPayGoProofs checks every fee-rebate attestation proof attached to
// output idx: a DER signature by a configured attestation key over the
// double-SHA256 of the proof entropy and the output script.
func (p *Packet) verifyPayGoProofs(idx int, pkScript []byte,
	paygoKeys []*btcec.PublicKey) error {

	return forEachProprietary(
		p.inner.Unknowns, SubtypePayGoAttestationProof,
		func(keyData, value []byte) error {
			if len(keyData) < 4 {
				return fmt.Errorf("%w: short key data",
					ErrPayGoAttestation)
			}
			if binary.LittleEndian.Uint32(keyData) != uint32(idx) {
				return nil
			}
			entropy := keyData[4:]

			if len(paygoKeys) == 0 {
				return fmt.Errorf("%w: no attestation keys "+
					"configured", ErrPayGoAttestation)
			}

			sig, err := ecdsa.ParseDERSignature(value)
			if err != nil {
				return fmt.Errorf("%w: %v",
					ErrPayGoAttestation, err)
			}

			digest := chainhash.DoubleHashB(
				append(append([]byte{}, entropy...),
					pkScript...),
			)
			for _, key := range paygoKeys {
				if sig.Verify(digest, key) {
					return nil
				}
			}
			return fmt.Errorf("%w: signature does not verify",
				ErrPayGoAttestation)
		},
	)
}

// AddPayGoAttestationProof attaches a fee-rebate attestation proof for
// output idx, signed out of band by an attestation key.
func (p *Packet) AddPayGoAttestationProof(idx int, entropy,
	derSig []byte) error {

	if idx < 0 || idx >= len(p.inner.Outputs) {
		return fmt.Errorf("output index %d out of range", idx)
	}

	keyData := make([]byte, 4, 4+len(entropy))
	binary.LittleEndian.PutUint32(keyData, uint32(idx))
	keyData = append(keyData, entropy...)

	p.inner.Unknowns = setUnknown(
		p.inner.Unknowns,
		proprietaryKey(SubtypePayGoAttestationProof, keyData), derSig,
	)
	return nil
}
