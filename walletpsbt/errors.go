// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWalletKeys is returned when an operation needs the wallet's
	// root keys but the packet was built without them.
	ErrNoWalletKeys = errors.New("packet has no root wallet keys")

	// ErrNotZcashPacket is returned when a Zcash-only field is accessed
	// on a packet tagged with a different network.
	ErrNotZcashPacket = errors.New("not a zcash packet")

	// ErrNotDashPacket is returned when a Dash-only field is accessed on
	// a packet tagged with a different network.
	ErrNotDashPacket = errors.New("not a dash packet")

	// ErrUnsupportedTxVersion is returned when the requested transaction
	// version cannot be represented on the packet's network.
	ErrUnsupportedTxVersion = errors.New("unsupported transaction version")

	// ErrUnknownProprietaryKey is returned when a proprietary key in our
	// namespace carries an unknown subtype. Unknown subtypes are rejected
	// rather than ignored so a newer counterparty's fields are never
	// silently misinterpreted.
	ErrUnknownProprietaryKey = errors.New("unknown proprietary key subtype")

	// ErrNoConsensusBranchID is returned when a Zcash packet is asked to
	// sign without a consensus branch id present.
	ErrNoConsensusBranchID = errors.New("no consensus branch id set")

	// ErrSignPathRequired is returned when a taproot wallet input is
	// added without choosing the cosigning pair. The tap leaf and merkle
	// metadata depend on the pair, so it cannot be deferred.
	ErrSignPathRequired = errors.New("taproot input requires a sign path")

	// ErrPrevTxRequired is returned when an input needs the full previous
	// transaction and none was supplied.
	ErrPrevTxRequired = errors.New("previous transaction required")

	// ErrPrevTxMismatch is returned when a supplied previous transaction
	// does not match the outpoint being spent.
	ErrPrevTxMismatch = errors.New("previous transaction does not match " +
		"outpoint")

	// ErrInputUtxoMissing is returned when an input carries neither a
	// witness utxo nor a non-witness utxo.
	ErrInputUtxoMissing = errors.New("input has no utxo information")

	// ErrInputUtxoConflict is returned when an input carries both utxo
	// forms; exactly one must be present.
	ErrInputUtxoConflict = errors.New("input has both witness and " +
		"non-witness utxo")

	// ErrNonWalletInput is returned when an input claims no wallet
	// derivation and does not match the replay protection allow-list.
	ErrNonWalletInput = errors.New("input does not belong to the wallet")

	// ErrInvalidOutputScript is returned when re-deriving the claimed
	// chain and index does not reproduce the observed script.
	ErrInvalidOutputScript = errors.New("derivation does not reproduce " +
		"output script")

	// ErrInconsistentDerivation is returned when an input's derivation
	// entries disagree about the chain or index.
	ErrInconsistentDerivation = errors.New("inconsistent derivation entries")

	// ErrValueOverflow is returned when summing input or output values
	// overflows. Money arithmetic is always checked.
	ErrValueOverflow = errors.New("value sum overflow")

	// ErrFeeCalculation is returned when outputs exceed inputs. The fee
	// is never allowed to wrap to a huge unsigned value.
	ErrFeeCalculation = errors.New("outputs exceed inputs")

	// ErrNotSignable is returned when a key cannot sign the given input,
	// either because the input type does not match the signing method or
	// the key is not part of the spending script.
	ErrNotSignable = errors.New("key cannot sign this input")

	// ErrNotMuSig2Input is returned when a MuSig2 operation targets an
	// input that does not spend through an aggregated key path.
	ErrNotMuSig2Input = errors.New("not a musig2 key path input")

	// ErrNoNonceState is returned when signing an aggregated input
	// without a stored secret nonce. The store removes nonces on use, so
	// this also fires on a second signing attempt.
	ErrNoNonceState = errors.New("no nonce state for input")

	// ErrSessionIDForbidden is returned when a caller supplies a MuSig2
	// session id on a production network. Session id reuse with the same
	// key leaks the private key, so the unsafe option only exists on test
	// networks.
	ErrSessionIDForbidden = errors.New("caller-supplied session id " +
		"forbidden on mainnet")

	// ErrMissingNonce is returned when a participant's public nonce has
	// not been exchanged yet.
	ErrMissingNonce = errors.New("missing participant public nonce")

	// ErrMissingPartialSig is returned at finalization when a
	// participant's partial signature is absent.
	ErrMissingPartialSig = errors.New("missing partial signature")

	// ErrMissingSignature is returned at finalization when a script path
	// does not have enough signatures.
	ErrMissingSignature = errors.New("not enough signatures to finalize")

	// ErrNotFinalizable is returned when an input's metadata does not
	// describe any spendable script form.
	ErrNotFinalizable = errors.New("input cannot be finalized")

	// ErrInvalidAggregateSignature is returned when the combined MuSig2
	// signature fails verification against the taproot output key.
	ErrInvalidAggregateSignature = errors.New("combined signature does " +
		"not verify")

	// ErrTxIDMismatch is returned when merging state between packets
	// built over different unsigned transactions.
	ErrTxIDMismatch = errors.New("packets have different unsigned txids")

	// ErrPayGoAttestation is returned when a fee-rebate attestation proof
	// fails verification or no attestation keys were configured.
	ErrPayGoAttestation = errors.New("paygo attestation verification " +
		"failed")

	// ErrMessageSigningRequest is returned when a packet carrying the
	// message-signing marker is used for transaction parsing.
	ErrMessageSigningRequest = errors.New("packet is a message signing " +
		"request")
)

// InputError wraps an error with the index of the input it concerns. Batch
// operations report one InputError per failing input.
type InputError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("input %d: %v", e.Index, e.Err)
}

// Unwrap returns the wrapped error.
func (e *InputError) Unwrap() error {
	return e.Err
}

// OutputError wraps an error with the index of the output it concerns.
type OutputError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	return fmt.Sprintf("output %d: %v", e.Index, e.Err)
}

// Unwrap returns the wrapped error.
func (e *OutputError) Unwrap() error {
	return e.Err
}
