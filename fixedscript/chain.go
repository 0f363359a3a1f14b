// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fixedscript implements the deterministic 2-of-3 wallet script
// system: the chain-code address space, derivation of per-index key triples
// from the three root extended keys, and construction of the spending
// scripts for each supported script type, including the two taproot
// variants with their aggregated internal keys.
package fixedscript

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChainCode is returned when a numeric chain code does not
	// correspond to any (script type, scope) pair.
	ErrUnknownChainCode = errors.New("unknown chain code")

	// ErrUnsupportedScriptType is returned when a chain's script type is
	// not usable on the target network, e.g. a p2wsh chain on a network
	// without segwit.
	ErrUnsupportedScriptType = errors.New("unsupported script type")
)

// ScriptType enumerates the five supported wallet script constructions.
type ScriptType int

const (
	// ScriptTypeP2SH is a pay-to-script-hash 2-of-3 multisig output.
	ScriptTypeP2SH ScriptType = iota

	// ScriptTypeP2SHP2WSH is a p2wsh 2-of-3 multisig nested in p2sh.
	ScriptTypeP2SHP2WSH

	// ScriptTypeP2WSH is a native segwit v0 2-of-3 multisig output.
	ScriptTypeP2WSH

	// ScriptTypeP2TR is the legacy taproot construction: three 2-of-2
	// script-path leaves and an internal key aggregated so that key-path
	// spending is infeasible.
	ScriptTypeP2TR

	// ScriptTypeP2TRMuSig2 is the MuSig2 taproot construction: a MuSig2
	// aggregated key path for the user/bitgo cosigning pair and two
	// recovery script-path leaves.
	ScriptTypeP2TRMuSig2
)

// scriptTypeNames is keyed by ScriptType and doubles as the validity check.
var scriptTypeNames = map[ScriptType]string{
	ScriptTypeP2SH:       "p2sh",
	ScriptTypeP2SHP2WSH:  "p2shP2wsh",
	ScriptTypeP2WSH:      "p2wsh",
	ScriptTypeP2TR:       "p2tr",
	ScriptTypeP2TRMuSig2: "p2trMusig2",
}

// String returns the conventional name of the script type.
func (s ScriptType) String() string {
	name, ok := scriptTypeNames[s]
	if !ok {
		return fmt.Sprintf("unknownScriptType(%d)", int(s))
	}
	return name
}

// chainCodeBase returns the base chain code of the script type; the scope
// bit is added on top.
func (s ScriptType) chainCodeBase() uint32 {
	switch s {
	case ScriptTypeP2SH:
		return 0
	case ScriptTypeP2SHP2WSH:
		return 10
	case ScriptTypeP2WSH:
		return 20
	case ScriptTypeP2TR:
		return 30
	case ScriptTypeP2TRMuSig2:
		return 40
	default:
		panic(fmt.Sprintf("invalid script type %d", int(s)))
	}
}

// Scope distinguishes receiving addresses from change addresses in the
// derivation tree.
type Scope int

const (
	// ScopeExternal marks receiving addresses.
	ScopeExternal Scope = 0

	// ScopeInternal marks change addresses.
	ScopeInternal Scope = 1
)

// String returns "external" or "internal".
func (s Scope) String() string {
	if s == ScopeInternal {
		return "internal"
	}
	return "external"
}

// Chain identifies one branch of the wallet's derivation tree: a script
// type plus a direction. It is bijective with a numeric code used in
// derivation paths and on the wire.
type Chain struct {
	ScriptType ScriptType
	Scope      Scope
}

// Code returns the numeric chain code: the script type's base value plus
// one for internal scope.
func (c Chain) Code() uint32 {
	return c.ScriptType.chainCodeBase() + uint32(c.Scope)
}

// String renders the chain as "p2wsh/internal" style.
func (c Chain) String() string {
	return fmt.Sprintf("%v/%v", c.ScriptType, c.Scope)
}

// IsTaproot reports whether the chain's script type is one of the two
// taproot variants.
func (c Chain) IsTaproot() bool {
	return c.ScriptType == ScriptTypeP2TR ||
		c.ScriptType == ScriptTypeP2TRMuSig2
}

// IsSegwit reports whether the chain's output places spending conditions in
// the witness.
func (c Chain) IsSegwit() bool {
	return c.ScriptType != ScriptTypeP2SH
}

// ChainFromCode maps a numeric chain code back to its Chain. Unknown codes
// are a hard error, never defaulted: a mistyped code changes which scripts
// the wallet derives, so this must fail loudly.
func ChainFromCode(code uint32) (Chain, error) {
	scope := Scope(code % 10)
	if scope != ScopeExternal && scope != ScopeInternal {
		return Chain{}, fmt.Errorf("%w: %d", ErrUnknownChainCode, code)
	}

	var scriptType ScriptType
	switch code - uint32(scope) {
	case 0:
		scriptType = ScriptTypeP2SH
	case 10:
		scriptType = ScriptTypeP2SHP2WSH
	case 20:
		scriptType = ScriptTypeP2WSH
	case 30:
		scriptType = ScriptTypeP2TR
	case 40:
		scriptType = ScriptTypeP2TRMuSig2
	default:
		return Chain{}, fmt.Errorf("%w: %d", ErrUnknownChainCode, code)
	}

	return Chain{ScriptType: scriptType, Scope: scope}, nil
}

// AllChains lists every valid chain, externals first within each script
// type, in ascending code order.
var AllChains = []Chain{
	{ScriptTypeP2SH, ScopeExternal},
	{ScriptTypeP2SH, ScopeInternal},
	{ScriptTypeP2SHP2WSH, ScopeExternal},
	{ScriptTypeP2SHP2WSH, ScopeInternal},
	{ScriptTypeP2WSH, ScopeExternal},
	{ScriptTypeP2WSH, ScopeInternal},
	{ScriptTypeP2TR, ScopeExternal},
	{ScriptTypeP2TR, ScopeInternal},
	{ScriptTypeP2TRMuSig2, ScopeExternal},
	{ScriptTypeP2TRMuSig2, ScopeInternal},
}
