// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixedscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestChainCodeBijection checks that code->Chain and Chain->code are mutual
// inverses over the full chain set.
func TestChainCodeBijection(t *testing.T) {
	t.Parallel()

	expectedCodes := []uint32{0, 1, 10, 11, 20, 21, 30, 31, 40, 41}
	require.Len(t, AllChains, len(expectedCodes))

	for i, chain := range AllChains {
		require.Equal(t, expectedCodes[i], chain.Code(), chain.String())

		roundTrip, err := ChainFromCode(chain.Code())
		require.NoError(t, err)
		require.Equal(t, chain, roundTrip)
	}
}

// TestChainFromCodeUnknown checks that unknown codes are hard errors, never
// silently defaulted.
func TestChainFromCodeUnknown(t *testing.T) {
	t.Parallel()

	for _, code := range []uint32{2, 9, 12, 25, 39, 42, 50, 100, 0xffffffff} {
		_, err := ChainFromCode(code)
		require.ErrorIs(t, err, ErrUnknownChainCode, "code %d", code)
	}
}

// TestChainProperties checks the segwit/taproot classification helpers.
func TestChainProperties(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		chain   Chain
		segwit  bool
		taproot bool
	}{
		{Chain{ScriptTypeP2SH, ScopeExternal}, false, false},
		{Chain{ScriptTypeP2SHP2WSH, ScopeInternal}, true, false},
		{Chain{ScriptTypeP2WSH, ScopeExternal}, true, false},
		{Chain{ScriptTypeP2TR, ScopeInternal}, true, true},
		{Chain{ScriptTypeP2TRMuSig2, ScopeExternal}, true, true},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.segwit, tc.chain.IsSegwit(), tc.chain.String())
		require.Equal(t, tc.taproot, tc.chain.IsTaproot(), tc.chain.String())
	}
}
