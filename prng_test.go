// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrngSuccessorKnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state uint32
		n     uint32
		want  uint32
	}{
		{state: 0x01200145, n: 0, want: 0x01200145},
		{state: 0x01200145, n: 32, want: 0xC9761446},
		{state: 0x01200145, n: 64, want: 0x63E5BCA7},
		{state: 0x01200145, n: 96, want: 0x993730BD},
		{state: 0x01020304, n: 32, want: 0xA3BD92D0},
		{state: 0x009080A2, n: 161, want: 0xDF7B8DE1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PrngSuccessor(tt.state, tt.n))
	}
}

func TestPrngSuccessorComposes(t *testing.T) {
	t.Parallel()
	nt := uint32(0x82A4166C)
	assert.Equal(t, PrngSuccessor(nt, 96), PrngSuccessor(PrngSuccessor(nt, 64), 32))
}

func TestNonceDistanceInvertsSuccessor(t *testing.T) {
	t.Parallel()
	nt := uint32(0x01020304)
	for _, n := range []uint32{0, 1, 8, 32, 160, 321, 65534} {
		got, err := NonceDistance(nt, PrngSuccessor(nt, n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestNonceDistanceUnreachable(t *testing.T) {
	t.Parallel()
	// The tag LFSR never reaches the all-zero state from a nonzero seed.
	_, err := NonceDistance(0x01020304, 0x00000000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidNonce)
}
