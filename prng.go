// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"fmt"
	"math/bits"
)

// The tag's nonce generator is a 16-bit LFSR (x^16 + x^14 + x^13 + x^11 + 1)
// clocked into a 32-bit window. On the tags this attack targets it is
// deterministic across authentications, which is the whole exploit.

// PrngSuccessor advances state by n clockings of the tag PRNG.
func PrngSuccessor(state uint32, n uint32) uint32 {
	x := bits.ReverseBytes32(state)
	for ; n > 0; n-- {
		x = x>>1 | (x>>16^x>>18^x>>19^x>>21)<<31
	}
	return bits.ReverseBytes32(x)
}

// NonceDistance returns the smallest n >= 0 with PrngSuccessor(from, n) ==
// to. The PRNG has period 2^16; two nonces further apart than that did not
// come from the same stream and yield ErrInvalidNonce.
func NonceDistance(from, to uint32) (uint32, error) {
	x := from
	for n := uint32(0); n < 1<<16; n++ {
		if x == to {
			return n, nil
		}
		x = PrngSuccessor(x, 1)
	}
	return 0, fmt.Errorf("nonce %08X is not reachable from %08X: %w", to, from, ErrInvalidNonce)
}
