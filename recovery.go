// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import "slices"

// Recovery32 enumerates every Crypto-1 internal state consistent with 32
// bits of filtered output ks observed after feeding in (for MIFARE
// authentication, in = nuid XOR nt). It is a pure function: no I/O,
// deterministic for fixed inputs, and an empty result simply means the
// capture was inconsistent.
//
// The solver works on the two half registers independently: keystream bits
// alternate between states reachable from the odd and even halves, so each
// half can be grown bit by bit against its own half of the keystream, with
// the linear feedback contributions of the candidates accumulated in the
// top byte and matched against the other half when the tables are merged.
func Recovery32(ks, in uint32) []Cipher {
	var oks, eks uint32
	for i := 31; i >= 0; i -= 2 {
		oks = oks<<1 | bebit(ks, i)
	}
	for i := 30; i >= 0; i -= 2 {
		eks = eks<<1 | bebit(ks, i)
	}

	odd := make([]uint32, 0, 1<<20)
	even := make([]uint32, 0, 1<<20)
	for i := int32(1 << 20); i >= 0; i-- {
		if filter(uint32(i)) == oks&1 {
			odd = append(odd, uint32(i))
		}
		if filter(uint32(i)) == eks&1 {
			even = append(even, uint32(i))
		}
	}

	for i := 0; i < 4; i++ {
		oks >>= 1
		eks >>= 1
		odd = extendTableSimple(odd, oks&1)
		even = extendTableSimple(even, eks&1)
	}

	// The tables now cover the first 10 keystream bits. Rearrange the input
	// into feedback order and let the recursion consume the remaining bits.
	in = (in>>16)&0xFF | in<<16 | in&0xFF00

	var states []Cipher
	recoverTables(odd, oks, even, eks, 11, in<<1, &states)
	return states
}

// extendTableSimple grows candidate half-register states by one keystream
// bit, before feedback contributions matter.
func extendTableSimple(tbl []uint32, bit uint32) []uint32 {
	next := make([]uint32, 0, len(tbl)+len(tbl)/2)
	for _, e := range tbl {
		e <<= 1
		f0, f1 := filter(e), filter(e|1)
		switch {
		case f0 != f1:
			next = append(next, e|(f0^bit))
		case f0 == bit:
			next = append(next, e, e|1)
		}
	}
	return next
}

// updateContribution shifts the candidate's two partial linear feedback
// parities into its top byte.
func updateContribution(item, m1, m2 uint32) uint32 {
	p := item >> 25
	p = p<<1 | evenParity32(item&m1)
	p = p<<1 | evenParity32(item&m2)
	return p<<24 | item&halfMask
}

// extendTable grows candidate states by one keystream bit while tracking
// the feedback each candidate would contribute to the opposite register.
func extendTable(tbl []uint32, bit, m1, m2, in uint32) []uint32 {
	in <<= 24
	next := make([]uint32, 0, len(tbl)+len(tbl)/2)
	for _, e := range tbl {
		e <<= 1
		f0, f1 := filter(e), filter(e|1)
		switch {
		case f0 != f1:
			next = append(next, updateContribution(e|(f0^bit), m1, m2)^in)
		case f0 == bit:
			next = append(next,
				updateContribution(e, m1, m2)^in,
				updateContribution(e|1, m1, m2)^in)
		}
	}
	return next
}

// recoverTables narrows the two candidate tables four keystream bits at a
// time, then partitions them on the accumulated contribution byte and
// recurses per matching partition. rem == -1 pairs the surviving halves
// into full states.
func recoverTables(odd []uint32, oks uint32, even []uint32, eks uint32, rem int, in uint32, out *[]Cipher) {
	if rem == -1 {
		for _, e := range even {
			e = e<<1 ^ evenParity32(e&lfPolyEven) ^ bit(in, 2)
			for _, o := range odd {
				*out = append(*out, Cipher{
					Odd:  (e ^ evenParity32(o&lfPolyOdd)) & halfMask,
					Even: o & halfMask,
				})
			}
		}
		return
	}

	for i := 0; i < 4; i++ {
		if rem == 0 {
			rem = -1
			break
		}
		rem--
		oks >>= 1
		eks >>= 1
		in >>= 2
		odd = extendTable(odd, oks&1, lfPolyEven<<1|1, lfPolyOdd<<1, 0)
		if len(odd) == 0 {
			return
		}
		even = extendTable(even, eks&1, lfPolyOdd, lfPolyEven<<1|1, in&3)
		if len(even) == 0 {
			return
		}
	}

	slices.Sort(odd)
	slices.Sort(even)

	oi, ei := len(odd), len(even)
	for oi > 0 && ei > 0 {
		oh, eh := odd[oi-1]>>24, even[ei-1]>>24
		switch {
		case oh == eh:
			os, es := oi, ei
			for os > 0 && odd[os-1]>>24 == oh {
				os--
			}
			for es > 0 && even[es-1]>>24 == eh {
				es--
			}
			recoverTables(
				slices.Clone(odd[os:oi]), oks,
				slices.Clone(even[es:ei]), eks,
				rem, in, out,
			)
			oi, ei = os, es
		case oh > eh:
			for oi > 0 && odd[oi-1]>>24 == oh {
				oi--
			}
		default:
			for ei > 0 && even[ei-1]>>24 == eh {
				ei--
			}
		}
	}
}
