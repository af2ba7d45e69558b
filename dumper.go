// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import "fmt"

// AccessBits decodes the three condition bytes at trailer offsets 6..8.
// Each of the four groups (data blocks plus trailer; five data blocks per
// group on large sectors) carries a 3-bit mode.
type AccessBits struct {
	c1, c2, c3 uint8
	valid      bool
}

// ParseAccessBits decodes bits and validates the complement checksum.
func ParseAccessBits(bits [3]byte) AccessBits {
	a := AccessBits{
		c1: bits[1] >> 4 & 0xF,
		c2: bits[2] & 0xF,
		c3: bits[2] >> 4 & 0xF,
	}
	notC1 := bits[0] & 0xF
	notC2 := bits[0] >> 4 & 0xF
	notC3 := bits[1] & 0xF
	a.valid = a.c1 == ^notC1&0xF && a.c2 == ^notC2&0xF && a.c3 == ^notC3&0xF
	return a
}

// Valid reports whether the complement checksum held.
func (a AccessBits) Valid() bool {
	return a.valid
}

// Mode returns the 3-bit code (C1<<2 | C2<<1 | C3) of a group.
func (a AccessBits) Mode(group uint8) int {
	bc1 := a.c1 >> group & 1
	bc2 := a.c2 >> group & 1
	bc3 := a.c3 >> group & 1
	return int(bc1)<<2 | int(bc2)<<1 | int(bc3)
}

// ReadKey returns the key type able to read a data-block group, or false
// when the mode denies reading entirely.
func (a AccessBits) ReadKey(group uint8) (KeyType, bool) {
	switch a.Mode(group) {
	case 0b000, 0b010, 0b100, 0b110, 0b001:
		// Key B works too where defined, but Key A always suffices here.
		return KeyA, true
	case 0b011, 0b101:
		return KeyB, true
	default: // 0b111
		return 0, false
	}
}

// KeyBReadable reports whether the trailer mode lets Key A read the Key B
// bytes.
func (a AccessBits) KeyBReadable() bool {
	switch a.Mode(3) {
	case 0b000, 0b010, 0b001:
		return true
	default:
		return false
	}
}

// Dumper reads the full card using the recovered key chain and rebuilds
// canonical sector trailers.
type Dumper struct {
	in   *Initiator
	card *Card
	keys []uint64
	typ  CardType
}

// NewDumper creates a dumper over an initiator holding the key chain.
func NewDumper(in *Initiator, card *Card, typ CardType, keys []uint64) *Dumper {
	return &Dumper{in: in, card: card, typ: typ, keys: keys}
}

// Dump reads every sector in order and returns the contiguous card image.
func (d *Dumper) Dump() ([]byte, error) {
	var out []byte
	for _, start := range StartBlockSequence(d.typ) {
		sector, err := d.dumpSector(start)
		if err != nil {
			return nil, err
		}
		out = append(out, sector...)
	}
	return out, nil
}

// testKeyForBlock finds the first chain key that authenticates block with
// keyType.
func (d *Dumper) testKeyForBlock(cipher *Cipher, keyType KeyType, block uint8) (uint64, error) {
	for _, key := range d.keys {
		ok, err := d.in.TestKey(cipher, keyType, d.card, block, key)
		if err != nil {
			return 0, err
		}
		if ok {
			return key, nil
		}
	}
	return 0, fmt.Errorf("can't authenticate block %d with key %s: %w", block, keyType, ErrAccessDenied)
}

func (d *Dumper) dumpSector(startBlock uint8) ([]byte, error) {
	dataBlocks := uint8(3)
	if startBlock >= 128 {
		dataBlocks = 15
	}
	trailerBlock := startBlock + dataBlocks
	sectorSize := int(dataBlocks+1) * 16

	out := make([]byte, sectorSize)

	var cipher Cipher
	keyA, err := d.testKeyForBlock(&cipher, KeyA, trailerBlock)
	if err != nil {
		return nil, err
	}
	trailer, err := d.in.Read(&cipher, trailerBlock)
	if err != nil {
		return nil, err
	}

	perm := ParseAccessBits([3]byte{trailer[6], trailer[7], trailer[8]})
	if !perm.Valid() {
		fmt.Printf("!!! warning: sector %d has invalid access bits.\n", BlockToSector(startBlock))
		return out, nil
	}

	// The Key B bytes of the trailer usually only read under Key B itself,
	// so it always comes from an authentication rather than the image.
	keyB, err := d.testKeyForBlock(&cipher, KeyB, trailerBlock)
	if err != nil {
		return nil, err
	}

	for index := uint8(0); index < dataBlocks; index++ {
		group := index
		if dataBlocks == 15 {
			group = index / 5
		}
		block := startBlock + index

		keyType, ok := perm.ReadKey(group)
		if !ok {
			fmt.Printf("!!! warning: unable to read block %d. (permission denied)\n", block)
			continue
		}
		key := keyA
		if keyType == KeyB {
			key = keyB
		}
		if _, err := d.authWithChainKey(&cipher, keyType, block, key); err != nil {
			return nil, err
		}
		data, err := d.in.Read(&cipher, block)
		if err != nil {
			return nil, err
		}
		copy(out[int(index)*16:], data)
		fmt.Printf("read block %02d - %X\n", block, data)
	}

	copy(out[int(dataBlocks)*16:], buildTrailer(keyA, trailer, keyB))
	fmt.Printf("read block %02d - %X\n", trailerBlock, out[int(dataBlocks)*16:])

	return out, nil
}

// authWithChainKey authenticates block with one specific key, falling back
// to the rest of the chain if the sector uses different keys per block
// group.
func (d *Dumper) authWithChainKey(cipher *Cipher, keyType KeyType, block uint8, key uint64) (uint64, error) {
	ok, err := d.in.TestKey(cipher, keyType, d.card, block, key)
	if err != nil {
		return 0, err
	}
	if ok {
		return key, nil
	}
	return d.testKeyForBlock(cipher, keyType, block)
}

// buildTrailer reconstructs the canonical trailer image: Key A, the four
// access/user bytes as read, Key B. Keys are emitted in on-card byte order
// (most significant byte first).
func buildTrailer(keyA uint64, trailer []byte, keyB uint64) []byte {
	out := make([]byte, 0, 16)
	out = append(out, keyBytes(keyA)...)
	out = append(out, trailer[6:10]...)
	out = append(out, keyBytes(keyB)...)
	return out
}

// keyBytes lays a 48-bit key out in on-card order.
func keyBytes(key uint64) []byte {
	out := make([]byte, 6)
	for i := range out {
		out[i] = byte(key >> uint(8*(5-i)))
	}
	return out
}
