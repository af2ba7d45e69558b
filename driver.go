// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"errors"
	"fmt"
	"sort"
)

// Options configures a Host run.
type Options struct {
	UserKeys            []uint64
	TargetSector        *uint8
	TargetKeyType       *KeyType
	Type                CardType
	ForceDetectDistance bool
	SkipDefaultKeys     bool
}

// Host drives the whole key-recovery session: default-key probing, the
// worklists of sectors with unknown keys, the per-sector static-nested
// attacks, and propagation of every newly recovered key.
type Host struct {
	in       *Initiator
	card     *Card
	keychain map[uint64]struct{}
	unknownA sectorSet
	unknownB sectorSet
	validKey SectorKey
	opts     Options
}

// NewHost creates a driver over an initiator in raw mode.
func NewHost(in *Initiator, opts Options) *Host {
	return &Host{
		in:       in,
		opts:     opts,
		keychain: make(map[uint64]struct{}),
		unknownA: make(sectorSet),
		unknownB: make(sectorSet),
	}
}

// Card returns the selected card after Run has discovered it.
func (h *Host) Card() *Card {
	return h.card
}

// Keys returns the discovered keys in ascending order.
func (h *Host) Keys() []uint64 {
	keys := make([]uint64, 0, len(h.keychain))
	for k := range h.keychain {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Run discovers the tag, probes default keys, and attacks every sector
// with an unknown key until both worklists drain. A sector whose attack
// yields no verified candidate is fatal.
func (h *Host) Run() ([]uint64, error) {
	if err := h.discoverTag(); err != nil {
		return nil, err
	}
	if err := h.prepare(); err != nil {
		return nil, err
	}
	for !h.unknownA.empty() {
		if err := h.perform(h.unknownA.min(), KeyA); err != nil {
			return nil, err
		}
	}
	for !h.unknownB.empty() {
		if err := h.perform(h.unknownB.min(), KeyB); err != nil {
			return nil, err
		}
	}
	return h.Keys(), nil
}

func (h *Host) discoverTag() error {
	card, err := h.in.SelectCard(nil)
	if err != nil {
		return err
	}
	if card == nil {
		return fmt.Errorf("no tag found: %w", ErrTransportAbsent)
	}

	fmt.Println("ISO14443A-compatible tag selected:")
	fmt.Printf("    ATQA : %02X%02X\n", card.ATQA[0], card.ATQA[1])
	fmt.Printf("    UID  : %X\n", card.UID)
	fmt.Printf("    SAK  : %02X\n", card.SAK)

	h.card = card
	return nil
}

func (h *Host) prepare() error {
	probed, err := h.in.TestDefaultKeys(h.card, h.opts.Type, h.opts.UserKeys, h.opts.SkipDefaultKeys)
	if err != nil {
		return err
	}

	valid := -1
	for i, skey := range probed {
		if skey.KeyA != nil || skey.KeyB != nil {
			valid = i
			break
		}
	}
	if valid < 0 {
		return fmt.Errorf("at least 1 valid key is required to perform a staticnested attack: %w", ErrPrecondition)
	}
	h.validKey = probed[valid]

	if h.opts.TargetSector == nil || h.opts.TargetKeyType == nil {
		for _, skey := range probed {
			if skey.KeyA == nil {
				h.unknownA.add(skey.Sector)
			}
			if skey.KeyB == nil {
				h.unknownB.add(skey.Sector)
			}
		}
		if h.unknownA.empty() && h.unknownB.empty() {
			return fmt.Errorf("it appears there are no sectors with unknown keys: %w", ErrPrecondition)
		}
	} else if *h.opts.TargetKeyType == KeyA {
		h.unknownA.add(*h.opts.TargetSector)
	} else {
		h.unknownB.add(*h.opts.TargetSector)
	}

	for _, skey := range probed {
		if skey.KeyA != nil {
			h.keychain[*skey.KeyA] = struct{}{}
		}
		if skey.KeyB != nil {
			h.keychain[*skey.KeyB] = struct{}{}
		}
	}

	keyName := KeyA
	if h.validKey.KeyA == nil {
		keyName = KeyB
	}
	fmt.Printf("Using key %s from sector %d to exploit...\n", keyName, h.validKey.Sector)

	// Sectors whose trailer allows Key A to read Key B save a whole nested
	// attack each; harvest those up front.
	for _, skey := range probed {
		if skey.KeyA == nil || !h.unknownB.contains(skey.Sector) {
			continue
		}
		keyB, err := h.tryReadKeyB(*skey.KeyA, skey.Sector)
		if err != nil {
			if errors.Is(err, ErrTagMovedOut) {
				return err
			}
			continue
		}
		if keyB == 0 {
			continue
		}
		fmt.Printf("KeyB of sector %d read directly, is %012X. (using KeyA)\n", skey.Sector, keyB)
		if err := h.propagateKey(keyB); err != nil {
			return err
		}
		h.keychain[keyB] = struct{}{}
	}

	return nil
}

func (h *Host) knownKey() (uint64, KeyType) {
	if h.validKey.KeyA != nil {
		return *h.validKey.KeyA, KeyA
	}
	return *h.validKey.KeyB, KeyB
}

func (h *Host) perform(targetSector uint8, targetKeyType KeyType) error {
	fmt.Printf("Attacking sector %d...\n", targetSector)

	key, keyType := h.knownKey()
	result, err := Execute(
		h.in, h.card,
		SectorToBlock(h.validKey.Sector), keyType, key,
		SectorToBlock(targetSector), targetKeyType,
		h.opts.ForceDetectDistance,
	)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("\r\033[2Ksector %d key %s: %w", targetSector, targetKeyType, ErrAttackFailed)
	}
	fmt.Printf("\r\033[2KKey%s found, is %012X. (%d keys tested)\n", targetKeyType, result.Key, result.Tested)

	if targetKeyType == KeyA {
		h.unknownA.remove(targetSector)
	} else {
		h.unknownB.remove(targetSector)
	}

	if err := h.propagateKey(result.Key); err != nil {
		return err
	}

	if targetKeyType == KeyA && h.unknownB.contains(targetSector) {
		keyB, err := h.tryReadKeyB(result.Key, targetSector)
		if err != nil {
			return err
		}
		if keyB != 0 {
			fmt.Printf("KeyB read successfully, is %012X. (using KeyA)\n", keyB)
			if err := h.propagateKey(keyB); err != nil {
				return err
			}
			h.keychain[keyB] = struct{}{}
		}
	}

	h.keychain[result.Key] = struct{}{}
	return nil
}

// propagateKey cross-tests a newly discovered key against every sector
// still missing a key and removes the matches from the worklists.
func (h *Host) propagateKey(key uint64) error {
	var cipher Cipher
	test := func(set sectorSet, keyType KeyType) error {
		for _, sector := range set.sorted() {
			ok, err := h.in.TestKey(&cipher, keyType, h.card, SectorToBlock(sector), key)
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("This key is also Key%s of sector %d.\n", keyType, sector)
				set.remove(sector)
			}
		}
		return nil
	}
	if err := test(h.unknownA, KeyA); err != nil {
		return err
	}
	return test(h.unknownB, KeyB)
}

// tryReadKeyB re-selects the tag, authenticates the sector with Key A,
// reads Key B out of the trailer and verifies it by authenticating the
// sector with it. Zero means Key B could not be read or did not
// authenticate.
func (h *Host) tryReadKeyB(keyA uint64, sector uint8) (uint64, error) {
	selected, err := h.in.SelectCard(h.card.UID)
	if err != nil {
		return 0, err
	}
	if selected == nil {
		return 0, ErrTagMovedOut
	}
	var cipher Cipher
	ok, err := h.in.Auth(&cipher, KeyA, h.card, SectorToBlock(sector), keyA, false)
	if err != nil {
		return 0, fatalTagMoved(err)
	}
	if !ok {
		return 0, nil
	}
	keyB, err := h.in.TryGetKeyB(&cipher, sector)
	if err != nil || keyB == 0 {
		return 0, err
	}
	ok, err = h.in.TestKey(&cipher, KeyB, h.card, SectorToBlock(sector), keyB)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return keyB, nil
}

// sectorSet is the ordered worklist of sectors with an unknown key.
type sectorSet map[uint8]struct{}

func (s sectorSet) add(sector uint8)           { s[sector] = struct{}{} }
func (s sectorSet) remove(sector uint8)        { delete(s, sector) }
func (s sectorSet) contains(sector uint8) bool { _, ok := s[sector]; return ok }
func (s sectorSet) empty() bool                { return len(s) == 0 }

func (s sectorSet) sorted() []uint8 {
	out := make([]uint8, 0, len(s))
	for sector := range s {
		out = append(out, sector)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s sectorSet) min() uint8 {
	return s.sorted()[0]
}
