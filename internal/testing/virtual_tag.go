// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package testing provides a virtual MIFARE Classic tag with a
// deterministic ("static") nonce generator and an in-memory transceiver,
// so the whole protocol stack and the attack itself can run without
// hardware.
package testing

import (
	"encoding/binary"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/frame"
)

// Default test identities.
var (
	TestUID  = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	TestATQA = [2]byte{0x00, 0x04}
)

const (
	testSAK = 0x08

	cmdAuthA = 0x60
	cmdAuthB = 0x61
	cmdRead  = 0x30
	cmdHalt  = 0x50
)

// DefaultNonceStep is the PRNG distance between consecutive
// authentications on the simulated tag.
const DefaultNonceStep = 160

// pendingAuth is a half-finished authentication: the nonce went out, the
// reader response has not come back yet.
type pendingAuth struct {
	cipher  staticnested.Cipher
	nt      uint32
	block   uint8
	keyType staticnested.KeyType
}

// VirtualTag simulates a MIFARE Classic tag whose PRNG restarts from a
// fixed seed on every select, which is exactly the tag class the
// static-nested attack exploits.
type VirtualTag struct {
	KeysA  map[uint8]uint64
	KeysB  map[uint8]uint64
	Blocks [][]byte

	pending *pendingAuth

	// NonceSeed is the nonce of the first authentication after a select;
	// each further authentication advances the PRNG by NonceStep.
	NonceSeed uint32
	NonceStep uint32

	nuid uint32

	cipher       staticnested.Cipher
	authedSector uint8
	authedKey    staticnested.KeyType

	UID  [4]byte
	ATQA [2]byte
	SAK  byte

	Type staticnested.CardType

	Present bool

	awake         bool
	mute          bool
	authenticated bool
	authCount     uint32
}

// NewVirtual1K builds a Classic 1K tag with every sector keyed
// 0xFFFFFFFFFFFF and factory-default access bits.
func NewVirtual1K(uid *[4]byte) *VirtualTag {
	if uid == nil {
		uid = &TestUID
	}
	tag := &VirtualTag{
		UID:       *uid,
		ATQA:      TestATQA,
		SAK:       testSAK,
		Type:      staticnested.Classic1K,
		KeysA:     make(map[uint8]uint64),
		KeysB:     make(map[uint8]uint64),
		Blocks:    make([][]byte, 64),
		NonceSeed: 0x01200145,
		NonceStep: DefaultNonceStep,
		Present:   true,
	}
	tag.nuid = binary.BigEndian.Uint32(tag.UID[:])
	for sector := uint8(0); sector < 16; sector++ {
		tag.KeysA[sector] = 0xFFFFFFFFFFFF
		tag.KeysB[sector] = 0xFFFFFFFFFFFF
	}
	for i := range tag.Blocks {
		tag.Blocks[i] = make([]byte, 16)
	}
	for sector := uint8(0); sector < 16; sector++ {
		trailer := tag.Blocks[staticnested.TrailerBlock(staticnested.SectorToBlock(sector))]
		trailer[6], trailer[7], trailer[8], trailer[9] = 0xFF, 0x07, 0x80, 0x69
	}
	copy(tag.Blocks[0], tag.UID[:])
	tag.Blocks[0][4] = frame.Bcc(tag.UID[:])
	return tag
}

// SetSectorKeys overrides both keys of one sector.
func (t *VirtualTag) SetSectorKeys(sector uint8, keyA, keyB uint64) {
	t.KeysA[sector] = keyA
	t.KeysB[sector] = keyB
}

// SetAccessBits rewrites the three condition bytes of a sector trailer.
func (t *VirtualTag) SetAccessBits(sector uint8, bits [3]byte) {
	trailer := t.Blocks[staticnested.TrailerBlock(staticnested.SectorToBlock(sector))]
	copy(trailer[6:9], bits[:])
}

// Transceive handles one raw bit exchange. present == false models a tag
// that stays silent (absent, halted or refusing).
func (t *VirtualTag) Transceive(tx []byte, nbits int) (rx []byte, rxBits int, present bool) {
	if !t.Present {
		return nil, 0, false
	}

	if nbits == 7 {
		return t.handleWake(tx[0] & 0x7F)
	}
	if t.mute || !t.awake {
		return nil, 0, false
	}

	data := frame.SplitParity(tx, nbits)
	if len(data) == 0 {
		return nil, 0, false
	}

	if t.pending != nil {
		pending := t.pending
		t.pending = nil
		if len(data) == 8 {
			return t.handleAuthResponse(pending, data)
		}
		// A new frame instead of the reader response aborts the handshake.
	}

	if t.authenticated {
		plain := make([]byte, len(data))
		for i, b := range data {
			plain[i] = t.cipher.DecryptByte(b)
		}
		if !frame.CheckCrcA(plain) {
			t.mute = true
			return nil, 0, false
		}
		return t.handleCommand(plain[:len(plain)-2])
	}

	if frame.CheckCrcA(data) {
		data = data[:len(data)-2]
	}
	return t.handleCommand(data)
}

func (t *VirtualTag) handleWake(cmd byte) ([]byte, int, bool) {
	// A real tag only leaves HALT on WUPA; the cheap clones this attack
	// targets answer REQA from HALT as well, and the initiator depends on
	// re-selecting by UID after a halt.
	if cmd != 0x52 && cmd != 0x26 {
		return nil, 0, false
	}
	t.awake = true
	t.mute = false
	t.authenticated = false
	t.pending = nil
	t.authCount = 0
	rx, n := frame.PackParity(t.ATQA[:])
	return rx, n, true
}

func (t *VirtualTag) handleCommand(data []byte) ([]byte, int, bool) {
	switch {
	case len(data) >= 2 && data[0] == 0x93 && data[1] == 0x20:
		reply := append([]byte{}, t.UID[:]...)
		reply = append(reply, frame.Bcc(t.UID[:]))
		rx, n := frame.PackParity(reply)
		return rx, n, true

	case len(data) >= 7 && data[0] == 0x93 && data[1] == 0x70:
		for i := 0; i < 4; i++ {
			if data[2+i] != t.UID[i] {
				return nil, 0, false
			}
		}
		return t.replyWithCRC([]byte{t.SAK})

	case len(data) >= 2 && data[0] == cmdHalt && data[1] == 0x00:
		t.awake = false
		t.authenticated = false
		return nil, 0, false

	case len(data) >= 2 && (data[0] == cmdAuthA || data[0] == cmdAuthB):
		return t.handleAuthStart(data[0], data[1])

	case len(data) >= 2 && data[0] == cmdRead:
		return t.handleRead(data[1])
	}
	return nil, 0, false
}

func (t *VirtualTag) handleAuthStart(cmd, block byte) ([]byte, int, bool) {
	keyType := staticnested.KeyA
	keys := t.KeysA
	if cmd == cmdAuthB {
		keyType = staticnested.KeyB
		keys = t.KeysB
	}
	sector := staticnested.BlockToSector(block)
	key, ok := keys[sector]
	if !ok {
		return nil, 0, false
	}

	nt := staticnested.PrngSuccessor(t.NonceSeed, t.NonceStep*t.authCount)
	t.authCount++

	nested := t.authenticated
	t.authenticated = false

	var cipher staticnested.Cipher
	cipher.Init(key)
	ks := cipher.Word(t.nuid^nt, false)

	t.pending = &pendingAuth{
		nt:      nt,
		cipher:  cipher,
		keyType: keyType,
		block:   block,
	}

	var reply [4]byte
	if nested {
		binary.BigEndian.PutUint32(reply[:], nt^ks)
	} else {
		binary.BigEndian.PutUint32(reply[:], nt)
	}
	rx, n := frame.PackParity(reply[:])
	return rx, n, true
}

func (t *VirtualTag) handleAuthResponse(pending *pendingAuth, data []byte) ([]byte, int, bool) {
	cipher := pending.cipher

	nrEnc := binary.BigEndian.Uint32(data[0:4])
	arEnc := binary.BigEndian.Uint32(data[4:8])

	_ = cipher.Word(nrEnc, true) ^ nrEnc
	ar := cipher.DecryptWord(arEnc)

	suc := staticnested.PrngSuccessor(pending.nt, 32)
	var expected uint32
	for i := 0; i < 4; i++ {
		suc = staticnested.PrngSuccessor(suc, 8)
		expected = expected<<8 | uint32(byte(suc))
	}

	if ar != expected {
		t.mute = true
		return nil, 0, false
	}

	at := staticnested.PrngSuccessor(suc, 32)
	atEnc := cipher.DecryptWord(at)

	t.cipher = cipher
	t.authenticated = true
	t.authedSector = staticnested.BlockToSector(pending.block)
	t.authedKey = pending.keyType

	var reply [4]byte
	binary.BigEndian.PutUint32(reply[:], atEnc)
	rx, n := frame.PackParity(reply[:])
	return rx, n, true
}

func (t *VirtualTag) handleRead(block byte) ([]byte, int, bool) {
	if !t.authenticated || staticnested.BlockToSector(block) != t.authedSector {
		return nil, 0, false
	}
	if int(block) >= len(t.Blocks) {
		return nil, 0, false
	}

	start := staticnested.SectorToBlock(t.authedSector)
	trailer := t.Blocks[staticnested.TrailerBlock(start)]
	perm := staticnested.ParseAccessBits([3]byte{trailer[6], trailer[7], trailer[8]})

	data := make([]byte, 16)
	copy(data, t.Blocks[block])

	if block == staticnested.TrailerBlock(start) {
		// Key A never reads back; Key B only where the trailer mode lets Key A
		// read it, or under a Key B authentication.
		for i := 0; i < 6; i++ {
			data[i] = 0
		}
		if perm.KeyBReadable() || t.authedKey == staticnested.KeyB {
			keyB := t.KeysB[t.authedSector]
			for i := 0; i < 6; i++ {
				data[10+i] = byte(keyB >> uint(8*(5-i)))
			}
		} else {
			for i := 10; i < 16; i++ {
				data[i] = 0
			}
		}
	} else {
		group := block - start
		if staticnested.TrailerBlock(start)-start == 15 {
			group = (block - start) / 5
		}
		readKey, ok := perm.ReadKey(group)
		if !ok {
			return nil, 0, false
		}
		if readKey == staticnested.KeyB && t.authedKey != staticnested.KeyB {
			return nil, 0, false
		}
	}

	return t.replyEncryptedWithCRC(data)
}

// replyWithCRC answers in plaintext with CRC and parity.
func (t *VirtualTag) replyWithCRC(data []byte) ([]byte, int, bool) {
	crc := frame.CrcA(data)
	full := append(append([]byte{}, data...), crc[0], crc[1])
	rx, n := frame.PackParity(full)
	return rx, n, true
}

// replyEncryptedWithCRC answers under the session cipher: CRC over the
// plaintext, everything encrypted with zero-fed keystream.
func (t *VirtualTag) replyEncryptedWithCRC(data []byte) ([]byte, int, bool) {
	crc := frame.CrcA(data)
	full := append(append([]byte{}, data...), crc[0], crc[1])
	enc := make([]byte, len(full))
	for i, b := range full {
		enc[i] = t.cipher.EncryptByte(b, false)
	}
	rx, n := frame.PackParity(enc)
	return rx, n, true
}
