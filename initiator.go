// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/redbeanw/go-staticnested/internal/frame"
)

// MIFARE Classic command bytes. AUTH-A and AUTH-B are the KeyType values.
const (
	cmdRead  = 0x30
	cmdHalt  = 0x50
	cmdWupa  = 0x52
	cmdReqa  = 0x26
	wupaBits = 7
)

// Anticollision cascade levels and markers.
const (
	cascadeBit     = 0x04
	cascadeTag     = 0x88
	selectLevel1   = 0x93
	selectLevel2   = 0x95
	selectLevel3   = 0x97
	anticollision  = 0x20
	selectComplete = 0x70
)

// DefaultKeys are the four well-known factory and NDEF keys tried before
// any user-supplied candidates.
var DefaultKeys = []uint64{
	0xFFFFFFFFFFFF,
	0xA0A1A2A3A4A5,
	0xD3F7D3F7D3F7,
	0x000000000000,
}

// Initiator drives the MIFARE Classic session state machine over a raw-bit
// transceiver. It is not thread-safe; the attack guarantees only one
// goroutine touches it at a time.
type Initiator struct {
	tr  Transceiver
	rng *rand.Rand
}

// NewInitiator wraps a transceiver. The reader-nonce generator is seeded
// per initiator; it only needs to be non-constant, not secret.
func NewInitiator(t Transceiver) *Initiator {
	return &Initiator{
		tr:  t,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// transceive sends a frame and returns the reply bits.
func (m *Initiator) transceive(f *TxFrame) (RxBits, error) {
	tx, n := f.Bits()
	return m.transceiveBits(tx, n)
}

func (m *Initiator) transceiveBits(tx []byte, nbits int) (RxBits, error) {
	rx, rxBits, err := m.tr.TransceiveBits(tx, nbits)
	if err != nil {
		return RxBits{}, err
	}
	return RxBits{data: rx, bits: rxBits}, nil
}

// SelectCard wakes and selects a tag via the ISO14443A anticollision loop.
// With a known uid the stored bytes are played back (with cascade-tag
// prefixes as needed) instead of reading the tag's anticollision reply.
// Returns (nil, nil) when no tag answers.
func (m *Initiator) SelectCard(uid []byte) (*Card, error) {
	if _, err := m.Hlta(); err != nil {
		return nil, err
	}
	card, err := m.selectCascade(uid)
	if err != nil {
		if IsTransportAbsent(err) {
			return nil, nil
		}
		return nil, err
	}
	return card, nil
}

func (m *Initiator) selectCascade(uid []byte) (*Card, error) {
	wake := byte(cmdWupa)
	if len(uid) > 0 {
		wake = cmdReqa
	}
	atqaRx, err := m.transceiveBits([]byte{wake}, wupaBits)
	if err != nil {
		return nil, err
	}
	atqa, err := atqaRx.Bytes(2)
	if err != nil {
		return nil, err
	}

	card := &Card{ATQA: [2]byte{atqa[0], atqa[1]}}
	level := byte(selectLevel1)
	uidKnown := len(uid) > 0
	uidSent := 0

	for {
		var uidBuf [4]byte
		if !uidKnown {
			anticol, err := m.transceive(NewFrame(level, anticollision).WithParity())
			if err != nil {
				return nil, err
			}
			if !anticol.CheckBCC() {
				fmt.Println("!!! warning: BCC check failed!")
			}
			chunk, err := anticol.Bytes(4)
			if err != nil {
				return nil, err
			}
			copy(uidBuf[:], chunk)
		} else {
			switch {
			case len(uid) <= 4:
				copy(uidBuf[:], uid)
			case len(uid)-uidSent > 4:
				uidBuf = [4]byte{cascadeTag, uid[uidSent], uid[uidSent+1], uid[uidSent+2]}
				uidSent += 3
			default:
				copy(uidBuf[:], uid[uidSent:uidSent+4])
				uidSent += 4
			}
		}

		sel := NewFrame(level, selectComplete,
			uidBuf[0], uidBuf[1], uidBuf[2], uidBuf[3],
			uidBuf[0]^uidBuf[1]^uidBuf[2]^uidBuf[3]).WithCRC()
		sak, err := m.transceive(sel)
		if err != nil {
			return nil, err
		}
		if !sak.CheckCRC() {
			fmt.Println("!!! warning: CRC check failed!")
		}
		sakByte, err := sak.Byte(0)
		if err != nil {
			return nil, err
		}

		if sakByte&cascadeBit != 0 {
			switch level {
			case selectLevel1:
				level = selectLevel2
			case selectLevel2:
				level = selectLevel3
			default:
				return nil, fmt.Errorf("too many cascading levels: %w", ErrProtocolViolation)
			}
			card.UID = append(card.UID, uidBuf[1:]...)
			continue
		}

		card.UID = append(card.UID, uidBuf[:]...)
		card.SAK = sakByte
		break
	}

	card.NUID = nuidOf(card.UID)
	return card, nil
}

// Hlta halts the tag. The tag acknowledges by staying silent, so true is
// the expected outcome of a successful halt.
func (m *Initiator) Hlta() (bool, error) {
	_, err := m.transceive(NewFrame(cmdHalt, 0x00).WithCRC())
	if err != nil {
		if IsTransportAbsent(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Auth performs a MIFARE Classic authentication for block under key,
// advancing cipher as a side effect. With nested set the exchange runs
// encrypted under the cipher's current state. Returns whether the tag's
// answer matched.
func (m *Initiator) Auth(cipher *Cipher, keyType KeyType, card *Card, block uint8, key uint64, nested bool) (bool, error) {
	ok, _, err := m.AuthCapture(cipher, keyType, card, block, key, nested)
	return ok, err
}

// AuthCapture is Auth plus the recovered plaintext tag nonce.
func (m *Initiator) AuthCapture(
	cipher *Cipher, keyType KeyType, card *Card, block uint8, key uint64, nested bool,
) (bool, uint32, error) {
	var nt uint32

	if !nested {
		rx, err := m.transceive(NewFrame(byte(keyType), block).WithCRC())
		if err != nil {
			return false, 0, err
		}
		nt, err = rx.BigEndianUint32()
		if err != nil {
			return false, 0, err
		}
	} else {
		rx, err := m.transceive(NewFrame(byte(keyType), block).WithCRC().Encrypt(cipher).Crypt(4))
		if err != nil {
			return false, 0, err
		}
		ntEnc, err := rx.BigEndianUint32()
		if err != nil {
			return false, 0, err
		}
		nt = ntEnc
	}

	cipher.Init(key)

	if !nested {
		cipher.Word(card.NUID^nt, false)
	} else {
		nt = cipher.Word(card.NUID^nt, true) ^ nt
	}

	var nr, ar [4]byte
	for i := range nr {
		nr[i] = byte(m.rng.Uint32())
	}

	suc := PrngSuccessor(nt, 32)
	for i := range ar {
		suc = PrngSuccessor(suc, 8)
		ar[i] = byte(suc)
	}

	rx, err := m.transceive(NewFrame(
		nr[0], nr[1], nr[2], nr[3],
		ar[0], ar[1], ar[2], ar[3],
	).WithParity().Encrypt(cipher).CryptFeed(4).Crypt(4))
	if err != nil {
		return false, nt, err
	}

	at, err := rx.DecryptWord(cipher)
	if err != nil {
		return false, nt, err
	}

	return at == PrngSuccessor(suc, 32), nt, nil
}

// Read reads a 16-byte block under an authenticated cipher. The CRC is
// verified over the decrypted payload.
func (m *Initiator) Read(cipher *Cipher, block uint8) ([]byte, error) {
	rx, err := m.transceive(NewFrame(cmdRead, block).WithCRC().Encrypt(cipher).Crypt(4))
	if err != nil {
		return nil, fatalTagMoved(err)
	}
	enc, err := rx.Bytes(18)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(enc))
	for i, b := range enc {
		plain[i] = cipher.DecryptByte(b)
	}
	if !frame.CheckCrcA(plain) {
		return nil, fmt.Errorf("block %d data: %w", block, ErrChecksumFailure)
	}
	return plain[:16], nil
}

// EncryptedNonce starts an authentication for block under the current
// cipher and captures the encrypted tag nonce without completing the
// handshake. The tag will time the attempt out; the caller re-selects.
func (m *Initiator) EncryptedNonce(cipher *Cipher, keyType KeyType, block uint8) (uint32, error) {
	rx, err := m.transceive(NewFrame(byte(keyType), block).WithCRC().Encrypt(cipher).Crypt(4))
	if err != nil {
		return 0, fatalTagMoved(err)
	}
	return rx.BigEndianUint32()
}

// TestKey re-selects the card and tries a plain authentication. A silent
// tag (failed authentication) reports false; protocol errors propagate.
func (m *Initiator) TestKey(cipher *Cipher, keyType KeyType, card *Card, block uint8, key uint64) (bool, error) {
	selected, err := m.SelectCard(card.UID)
	if err != nil {
		return false, err
	}
	if selected == nil {
		return false, ErrTagMovedOut
	}
	ok, err := m.Auth(cipher, keyType, card, block, key, false)
	if err != nil {
		if IsTransportAbsent(err) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// TestDefaultKeys probes every sector's first block with the well-known
// default keys plus userKeys, as Key A and as Key B, recording the first
// match for each.
func (m *Initiator) TestDefaultKeys(
	card *Card, cardType CardType, userKeys []uint64, skipDefaults bool,
) ([]SectorKey, error) {
	var candidates []uint64
	if !skipDefaults {
		candidates = append(candidates, DefaultKeys...)
	}
	candidates = append(candidates, userKeys...)

	fmt.Printf("Testing %d default keys...\n", len(candidates))
	fmt.Printf("%-6s %-12s %-12s\n", "Sector", "KeyA", "KeyB")

	var cipher Cipher
	result := make([]SectorKey, 0, len(StartBlockSequence(cardType)))

	for _, block := range StartBlockSequence(cardType) {
		skey := SectorKey{Sector: BlockToSector(block)}
		for _, key := range candidates {
			if skey.KeyA != nil && skey.KeyB != nil {
				break
			}
			if skey.KeyA == nil {
				ok, err := m.TestKey(&cipher, KeyA, card, block, key)
				if err != nil {
					return nil, err
				}
				if ok {
					k := key
					skey.KeyA = &k
				}
			}
			if skey.KeyB == nil {
				ok, err := m.TestKey(&cipher, KeyB, card, block, key)
				if err != nil {
					return nil, err
				}
				if ok {
					k := key
					skey.KeyB = &k
				}
			}
		}
		fmt.Printf("%02d     %-12s %-12s\n", skey.Sector, formatKey(skey.KeyA), formatKey(skey.KeyB))
		result = append(result, skey)
	}

	return result, nil
}

// TryGetKeyB reads the sector trailer under an already-authenticated
// cipher and extracts Key B from its last six bytes. Tags whose access
// bits restrict the read return zeros. Prefer the driver's tryReadKeyB,
// which re-selects and authenticates first.
func (m *Initiator) TryGetKeyB(cipher *Cipher, sector uint8) (uint64, error) {
	data, err := m.Read(cipher, TrailerBlock(SectorToBlock(sector)))
	if err != nil {
		return 0, err
	}
	var key uint64
	for _, b := range data[10:16] {
		key = key<<8 | uint64(b)
	}
	return key, nil
}

func formatKey(k *uint64) string {
	if k == nil {
		return "-"
	}
	return fmt.Sprintf("%012X", *k)
}
