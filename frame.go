// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"encoding/binary"
	"fmt"

	"github.com/redbeanw/go-staticnested/internal/frame"
)

// TxFrame assembles one outgoing ISO14443A frame: payload bytes, optional
// CRC_A, optional per-byte odd parity, and optional Crypto-1 encryption of
// byte ranges. The CRC is computed over the plaintext and encrypted along
// with it; encrypted bytes carry encrypted parity.
type TxFrame struct {
	cipher *Cipher
	data   []byte
	ops    []cryptOp
	parity bool
	crc    bool
}

// cryptOp encrypts the next N payload bytes. Feed selects whether the
// plaintext is fed back into the LFSR (reader-nonce transmission) or the
// keystream runs over zero input.
type cryptOp struct {
	N    int
	Feed bool
}

// NewFrame starts a frame with the given payload bytes.
func NewFrame(data ...byte) *TxFrame {
	return &TxFrame{data: data}
}

// WithParity appends an odd-parity bit after every byte.
func (f *TxFrame) WithParity() *TxFrame {
	f.parity = true
	return f
}

// WithCRC appends the ISO14443A CRC before parity and encryption apply.
func (f *TxFrame) WithCRC() *TxFrame {
	f.crc = true
	f.parity = true
	return f
}

// Encrypt attaches the live cipher. Crypt/CryptFeed calls then describe
// which payload bytes it covers, in order.
func (f *TxFrame) Encrypt(c *Cipher) *TxFrame {
	f.cipher = c
	return f
}

// Crypt encrypts the next n bytes with zero-fed keystream.
func (f *TxFrame) Crypt(n int) *TxFrame {
	f.ops = append(f.ops, cryptOp{N: n})
	return f
}

// CryptFeed encrypts the next n bytes while feeding the plaintext back
// into the LFSR.
func (f *TxFrame) CryptFeed(n int) *TxFrame {
	f.ops = append(f.ops, cryptOp{N: n, Feed: true})
	return f
}

// Bits assembles the frame into a raw bit string.
func (f *TxFrame) Bits() ([]byte, int) {
	payload := f.data
	if f.crc {
		crc := frame.CrcA(payload)
		payload = append(append([]byte{}, payload...), crc[0], crc[1])
	}

	var buf frame.Buffer
	ops := f.ops
	left := 0
	feed := false
	for _, b := range payload {
		if left == 0 && len(ops) > 0 {
			left, feed = ops[0].N, ops[0].Feed
			ops = ops[1:]
		}
		if f.cipher != nil && left > 0 {
			enc := f.cipher.EncryptByte(b, feed)
			left--
			if f.parity {
				buf.AppendByteParity(enc, frame.OddParity(b)^byte(f.cipher.PeekBit()))
			} else {
				buf.AppendByte(enc)
			}
			continue
		}
		if f.parity {
			buf.AppendByteParity(b, frame.OddParity(b))
		} else {
			buf.AppendByte(b)
		}
	}
	return buf.Bits()
}

// RxBits is a view over a received raw bit string. Replies carry a parity
// bit after every data byte; the accessors strip it.
type RxBits struct {
	data []byte
	bits int
}

// NumBytes returns the number of complete data bytes in the reply.
func (r RxBits) NumBytes() int {
	return r.bits / 9
}

// Byte returns data byte i.
func (r RxBits) Byte(i int) (byte, error) {
	b := r.AllBytes()
	if i >= len(b) {
		return 0, fmt.Errorf("reply has %d bytes, wanted byte %d: %w", len(b), i, ErrProtocolViolation)
	}
	return b[i], nil
}

// Bytes returns the first n data bytes.
func (r RxBits) Bytes(n int) ([]byte, error) {
	b := r.AllBytes()
	if len(b) < n {
		return nil, fmt.Errorf("reply has %d bytes, wanted %d: %w", len(b), n, ErrProtocolViolation)
	}
	return b[:n], nil
}

// AllBytes returns every complete data byte of the reply.
func (r RxBits) AllBytes() []byte {
	return frame.SplitParity(r.data, r.bits)
}

// CheckBCC verifies the block check character of a five-byte anticollision
// reply.
func (r RxBits) CheckBCC() bool {
	b := r.AllBytes()
	if len(b) < 5 {
		return false
	}
	return frame.Bcc(b[:4]) == b[4]
}

// CheckCRC verifies the trailing CRC_A over the reply bytes.
func (r RxBits) CheckCRC() bool {
	return frame.CheckCrcA(r.AllBytes())
}

// BigEndianUint32 interprets the first four reply bytes as a big-endian
// word, which matches Crypto-1 word bit order.
func (r RxBits) BigEndianUint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// DecryptWord returns the first four reply bytes decrypted with zero-fed
// keystream, as a big-endian word.
func (r RxBits) DecryptWord(c *Cipher) (uint32, error) {
	enc, err := r.BigEndianUint32()
	if err != nil {
		return 0, err
	}
	return c.DecryptWord(enc), nil
}
