// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"testing"

	"github.com/redbeanw/go-staticnested/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxFrameParity(t *testing.T) {
	t.Parallel()
	bits, n := NewFrame(0x93, 0x20).WithParity().Bits()
	assert.Equal(t, 18, n)
	assert.Equal(t, []byte{0x93, 0x20}, frame.SplitParity(bits, n))
}

func TestTxFrameCRC(t *testing.T) {
	t.Parallel()
	bits, n := NewFrame(0x30, 0x04).WithCRC().Bits()
	assert.Equal(t, 4*9, n)
	assert.Equal(t, []byte{0x30, 0x04, 0x26, 0xEE}, frame.SplitParity(bits, n))

	bits, n = NewFrame(0x50, 0x00).WithCRC().Bits()
	assert.Equal(t, []byte{0x50, 0x00, 0x57, 0xCD}, frame.SplitParity(bits, n))
}

func TestTxFrameEncryptRoundTrip(t *testing.T) {
	t.Parallel()
	const key = 0xA0A1A2A3A4A5

	var enc, dec Cipher
	enc.Init(key)
	dec.Init(key)
	enc.Word(0x11223344, false)
	dec.Word(0x11223344, false)

	bits, n := NewFrame(0x60, 0x04).WithCRC().Encrypt(&enc).Crypt(4).Bits()
	require.Equal(t, 4*9, n)

	encrypted := frame.SplitParity(bits, n)
	plain := make([]byte, len(encrypted))
	for i, b := range encrypted {
		plain[i] = dec.DecryptByte(b)
	}
	assert.Equal(t, []byte{0x60, 0x04, 0xD1, 0x3D}, plain)
}

func TestTxFrameCryptFeedRoundTrip(t *testing.T) {
	t.Parallel()
	const key = 0x4A8C6D2F31B0

	var enc, dec Cipher
	enc.Init(key)
	dec.Init(key)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	f := NewFrame(payload...).WithParity().Encrypt(&enc).CryptFeed(4).Crypt(4)
	bits, n := f.Bits()
	require.Equal(t, 8*9, n)

	encrypted := frame.SplitParity(bits, n)

	// First four bytes decrypt with plaintext feedback, the rest zero-fed.
	var nrEnc uint32
	for _, b := range encrypted[:4] {
		nrEnc = nrEnc<<8 | uint32(b)
	}
	nr := dec.Word(nrEnc, true) ^ nrEnc
	assert.Equal(t, uint32(0xDEADBEEF), nr)

	for i, b := range encrypted[4:] {
		assert.Equal(t, payload[4+i], dec.DecryptByte(b))
	}
}

func TestRxBitsViews(t *testing.T) {
	t.Parallel()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xDE ^ 0xAD ^ 0xBE ^ 0xEF}
	bits, n := frame.PackParity(data)
	rx := RxBits{data: bits, bits: n}

	assert.Equal(t, 5, rx.NumBytes())
	assert.True(t, rx.CheckBCC())

	word, err := rx.BigEndianUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), word)

	b, err := rx.Byte(4)
	require.NoError(t, err)
	assert.Equal(t, data[4], b)

	_, err = rx.Bytes(6)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRxBitsCheckCRC(t *testing.T) {
	t.Parallel()
	payload := []byte{0x30, 0x04, 0x26, 0xEE}
	bits, n := frame.PackParity(payload)
	assert.True(t, RxBits{data: bits, bits: n}.CheckCRC())

	payload[2] ^= 1
	bits, n = frame.PackParity(payload)
	assert.False(t, RxBits{data: bits, bits: n}.CheckCRC())
}
