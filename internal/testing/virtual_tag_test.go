// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package testing

import (
	"testing"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wake(t *testing.T, tag *VirtualTag) {
	t.Helper()
	_, _, present := tag.Transceive([]byte{0x52}, 7)
	require.True(t, present)
}

func TestVirtualTagWakeReturnsATQA(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)

	rx, bits, present := tag.Transceive([]byte{0x52}, 7)
	require.True(t, present)
	assert.Equal(t, TestATQA[:], frame.SplitParity(rx, bits))
}

func TestVirtualTagAnticollision(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)
	wake(t, tag)

	tx, n := frame.PackParity([]byte{0x93, 0x20})
	rx, bits, present := tag.Transceive(tx, n)
	require.True(t, present)

	reply := frame.SplitParity(rx, bits)
	require.Len(t, reply, 5)
	assert.Equal(t, tag.UID[:], reply[:4])
	assert.Equal(t, frame.Bcc(tag.UID[:]), reply[4])
}

func TestVirtualTagStaticNonceSequence(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)

	firstNonce := func() []byte {
		wake(t, tag)
		crc := frame.CrcA([]byte{0x60, 0x00})
		tx, n := frame.PackParity([]byte{0x60, 0x00, crc[0], crc[1]})
		rx, bits, present := tag.Transceive(tx, n)
		require.True(t, present)
		return frame.SplitParity(rx, bits)
	}

	nt1 := firstNonce()
	nt2 := firstNonce()
	assert.Equal(t, nt1, nt2, "the broken PRNG must replay the same nonce after re-select")
}

func TestVirtualTagSilentWhenAbsent(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)
	tag.Present = false

	_, _, present := tag.Transceive([]byte{0x52}, 7)
	assert.False(t, present)
}

func TestVirtualTagHaltGoesSilent(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)
	wake(t, tag)

	crc := frame.CrcA([]byte{0x50, 0x00})
	tx, n := frame.PackParity([]byte{0x50, 0x00, crc[0], crc[1]})
	_, _, present := tag.Transceive(tx, n)
	assert.False(t, present, "halt is acknowledged by silence")

	tx, n = frame.PackParity([]byte{0x93, 0x20})
	_, _, present = tag.Transceive(tx, n)
	assert.False(t, present, "halted tag ignores anticollision")
}

func TestTransceiverCountsExchanges(t *testing.T) {
	t.Parallel()
	tag := NewVirtual1K(nil)
	tr := NewTransceiver(tag)
	require.NoError(t, staticnested.EnterRawMode(tr))

	_, _, err := tr.TransceiveBits([]byte{0x52}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Exchanges)
}
