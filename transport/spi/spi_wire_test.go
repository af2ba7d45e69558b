// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package spi

import (
	"math/bits"
	"testing"

	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// rev bit-reverses every byte, the LSB-first translation the chip's SPI
// framing forces on both directions.
func rev(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = bits.Reverse8(b)
	}
	return out
}

// MockSPIConn answers status reads, records data writes and replays data
// reads, all in the chip's LSB-first wire order.
type MockSPIConn struct {
	statuses []byte
	frames   [][]byte
	writes   [][]byte
}

func (m *MockSPIConn) handleStatusRead(r []byte) {
	status := byte(statusReady)
	if len(m.statuses) > 0 {
		status = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	if len(r) > 1 {
		r[1] = bits.Reverse8(status)
	}
}

func (m *MockSPIConn) handleDataRead(r []byte) {
	if len(m.frames) == 0 {
		return
	}
	frame := m.frames[0]
	m.frames = m.frames[1:]
	copy(r[1:], rev(frame))
}

func (m *MockSPIConn) Tx(w, r []byte) error {
	logical := rev(w)
	switch logical[0] {
	case prefixStatusRead:
		m.handleStatusRead(r)
	case prefixDataWrite:
		m.writes = append(m.writes, append([]byte{}, logical[1:]...))
	case prefixDataRead:
		m.handleDataRead(r)
	}
	return nil
}

func (*MockSPIConn) Duplex() conn.Duplex {
	return conn.Full
}

func (*MockSPIConn) String() string {
	return "mock://spi"
}

func (*MockSPIConn) TxPackets(_ []spi.Packet) error {
	return nil
}

// MockSPIPort only needs to track Close for the link tests.
type MockSPIPort struct {
	conn   spi.Conn
	closed bool
}

func (p *MockSPIPort) Connect(_ physic.Frequency, _ spi.Mode, _ int) (spi.Conn, error) {
	return p.conn, nil
}

func (p *MockSPIPort) Close() error {
	p.closed = true
	return nil
}

func (*MockSPIPort) String() string {
	return "mock://spi"
}

func (*MockSPIPort) LimitSpeed(_ physic.Frequency) error {
	return nil
}

// responseFrame builds a chip-to-host information frame, preamble included.
func responseFrame(code byte, data []byte) []byte {
	payload := append([]byte{pn532.Pn532ToHost, code}, data...)
	out := []byte{0x00, 0x00, 0xFF, byte(len(payload)), byte(-int8(len(payload)))}
	out = append(out, payload...)
	out = append(out, byte(-int8(pn532.Checksum(payload))), 0x00)
	return out
}

func newTestLink(mock *MockSPIConn) (*link, *MockSPIPort) {
	port := &MockSPIPort{conn: mock}
	return &link{conn: mock, port: port, path: "mock://spi"}, port
}

func TestLinkCommandSuccess(t *testing.T) {
	t.Parallel()
	mock := &MockSPIConn{frames: [][]byte{
		pn532.AckFrame,
		responseFrame(pn532.CmdGetFirmwareVersion+1, []byte{0x32, 0x01, 0x06, 0x07}),
	}}
	l, _ := newTestLink(mock)

	resp, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, resp)

	require.Len(t, mock.writes, 1)
	assert.Equal(t, pn532.BuildFrame(pn532.CmdGetFirmwareVersion, nil), mock.writes[0])
}

// TestLinkCommandWaitsForReady exercises the status poll: busy answers
// before each ready one.
func TestLinkCommandWaitsForReady(t *testing.T) {
	t.Parallel()
	mock := &MockSPIConn{
		statuses: []byte{0x00, 0x00, statusReady, 0x00, statusReady},
		frames: [][]byte{
			pn532.AckFrame,
			responseFrame(pn532.CmdGetFirmwareVersion+1, []byte{0x32}),
		},
	}
	l, _ := newTestLink(mock)

	resp, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x32}, resp)
}

func TestLinkCommandNeverReady(t *testing.T) {
	t.Parallel()
	mock := &MockSPIConn{statuses: make([]byte, readyRetries+1)}
	l, _ := newTestLink(mock)

	_, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ready")
}

func TestLinkCommandNotAck(t *testing.T) {
	t.Parallel()
	mock := &MockSPIConn{frames: [][]byte{
		{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00},
	}}
	l, _ := newTestLink(mock)

	_, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pn532.ErrNotAck)
}

func TestLinkCommandCorruptedChecksum(t *testing.T) {
	t.Parallel()
	frame := responseFrame(pn532.CmdGetFirmwareVersion+1, []byte{0x32})
	frame[len(frame)-2] ^= 0x01
	mock := &MockSPIConn{frames: [][]byte{pn532.AckFrame, frame}}
	l, _ := newTestLink(mock)

	_, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pn532.ErrFrameCorrupted)
}

func TestLinkCommandWrongResponseCode(t *testing.T) {
	t.Parallel()
	mock := &MockSPIConn{frames: [][]byte{
		pn532.AckFrame,
		responseFrame(pn532.CmdReadRegister+1, []byte{0x00}),
	}}
	l, _ := newTestLink(mock)

	_, err := l.Command(pn532.CmdGetFirmwareVersion, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pn532.ErrFrameCorrupted)
}

func TestLinkClose(t *testing.T) {
	t.Parallel()
	l, port := newTestLink(&MockSPIConn{})
	require.NoError(t, l.Close())
	assert.True(t, port.closed)
}
