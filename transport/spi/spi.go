// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package spi drives a PN532 on an SPI bus as a raw-bit transceiver.
package spi

import (
	"fmt"
	"math/bits"
	"time"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/redbeanw/go-staticnested/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPI prefix bytes. The PN532 shifts LSB first, which periph does not do,
// so every byte on the wire is bit-reversed in software.
const (
	prefixStatusRead = 0x02
	prefixDataWrite  = 0x01
	prefixDataRead   = 0x03

	statusReady = 0x01

	defaultFreq  = 1 * physic.MegaHertz
	readyRetries = 50
	readyDelay   = 5 * time.Millisecond
)

// Transport is a PN532 raw-bit transceiver over SPI.
type Transport struct {
	*pn532.Chip
}

// New opens the SPI port (e.g. "/dev/spidev0.0") and initializes the chip.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, staticnested.NewTransportError("open", portName, fmt.Errorf("periph host: %w", err))
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, staticnested.NewTransportError("open", portName, err)
	}
	conn, err := port.Connect(defaultFreq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, staticnested.NewTransportError("open", portName, err)
	}

	link := &link{conn: conn, port: port, path: portName}

	chip := pn532.NewChip(link)
	if err := chip.Init(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return &Transport{Chip: chip}, nil
}

type link struct {
	conn spi.Conn
	port spi.PortCloser
	path string
	mu   syncutil.Mutex
}

func (l *link) Port() string {
	return l.path
}

// reverse flips the bit order of every byte for the chip's LSB-first
// framing.
func reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = bits.Reverse8(b)
	}
	return out
}

func (l *link) tx(write []byte, readLen int) ([]byte, error) {
	read := make([]byte, len(write)+readLen)
	if err := l.conn.Tx(append(reverse(write), make([]byte, readLen)...), read); err != nil {
		return nil, staticnested.NewTransportError("tx", l.path, err)
	}
	return reverse(read[len(write):]), nil
}

func (l *link) waitReady() error {
	for attempt := 0; attempt < readyRetries; attempt++ {
		status, err := l.tx([]byte{prefixStatusRead}, 1)
		if err != nil {
			return err
		}
		if status[0]&statusReady != 0 {
			return nil
		}
		time.Sleep(readyDelay)
	}
	return staticnested.NewTransportError("status", l.path, fmt.Errorf("chip never became ready"))
}

// Command writes one host frame and reads ACK plus response.
func (l *link) Command(cmd byte, args []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame := pn532.BuildFrame(cmd, args)
	if _, err := l.tx(append([]byte{prefixDataWrite}, frame...), 0); err != nil {
		return nil, err
	}

	if err := l.waitReady(); err != nil {
		return nil, err
	}
	ack, err := l.tx([]byte{prefixDataRead}, len(pn532.AckFrame))
	if err != nil {
		return nil, err
	}
	if !pn532.IsAck(ack) {
		return nil, staticnested.NewTransportError("ack", l.path, pn532.ErrNotAck)
	}

	if err := l.waitReady(); err != nil {
		return nil, err
	}
	raw, err := l.tx([]byte{prefixDataRead}, 262+6)
	if err != nil {
		return nil, err
	}
	// Skip the frame preamble.
	payload, err := pn532.ParseFrame(raw[1:])
	if err != nil {
		return nil, staticnested.NewTransportError("frame", l.path, err)
	}
	if len(payload) < 1 || payload[0] != cmd+1 {
		return nil, staticnested.NewTransportError("response", l.path,
			fmt.Errorf("unexpected response code: %w", pn532.ErrFrameCorrupted))
	}
	return payload[1:], nil
}

func (l *link) Close() error {
	if err := l.port.Close(); err != nil {
		return staticnested.NewTransportError("close", l.path, err)
	}
	return nil
}
