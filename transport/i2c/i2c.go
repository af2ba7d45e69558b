// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package i2c drives a PN532 on an I2C bus as a raw-bit transceiver.
package i2c

import (
	"fmt"
	"strings"
	"time"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/redbeanw/go-staticnested/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	// 7-bit device address; the datasheet's 0x48 includes the R/W bit.
	pn532Addr = 0x24

	readyByte    = 0x01
	readyRetries = 50
	readyDelay   = 5 * time.Millisecond
)

// Transport is a PN532 raw-bit transceiver over I2C.
type Transport struct {
	*pn532.Chip
}

// New opens the bus (e.g. "/dev/i2c-1" or "1") and initializes the chip.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, staticnested.NewTransportError("open", busName, fmt.Errorf("periph host: %w", err))
	}
	bus, err := i2creg.Open(parseBusName(busName))
	if err != nil {
		return nil, staticnested.NewTransportError("open", busName, err)
	}

	link := &link{
		dev:  &i2c.Dev{Addr: pn532Addr, Bus: bus},
		bus:  bus,
		path: busName,
	}

	chip := pn532.NewChip(link)
	if err := chip.Init(); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return &Transport{Chip: chip}, nil
}

// parseBusName strips the /dev/i2c- prefix periph does not expect.
func parseBusName(name string) string {
	return strings.TrimPrefix(name, "/dev/i2c-")
}

type link struct {
	dev  *i2c.Dev
	bus  i2c.BusCloser
	path string
	mu   syncutil.Mutex
}

func (l *link) Port() string {
	return l.path
}

// Command writes one host frame and reads ACK plus response. On I2C every
// read is prefixed by a ready-status byte.
func (l *link) Command(cmd byte, args []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.dev.Tx(pn532.BuildFrame(cmd, args), nil); err != nil {
		return nil, staticnested.NewTransportError("write", l.path, err)
	}

	ack, err := l.readReady(len(pn532.AckFrame))
	if err != nil {
		return nil, err
	}
	if !pn532.IsAck(ack[1:]) {
		return nil, staticnested.NewTransportError("ack", l.path, pn532.ErrNotAck)
	}

	// Preamble + start + len + lcs + payload + dcs + postamble.
	raw, err := l.readReady(262 + 7)
	if err != nil {
		return nil, err
	}
	// Skip the ready byte and the frame preamble.
	payload, err := pn532.ParseFrame(raw[2:])
	if err != nil {
		return nil, staticnested.NewTransportError("frame", l.path, err)
	}
	if len(payload) < 1 || payload[0] != cmd+1 {
		return nil, staticnested.NewTransportError("response", l.path,
			fmt.Errorf("unexpected response code: %w", pn532.ErrFrameCorrupted))
	}
	return payload[1:], nil
}

// readReady polls until the chip signals readiness, then returns the raw
// buffer including the status byte.
func (l *link) readReady(n int) ([]byte, error) {
	buf := make([]byte, n+1)
	for attempt := 0; attempt < readyRetries; attempt++ {
		if err := l.dev.Tx(nil, buf); err != nil {
			return nil, staticnested.NewTransportError("read", l.path, err)
		}
		if buf[0] == readyByte {
			return buf, nil
		}
		time.Sleep(readyDelay)
	}
	return nil, staticnested.NewTransportError("read", l.path, fmt.Errorf("chip never became ready"))
}

func (l *link) Close() error {
	if err := l.bus.Close(); err != nil {
		return staticnested.NewTransportError("close", l.path, err)
	}
	return nil
}
