// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package uart drives a PN532 over a serial port as a raw-bit transceiver.
package uart

import (
	"bytes"
	"fmt"
	"time"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/redbeanw/go-staticnested/internal/syncutil"
	"go.bug.st/serial"
)

const (
	baudRate    = 115200
	readTimeout = 1 * time.Second
)

// wakeupPreamble brings the chip out of low-VBAT mode before the first
// frame.
var wakeupPreamble = []byte{
	0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Transport is a PN532 raw-bit transceiver over UART.
type Transport struct {
	*pn532.Chip
}

// New opens the serial port and initializes the chip.
func New(path string) (*Transport, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, staticnested.NewTransportError("open", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, staticnested.NewTransportError("open", path, err)
	}

	link := &link{port: port, path: path}
	if err := link.wakeup(); err != nil {
		_ = port.Close()
		return nil, err
	}

	chip := pn532.NewChip(link)
	if err := chip.Init(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return &Transport{Chip: chip}, nil
}

// link implements pn532.Link over the serial port.
type link struct {
	port serial.Port
	path string
	mu   syncutil.Mutex
}

func (l *link) Port() string {
	return l.path
}

func (l *link) wakeup() error {
	if _, err := l.port.Write(wakeupPreamble); err != nil {
		return staticnested.NewTransportError("wakeup", l.path, err)
	}
	// Let the chip settle before the first real frame.
	time.Sleep(5 * time.Millisecond)
	return nil
}

// Command sends one host frame and collects ACK plus response.
func (l *link) Command(cmd byte, args []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := pn532.BuildFrame(cmd, args)
	if _, err := l.port.Write(tx); err != nil {
		return nil, staticnested.NewTransportError("write", l.path, err)
	}

	if err := l.readAck(); err != nil {
		return nil, err
	}

	payload, err := l.readFrame()
	if err != nil {
		return nil, err
	}
	if len(payload) < 1 || payload[0] != cmd+1 {
		return nil, staticnested.NewTransportError("response", l.path,
			fmt.Errorf("unexpected response code: %w", pn532.ErrFrameCorrupted))
	}
	return payload[1:], nil
}

func (l *link) readAck() error {
	buf, err := l.readExact(len(pn532.AckFrame))
	if err != nil {
		return err
	}
	if !pn532.IsAck(buf) {
		return staticnested.NewTransportError("ack", l.path, pn532.ErrNotAck)
	}
	return nil
}

// readFrame scans to the start code, then reads length, payload and
// checksums.
func (l *link) readFrame() ([]byte, error) {
	header, err := l.readExact(5)
	if err != nil {
		return nil, err
	}
	// Tolerate extra preamble zeros before the start code.
	for !bytes.HasPrefix(header, []byte{0x00, 0xFF}) {
		next, err := l.readExact(1)
		if err != nil {
			return nil, err
		}
		header = append(header[1:], next[0])
	}

	// header is now [00 FF LEN LCS TFI]; the remaining payload, DCS and
	// postamble follow.
	length := int(header[2])
	rest, err := l.readExact(length + 1)
	if err != nil {
		return nil, err
	}

	full := append(header, rest...)
	payload, err := pn532.ParseFrame(full)
	if err != nil {
		return nil, staticnested.NewTransportError("frame", l.path, err)
	}
	return payload, nil
}

func (l *link) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		read, err := l.port.Read(buf[got:])
		if err != nil {
			return nil, staticnested.NewTransportError("read", l.path, err)
		}
		if read == 0 {
			return nil, staticnested.NewTransportError("read", l.path,
				fmt.Errorf("timeout after %d of %d bytes", got, n))
		}
		got += read
	}
	return buf, nil
}

func (l *link) Close() error {
	if err := l.port.Close(); err != nil {
		return staticnested.NewTransportError("close", l.path, err)
	}
	return nil
}
