// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package pcsc drives the PN532 inside an ACR122U through PC/SC
// direct-transmit pseudo-APDUs.
package pcsc

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"
	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/redbeanw/go-staticnested/internal/syncutil"
)

// ACR122U direct-transmit pseudo-APDU header: CLA INS P1 P2, Lc follows.
var directTransmit = []byte{0xFF, 0x00, 0x00, 0x00}

// Transport is a PN532 raw-bit transceiver behind an ACR122U.
type Transport struct {
	*pn532.Chip
}

// New connects to a PC/SC reader. An empty name picks the first reader
// whose name mentions ACR122, or else the first reader listed.
func New(readerName string) (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, staticnested.NewTransportError("open", readerName, err)
	}

	if readerName == "" {
		readers, err := ctx.ListReaders()
		if err != nil {
			_ = ctx.Release()
			return nil, staticnested.NewTransportError("open", readerName, err)
		}
		for _, r := range readers {
			if strings.Contains(r, "ACR122") {
				readerName = r
				break
			}
		}
		if readerName == "" && len(readers) > 0 {
			readerName = readers[0]
		}
		if readerName == "" {
			_ = ctx.Release()
			return nil, staticnested.NewTransportError("open", "",
				fmt.Errorf("no PC/SC readers available"))
		}
	}

	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, staticnested.NewTransportError("connect", readerName, err)
	}

	link := &link{ctx: ctx, card: card, reader: readerName}
	chip := pn532.NewChip(link)
	if err := chip.Init(); err != nil {
		_ = link.Close()
		return nil, err
	}
	return &Transport{Chip: chip}, nil
}

type link struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	mu     syncutil.Mutex
}

func (l *link) Port() string {
	return l.reader
}

// buildDirectTransmit wraps one PN532 command in a direct-transmit APDU.
// The reader firmware handles the host framing itself.
func buildDirectTransmit(cmd byte, args []byte) []byte {
	payload := append([]byte{pn532.HostToPn532, cmd}, args...)
	apdu := append(append([]byte{}, directTransmit...), byte(len(payload)))
	return append(apdu, payload...)
}

// parseDirectResponse validates the reader status word and the PN532
// response header (D5 <cmd+1> <data...> SW1 SW2) and returns the data.
func parseDirectResponse(cmd byte, resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("reply too short: %w", pn532.ErrFrameCorrupted)
	}

	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("reader status %02X%02X", sw1, sw2)
	}

	body := resp[:len(resp)-2]
	if len(body) < 2 || body[0] != pn532.Pn532ToHost || body[1] != cmd+1 {
		return nil, fmt.Errorf("unexpected response header: %w", pn532.ErrFrameCorrupted)
	}
	return body[2:], nil
}

// Command tunnels one PN532 command through a direct-transmit APDU.
func (l *link) Command(cmd byte, args []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp, err := l.card.Transmit(buildDirectTransmit(cmd, args))
	if err != nil {
		return nil, staticnested.NewTransportError("transmit", l.reader, err)
	}

	payload, err := parseDirectResponse(cmd, resp)
	if err != nil {
		return nil, staticnested.NewTransportError("response", l.reader, err)
	}
	return payload, nil
}

func (l *link) Close() error {
	err := l.card.Disconnect(scard.LeaveCard)
	if rerr := l.ctx.Release(); err == nil {
		err = rerr
	}
	if err != nil {
		return staticnested.NewTransportError("close", l.reader, err)
	}
	return nil
}
