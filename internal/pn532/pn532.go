// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package pn532 implements the PN532 host frame codec shared by the UART,
// I2C, SPI and PC/SC transports: normal information frames with TFI and
// data checksum, plus ACK handling.
package pn532

import (
	"errors"
	"fmt"
)

// Frame direction identifiers.
const (
	HostToPn532 = 0xD4
	Pn532ToHost = 0xD5
)

// Frame markers.
const (
	Preamble   = 0x00
	StartCode1 = 0x00
	StartCode2 = 0xFF
	Postamble  = 0x00
)

// Commands the transports issue. The transceiver only needs wakeup,
// register access and raw data exchange.
const (
	CmdSAMConfiguration   = 0x14
	CmdReadRegister       = 0x06
	CmdWriteRegister      = 0x08
	CmdRFConfiguration    = 0x32
	CmdInCommunicateThru  = 0x42
	CmdGetFirmwareVersion = 0x02
)

// CIU register addresses used to put the contactless front end into raw
// mode (no automatic CRC, no automatic parity, manual framing).
const (
	RegCIUTxMode     = 0x6302
	RegCIURxMode     = 0x6303
	RegCIUManualRCV  = 0x630D
	RegCIUBitFraming = 0x633D
)

// Register bits.
const (
	BitTxCRCEn       = 0x80 // CIU_TxMode
	BitRxCRCEn       = 0x80 // CIU_RxMode
	BitParityDisable = 0x10 // CIU_ManualRCV
)

// AckFrame is the flow-control acknowledgement emitted by the chip.
var AckFrame = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}

// Codec errors.
var (
	ErrFrameCorrupted = errors.New("pn532 frame corrupted")
	ErrNotAck         = errors.New("pn532 did not acknowledge")
)

// Checksum returns the additive checksum byte over data; the frame carries
// its two's complement.
func Checksum(data []byte) byte {
	var chk byte
	for _, b := range data {
		chk += b
	}
	return chk
}

// BuildFrame wraps cmd and args into a normal information frame.
func BuildFrame(cmd byte, args []byte) []byte {
	payload := make([]byte, 0, len(args)+2)
	payload = append(payload, HostToPn532, cmd)
	payload = append(payload, args...)

	out := make([]byte, 0, len(payload)+7)
	out = append(out, Preamble, StartCode1, StartCode2)
	out = append(out, byte(len(payload)), byte(-int8(len(payload))))
	out = append(out, payload...)
	out = append(out, byte(-int8(Checksum(payload))), Postamble)
	return out
}

// ParseFrame extracts the response payload (after the TFI byte) from buf,
// which must start at the 00 FF start code (preamble already stripped). It
// validates the length and
// data checksums.
func ParseFrame(buf []byte) ([]byte, error) {
	if len(buf) < 6 || buf[0] != StartCode1 || buf[1] != StartCode2 {
		return nil, fmt.Errorf("missing start code: %w", ErrFrameCorrupted)
	}
	length := int(buf[2])
	lcs := buf[3]
	if (length+int(lcs))&0xFF != 0 {
		return nil, fmt.Errorf("bad length checksum: %w", ErrFrameCorrupted)
	}
	if len(buf) < 4+length+1 {
		return nil, fmt.Errorf("truncated frame: %w", ErrFrameCorrupted)
	}
	payload := buf[4 : 4+length]
	dcs := buf[4+length]
	if (Checksum(payload)+dcs)&0xFF != 0 {
		return nil, fmt.Errorf("bad data checksum: %w", ErrFrameCorrupted)
	}
	if payload[0] != Pn532ToHost {
		return nil, fmt.Errorf("unexpected TFI %02X: %w", payload[0], ErrFrameCorrupted)
	}
	return payload[1:], nil
}

// IsAck reports whether buf begins with an ACK frame.
func IsAck(buf []byte) bool {
	if len(buf) < len(AckFrame) {
		return false
	}
	for i, b := range AckFrame {
		if buf[i] != b {
			return false
		}
	}
	return true
}
