// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package pn532

import (
	"fmt"

	staticnested "github.com/redbeanw/go-staticnested"
)

// Link is the byte-level command channel a transport provides: it sends
// one PN532 command and returns the response payload after the TFI and
// response-code bytes have been validated.
type Link interface {
	Command(cmd byte, args []byte) ([]byte, error)
	Close() error
	Port() string
}

// Status codes of InCommunicateThru replies.
const (
	statusMask    = 0x3F
	statusOK      = 0x00
	statusTimeout = 0x01
)

// Chip drives a PN532 as a raw-bit transceiver over any Link. Raw mode is
// entered by switching off the CIU's automatic CRC and parity handling;
// after that the host owns the complete bit stream.
type Chip struct {
	link Link

	easyFraming  bool
	handleCRC    bool
	handleParity bool
	lastTxBits   byte
}

// NewChip wraps a link. Hardware defaults have all the automatic handling
// enabled, exactly what EnterRawMode must undo.
func NewChip(link Link) *Chip {
	return &Chip{
		link:         link,
		easyFraming:  true,
		handleCRC:    true,
		handleParity: true,
	}
}

// Init puts the SAM into normal mode so the chip answers as an initiator.
func (c *Chip) Init() error {
	if _, err := c.link.Command(CmdSAMConfiguration, []byte{0x01, 0x14, 0x01}); err != nil {
		return fmt.Errorf("SAMConfiguration: %w", err)
	}
	return nil
}

// ReadRegister reads one CIU register.
func (c *Chip) ReadRegister(addr uint16) (byte, error) {
	resp, err := c.link.Command(CmdReadRegister, []byte{byte(addr >> 8), byte(addr)})
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("ReadRegister %04X: empty reply: %w", addr, ErrFrameCorrupted)
	}
	return resp[0], nil
}

// WriteRegister writes one CIU register.
func (c *Chip) WriteRegister(addr uint16, value byte) error {
	_, err := c.link.Command(CmdWriteRegister, []byte{byte(addr >> 8), byte(addr), value})
	return err
}

// updateRegister sets or clears mask bits in a register.
func (c *Chip) updateRegister(addr uint16, mask byte, set bool) error {
	value, err := c.ReadRegister(addr)
	if err != nil {
		return err
	}
	if set {
		value |= mask
	} else {
		value &^= mask
	}
	return c.WriteRegister(addr, value)
}

// SetProperty switches one transceiver property, mapping it onto the CIU
// registers where the chip implements it.
func (c *Chip) SetProperty(p staticnested.Property, on bool) error {
	switch p {
	case staticnested.PropertyEasyFraming:
		c.easyFraming = on
		return nil
	case staticnested.PropertyHandleCRC:
		if err := c.updateRegister(RegCIUTxMode, BitTxCRCEn, on); err != nil {
			return err
		}
		if err := c.updateRegister(RegCIURxMode, BitRxCRCEn, on); err != nil {
			return err
		}
		c.handleCRC = on
		return nil
	case staticnested.PropertyHandleParity:
		// ParityDisable is inverted: setting the bit turns parity handling off.
		if err := c.updateRegister(RegCIUManualRCV, BitParityDisable, !on); err != nil {
			return err
		}
		c.handleParity = on
		return nil
	}
	return fmt.Errorf("unknown property %d", p)
}

// TransceiveBits exchanges a raw bit string with the tag through
// InCommunicateThru.
func (c *Chip) TransceiveBits(tx []byte, txBits int) ([]byte, int, error) {
	if c.easyFraming || c.handleCRC || c.handleParity {
		return nil, 0, staticnested.NewTransportError("transceive", c.link.Port(),
			fmt.Errorf("device not in raw mode"))
	}

	lastBits := byte(txBits % 8)
	if lastBits != c.lastTxBits {
		if err := c.WriteRegister(RegCIUBitFraming, lastBits); err != nil {
			return nil, 0, err
		}
		c.lastTxBits = lastBits
	}

	buf := tx[:(txBits+7)/8]
	resp, err := c.link.Command(CmdInCommunicateThru, buf)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 1 {
		return nil, 0, staticnested.NewTransportError("transceive", c.link.Port(), ErrFrameCorrupted)
	}

	switch resp[0] & statusMask {
	case statusOK:
	case statusTimeout:
		return nil, 0, staticnested.NewTransportError("transceive", c.link.Port(), staticnested.ErrTransportAbsent)
	default:
		return nil, 0, staticnested.NewTransportError("transceive", c.link.Port(),
			fmt.Errorf("chip error %02X: %w", resp[0]&statusMask, staticnested.ErrProtocolViolation))
	}

	data := resp[1:]
	return data, len(data) * 8, nil
}

// Close releases the link.
func (c *Chip) Close() error {
	return c.link.Close()
}
