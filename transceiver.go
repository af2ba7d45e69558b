// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import "fmt"

// Property is a transceiver device property. All three must be off for the
// initiator to run: the framing layer owns CRC, parity and cipher handling.
type Property int

// Transceiver properties.
const (
	// PropertyEasyFraming enables the reader's automatic higher-level
	// framing (target selection, standard frames).
	PropertyEasyFraming Property = iota
	// PropertyHandleCRC enables hardware CRC append/verify.
	PropertyHandleCRC
	// PropertyHandleParity enables hardware per-byte parity.
	PropertyHandleParity
)

func (p Property) String() string {
	switch p {
	case PropertyEasyFraming:
		return "easy_framing"
	case PropertyHandleCRC:
		return "handle_crc"
	case PropertyHandleParity:
		return "handle_parity"
	}
	return "unknown"
}

// Transceiver is the opaque byte-framed transport: it exchanges raw bit
// strings with the tag. Implementations are not thread-safe; within the
// attack only one goroutine touches the transceiver at a time.
//
// Errors wrapping ErrTransportAbsent mean the tag is absent or stayed
// silent; every other error propagates as a transport fault.
type Transceiver interface {
	// TransceiveBits sends txBits bits of tx and returns the reply as a raw
	// bit string.
	TransceiveBits(tx []byte, txBits int) (rx []byte, rxBits int, err error)

	// SetProperty switches a device property on or off.
	SetProperty(p Property, on bool) error

	// Close releases the underlying device.
	Close() error
}

// EnterRawMode disables easy framing, hardware CRC and hardware parity so
// the framing layer fully owns the bit stream.
func EnterRawMode(t Transceiver) error {
	for _, p := range []Property{PropertyEasyFraming, PropertyHandleCRC, PropertyHandleParity} {
		if err := t.SetProperty(p, false); err != nil {
			return fmt.Errorf("disable %s: %w", p, err)
		}
	}
	return nil
}
