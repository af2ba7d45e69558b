// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package testing

import (
	"fmt"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/internal/syncutil"
)

// Transceiver is an in-memory transceiver bound to a virtual tag. Like
// real hardware it starts with easy framing, CRC and parity handling
// enabled, so tests exercise EnterRawMode the same way the tool does.
type Transceiver struct {
	Tag *VirtualTag

	mu     syncutil.Mutex
	props  map[staticnested.Property]bool
	closed bool

	// Exchanges counts frames passed to the tag, silent replies included;
	// calls rejected as closed or not in raw mode are not counted.
	Exchanges int
}

// NewTransceiver wires a virtual tag to a transceiver.
func NewTransceiver(tag *VirtualTag) *Transceiver {
	return &Transceiver{
		Tag: tag,
		props: map[staticnested.Property]bool{
			staticnested.PropertyEasyFraming:  true,
			staticnested.PropertyHandleCRC:    true,
			staticnested.PropertyHandleParity: true,
		},
	}
}

// TransceiveBits exchanges one raw frame with the virtual tag.
func (t *Transceiver) TransceiveBits(tx []byte, txBits int) ([]byte, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, 0, staticnested.NewTransportError("transceive", "virtual", fmt.Errorf("transceiver closed"))
	}
	for p, on := range t.props {
		if on {
			return nil, 0, staticnested.NewTransportError("transceive", "virtual",
				fmt.Errorf("property %s still enabled, raw mode required", p))
		}
	}

	t.Exchanges++
	rx, rxBits, present := t.Tag.Transceive(tx, txBits)
	if !present {
		return nil, 0, staticnested.NewTransportError("transceive", "virtual", staticnested.ErrTransportAbsent)
	}
	return rx, rxBits, nil
}

// SetProperty records a property change.
func (t *Transceiver) SetProperty(p staticnested.Property, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.props[p] = on
	return nil
}

// Close marks the transceiver unusable.
func (t *Transceiver) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
