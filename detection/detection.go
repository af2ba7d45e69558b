// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// Package detection finds a plausible reader when no connection string is
// given: it enumerates serial ports and prefers USB serial adapters, which
// is where PN532 boards almost always show up.
package detection

import (
	"errors"
	"sort"
	"strings"

	"go.bug.st/serial"
)

// ErrNoDevice means the scan found nothing usable.
var ErrNoDevice = errors.New("no serial device found")

// usbHints are substrings of port names that indicate USB serial
// adapters, in preference order.
var usbHints = []string{
	"ttyUSB",
	"ttyACM",
	"usbserial",
	"usbmodem",
	"COM",
}

// hintRank orders candidate ports; unmatched ports sort last.
func hintRank(port string) int {
	for i, hint := range usbHints {
		if strings.Contains(port, hint) {
			return i
		}
	}
	return len(usbHints)
}

// ScanSerialPorts returns candidate serial ports, best guess first.
func ScanSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ports, func(i, j int) bool {
		return hintRank(ports[i]) < hintRank(ports[j])
	})
	return ports, nil
}

// Autoscan returns the most plausible reader port.
func Autoscan() (string, error) {
	ports, err := ScanSerialPorts()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if hintRank(port) < len(usbHints) {
			return port, nil
		}
	}
	if len(ports) > 0 {
		return ports[0], nil
	}
	return "", ErrNoDevice
}
