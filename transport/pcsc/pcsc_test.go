// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package pcsc

import (
	"testing"

	"github.com/redbeanw/go-staticnested/internal/pn532"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDirectTransmit(t *testing.T) {
	t.Parallel()
	apdu := buildDirectTransmit(pn532.CmdInCommunicateThru, []byte{0x26})

	// CLA INS P1 P2 Lc D4 CMD ARG
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0x00, 0x03, 0xD4, 0x42, 0x26}, apdu)
}

func TestBuildDirectTransmitNoArgs(t *testing.T) {
	t.Parallel()
	apdu := buildDirectTransmit(pn532.CmdGetFirmwareVersion, nil)
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0x00, 0x02, 0xD4, 0x02}, apdu)
}

func TestParseDirectResponseSuccess(t *testing.T) {
	t.Parallel()
	resp := []byte{0xD5, 0x03, 0x32, 0x01, 0x06, 0x07, 0x90, 0x00}

	data, err := parseDirectResponse(pn532.CmdGetFirmwareVersion, resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x32, 0x01, 0x06, 0x07}, data)
}

func TestParseDirectResponseEmptyData(t *testing.T) {
	t.Parallel()
	resp := []byte{0xD5, 0x15, 0x90, 0x00}

	data, err := parseDirectResponse(pn532.CmdSAMConfiguration, resp)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestParseDirectResponseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		contains string
		resp     []byte
	}{
		{
			name:     "too short",
			resp:     []byte{0x90},
			contains: "too short",
		},
		{
			name:     "reader failure status",
			resp:     []byte{0xD5, 0x03, 0x63, 0x00},
			contains: "reader status 6300",
		},
		{
			name:     "wrong TFI",
			resp:     []byte{0xD4, 0x03, 0x90, 0x00},
			contains: "response header",
		},
		{
			name:     "wrong response code",
			resp:     []byte{0xD5, 0x07, 0x90, 0x00},
			contains: "response header",
		},
		{
			name:     "status word only",
			resp:     []byte{0x90, 0x00},
			contains: "response header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseDirectResponse(pn532.CmdGetFirmwareVersion, tt.resp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
