// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `connstring: pn532_uart:/dev/ttyUSB0
card: 4k
keys:
  - A0A1A2A3A4A5
  - FFFFFFFFFFFF
dump_keys: keys.txt
dump: card.bin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "pn532_uart:/dev/ttyUSB0", cfg.ConnString)
	assert.Equal(t, "4k", cfg.Card)
	assert.Equal(t, []string{"A0A1A2A3A4A5", "FFFFFFFFFFFF"}, cfg.Keys)
	assert.Equal(t, "keys.txt", cfg.DumpKeys)
	assert.Equal(t, "card.bin", cfg.Dump)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keys: {not a list"), 0o600))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	t.Parallel()
	key, err := ParseKey("A0A1A2A3A4A5")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xA0A1A2A3A4A5), key)

	_, err = ParseKey("XYZ")
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = ParseKey("1000000000000")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestParseCardType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want CardType
	}{
		{in: "mini", want: ClassicMini},
		{in: "1k", want: Classic1K},
		{in: "2k", want: Classic2K},
		{in: "4k", want: Classic4K},
	}
	for _, tt := range tests {
		got, err := ParseCardType(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseCardType("8k")
	assert.ErrorIs(t, err, ErrPrecondition)
}
