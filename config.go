// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Flags always win over
// file values; the file just supplies defaults for repeated runs against
// the same reader.
type FileConfig struct {
	ConnString string   `yaml:"connstring"`
	Card       string   `yaml:"card"`
	Keys       []string `yaml:"keys"`
	DumpKeys   string   `yaml:"dump_keys"`
	Dump       string   `yaml:"dump"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseKey parses a hex key and enforces the 48-bit range.
func ParseKey(s string) (uint64, error) {
	key, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q is not hex: %w", s, ErrPrecondition)
	}
	if key >= 1<<48 {
		return 0, fmt.Errorf("the input key must be 48 bits, for example: A1A2A3A4A5A6: %w", ErrPrecondition)
	}
	return key, nil
}

// ParseCardType maps the -m flag values onto card layouts.
func ParseCardType(s string) (CardType, error) {
	switch s {
	case "mini":
		return ClassicMini, nil
	case "1k":
		return Classic1K, nil
	case "2k":
		return Classic2K, nil
	case "4k":
		return Classic4K, nil
	}
	return Classic1K, fmt.Errorf("unknown card type %q: %w", s, ErrPrecondition)
}
