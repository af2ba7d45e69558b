// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

// nfc-staticnested recovers the unknown sector keys of a MIFARE Classic
// tag with a broken PRNG, starting from a single known key, and can dump
// the full card afterwards.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	staticnested "github.com/redbeanw/go-staticnested"
	"github.com/redbeanw/go-staticnested/detection"
	"github.com/redbeanw/go-staticnested/transport/i2c"
	"github.com/redbeanw/go-staticnested/transport/pcsc"
	"github.com/redbeanw/go-staticnested/transport/spi"
	"github.com/redbeanw/go-staticnested/transport/uart"
)

// keyList collects repeatable -k flags.
type keyList []string

func (k *keyList) String() string {
	return strings.Join(*k, ",")
}

func (k *keyList) Set(value string) error {
	*k = append(*k, value)
	return nil
}

var (
	flagConnString    string
	flagCardType      string
	flagForceDistance bool
	flagDumpKeys      string
	flagDump          string
	flagNoDefaults    bool
	flagKeys          keyList
	flagTargetSector  int
	flagTargetKeyType string
	flagConfig        string
	flagDebug         bool
)

func init() {
	flag.StringVar(&flagConnString, "c", "", "Transport endpoint; empty = autoscan.")
	flag.StringVar(&flagConnString, "connstring", "", "Transport endpoint; empty = autoscan.")
	flag.StringVar(&flagCardType, "m", "1k", "Card type: mini, 1k, 2k or 4k.")
	flag.StringVar(&flagCardType, "mifare-classic", "1k", "Card type: mini, 1k, 2k or 4k.")
	flag.BoolVar(&flagForceDistance, "force-detect-distance", false,
		"Disable optimization for the Nt_1 = 0x009080A2 tag.")
	flag.StringVar(&flagDumpKeys, "dump-keys", "", "Dump all valid keys to a text file.")
	flag.StringVar(&flagDump, "d", "", "Dump the full card into a binary file.")
	flag.StringVar(&flagDump, "dump", "", "Dump the full card into a binary file.")
	flag.BoolVar(&flagNoDefaults, "no-default-keys", false, "Skip the 4 well-known default keys.")
	flag.Var(&flagKeys, "k", "Add a key to the default key test list. (repeatable)")
	flag.Var(&flagKeys, "key", "Add a key to the default key test list. (repeatable)")
	flag.IntVar(&flagTargetSector, "target-sector", -1,
		"Attack a single sector only; the dump function may fail.")
	flag.StringVar(&flagTargetKeyType, "target-key-type", "", "Target key type: a or b.")
	flag.StringVar(&flagConfig, "config", "", "Optional YAML config file.")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output.")
}

func main() {
	flag.Parse()
	if flagDebug {
		staticnested.SetDebugEnabled(true)
	}
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	if flagConfig != "" {
		cfg, err := staticnested.LoadConfig(flagConfig)
		if err != nil {
			return err
		}
		applyConfig(cfg)
	}

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	transceiver, err := openTransceiver(flagConnString)
	if err != nil {
		return err
	}
	defer func() { _ = transceiver.Close() }()

	if err := staticnested.EnterRawMode(transceiver); err != nil {
		return err
	}

	initiator := staticnested.NewInitiator(transceiver)
	host := staticnested.NewHost(initiator, *opts)

	keys, err := host.Run()
	if err != nil {
		return err
	}

	fmt.Println("Key chain:")
	for _, key := range keys {
		fmt.Printf("* %012X\n", key)
	}

	if flagDumpKeys != "" {
		if err := writeKeys(flagDumpKeys, keys); err != nil {
			return err
		}
	}

	if flagDump != "" {
		dumper := staticnested.NewDumper(initiator, host.Card(), opts.Type, keys)
		image, err := dumper.Dump()
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagDump, image, 0o644); err != nil {
			return fmt.Errorf("write dump: %w", err)
		}
		fmt.Printf("Card image written to %s. (%d bytes)\n", flagDump, len(image))
	}

	return nil
}

// applyConfig fills in defaults from the config file where no flag was
// given.
func applyConfig(cfg *staticnested.FileConfig) {
	if flagConnString == "" {
		flagConnString = cfg.ConnString
	}
	cardFlagSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "m" || f.Name == "mifare-classic" {
			cardFlagSet = true
		}
	})
	if !cardFlagSet && cfg.Card != "" {
		flagCardType = cfg.Card
	}
	if flagDumpKeys == "" {
		flagDumpKeys = cfg.DumpKeys
	}
	if flagDump == "" {
		flagDump = cfg.Dump
	}
	flagKeys = append(flagKeys, cfg.Keys...)
}

func buildOptions() (*staticnested.Options, error) {
	cardType, err := staticnested.ParseCardType(flagCardType)
	if err != nil {
		return nil, err
	}

	opts := &staticnested.Options{
		Type:                cardType,
		ForceDetectDistance: flagForceDistance,
		SkipDefaultKeys:     flagNoDefaults,
	}

	for _, raw := range flagKeys {
		key, err := staticnested.ParseKey(raw)
		if err != nil {
			return nil, err
		}
		opts.UserKeys = append(opts.UserKeys, key)
	}

	if (flagTargetSector >= 0) != (flagTargetKeyType != "") {
		return nil, fmt.Errorf("--target-sector and --target-key-type must be provided together: %w",
			staticnested.ErrPrecondition)
	}
	if flagTargetSector >= 0 {
		if flagTargetSector > 255 {
			return nil, fmt.Errorf("target sector out of range: %w", staticnested.ErrPrecondition)
		}
		sector := uint8(flagTargetSector)
		opts.TargetSector = &sector

		var keyType staticnested.KeyType
		switch strings.ToLower(flagTargetKeyType) {
		case "a":
			keyType = staticnested.KeyA
		case "b":
			keyType = staticnested.KeyB
		default:
			return nil, fmt.Errorf("target key type must be a or b: %w", staticnested.ErrPrecondition)
		}
		opts.TargetKeyType = &keyType
	}

	return opts, nil
}

// openTransceiver resolves a libnfc-style connection string. An empty
// string autoscans for a serial reader.
func openTransceiver(connstring string) (staticnested.Transceiver, error) {
	if connstring == "" {
		port, err := detection.Autoscan()
		if err != nil {
			return nil, err
		}
		fmt.Printf("NFC device opened: pn532_uart:%s\n", port)
		return uart.New(port)
	}

	scheme, path, _ := strings.Cut(connstring, ":")
	switch scheme {
	case "pn532_uart":
		fmt.Printf("NFC device opened: %s\n", connstring)
		return uart.New(path)
	case "pn532_i2c":
		fmt.Printf("NFC device opened: %s\n", connstring)
		return i2c.New(path)
	case "pn532_spi":
		fmt.Printf("NFC device opened: %s\n", connstring)
		return spi.New(path)
	case "acr122_pcsc":
		fmt.Printf("NFC device opened: %s\n", connstring)
		return pcsc.New(path)
	}
	// A bare path is treated as a serial port.
	fmt.Printf("NFC device opened: pn532_uart:%s\n", connstring)
	return uart.New(connstring)
}

func writeKeys(path string, keys []uint64) error {
	var sb strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&sb, "%012X\n", key)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write keys: %w", err)
	}
	fmt.Printf("Keys written to %s.\n", path)
	return nil
}
