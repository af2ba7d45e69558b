// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package staticnested_test

import (
	"testing"

	staticnested "github.com/redbeanw/go-staticnested"
	nfctest "github.com/redbeanw/go-staticnested/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecuteRecoversKey runs the complete attack against the virtual tag:
// calibration, nonce-pair capture, parallel recovery, intersection and
// online verification must converge on the target sector's real key.
func TestExecuteRecoversKey(t *testing.T) {
	if testing.Short() {
		t.Skip("full state recovery is expensive")
	}
	t.Parallel()

	const secretKey = 0x4A8C6D2F31B0
	tag := nfctest.NewVirtual1K(nil)
	tag.SetSectorKeys(1, secretKey, secretKey)
	tr := nfctest.NewTransceiver(tag)
	require.NoError(t, staticnested.EnterRawMode(tr))
	in := staticnested.NewInitiator(tr)

	card, err := in.SelectCard(nil)
	require.NoError(t, err)
	require.NotNil(t, card)

	result, err := staticnested.Execute(
		in, card,
		staticnested.SectorToBlock(0), staticnested.KeyA, 0xFFFFFFFFFFFF,
		staticnested.SectorToBlock(1), staticnested.KeyA,
		false,
	)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, uint64(secretKey), result.Key)
}

// TestExecuteKeyB exercises the Key B path of the attack.
func TestExecuteKeyB(t *testing.T) {
	if testing.Short() {
		t.Skip("full state recovery is expensive")
	}
	t.Parallel()

	const secretKey = 0x5B9D7E3F42C1
	tag := nfctest.NewVirtual1K(nil)
	tag.SetSectorKeys(3, 0xFFFFFFFFFFFF, secretKey)
	tr := nfctest.NewTransceiver(tag)
	require.NoError(t, staticnested.EnterRawMode(tr))
	in := staticnested.NewInitiator(tr)

	card, err := in.SelectCard(nil)
	require.NoError(t, err)

	result, err := staticnested.Execute(
		in, card,
		staticnested.SectorToBlock(0), staticnested.KeyA, 0xFFFFFFFFFFFF,
		staticnested.SectorToBlock(3), staticnested.KeyB,
		false,
	)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, uint64(secretKey), result.Key)
}

// TestExecuteTagMovedOut checks the fatal conversion when the tag
// disappears mid-attack.
func TestExecuteTagMovedOut(t *testing.T) {
	t.Parallel()

	tag := nfctest.NewVirtual1K(nil)
	tr := nfctest.NewTransceiver(tag)
	require.NoError(t, staticnested.EnterRawMode(tr))
	in := staticnested.NewInitiator(tr)

	card, err := in.SelectCard(nil)
	require.NoError(t, err)

	tag.Present = false
	_, err = staticnested.Execute(
		in, card,
		staticnested.SectorToBlock(0), staticnested.KeyA, 0xFFFFFFFFFFFF,
		staticnested.SectorToBlock(1), staticnested.KeyA,
		false,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, staticnested.ErrTagMovedOut)
}
