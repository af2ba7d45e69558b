// go-staticnested
// Copyright (c) 2026 RedbeanW and contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-staticnested.

package detection

import "testing"

func TestHintRank(t *testing.T) {
	t.Parallel()
	tests := []struct {
		port   string
		better string
	}{
		{port: "/dev/ttyUSB0", better: "/dev/ttyS0"},
		{port: "/dev/ttyACM0", better: "/dev/ttyS1"},
		{port: "COM3", better: "/dev/random"},
		{port: "/dev/cu.usbserial-1420", better: "/dev/cu.Bluetooth"},
	}
	for _, tt := range tests {
		if hintRank(tt.port) >= hintRank(tt.better) {
			t.Errorf("hintRank(%q) = %d, expected better than %q (%d)",
				tt.port, hintRank(tt.port), tt.better, hintRank(tt.better))
		}
	}
}
