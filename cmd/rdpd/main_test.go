// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunExitCode(t *testing.T) {
	defer func(args []string) { os.Args = args }(os.Args)

	missing := filepath.Join(t.TempDir(), "missing.bin")
	tests := [][]string{
		{"rdpd"},
		{"rdpd", filepath.Join(t.TempDir(), "absent.toml")},
		{"rdpd", "5000", "served.bin", "two", "0"},
		{"rdpd", "0", missing, "1", "0"},
	}

	for _, args := range tests {
		os.Args = args
		if code := run(); code != 1 {
			t.Fatalf("%v: expected := 1, got := %d", args, code)
		}
	}
}
