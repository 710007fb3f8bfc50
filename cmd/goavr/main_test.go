// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goavr/pkg/harness"
	"github.com/lassandro/goavr/pkg/ihex"
)

func writeFirmware(t *testing.T, words ...uint16) string {
	t.Helper()

	image := make([]byte, 0, len(words)*2)
	for _, w := range words {
		image = append(image, byte(w), byte(w>>8))
	}

	var buf bytes.Buffer
	require.NoError(t, ihex.Encode(&buf, 0, image, ihex.DefaultWidth))

	path := filepath.Join(t.TempDir(), "firmware.hex")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExitCode(t *testing.T) {
	type testCase struct {
		Name string
		Cfg  func(cfg *harness.Config)
		Path func(t *testing.T) string
		Code int
	}

	sentinel := func(t *testing.T) string {
		return writeFirmware(t,
			0xE004,         // ldi r16, 4
			0x9300, 0x00C6, // sts UDR0, r16
			0x9478, 0xCFFF, // sei; rjmp .-2
		)
	}

	testCases := []testCase{
		{
			Name: "sentinel",
			Path: sentinel,
			Code: 0,
		},
		{
			Name: "done",
			Path: func(t *testing.T) string {
				return writeFirmware(t, 0x94F8, 0x9588) // cli; sleep
			},
			Code: 0,
		},
		{
			Name: "crashed",
			Path: func(t *testing.T) string {
				return writeFirmware(t, 0x0000, 0xFFFF)
			},
			Code: 0,
		},
		{
			Name: "unknown mcu",
			Cfg:  func(cfg *harness.Config) { cfg.MCU = "attiny13" },
			Path: sentinel,
			Code: 1,
		},
		{
			Name: "bad log level",
			Cfg:  func(cfg *harness.Config) { cfg.LogLevel = "loud" },
			Path: sentinel,
			Code: 1,
		},
		{
			Name: "missing firmware",
			Path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.hex")
			},
			Code: 1,
		},
		{
			Name: "bad checksum",
			Path: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "firmware.hex")
				require.NoError(t, os.WriteFile(
					path, []byte(":0B0000000C9434000C9464000C946418\n:00000001FF\n"), 0o644,
				))
				return path
			},
			Code: 1,
		},
	}

	for _, test := range testCases {
		t.Run(test.Name, func(t *testing.T) {
			cfg := harness.DefaultConfig()
			cfg.LogLevel = "error"
			if test.Cfg != nil {
				test.Cfg(&cfg)
			}

			assert.Equal(t, test.Code, goavr(cfg, false, test.Path(t)))
		})
	}
}

func TestRunArgs(t *testing.T) {
	path := writeFirmware(t, 0x94F8, 0x9588)

	tests := []struct {
		Name string
		Args []string
		Code int
	}{
		{"missing firmware argument", []string{}, 1},
		{"extra argument", []string{path, path}, 1},
		{"unknown flag", []string{"--bogus", path}, 1},
		{"unknown mcu flag", []string{"--mcu", "attiny13", path}, 1},
		{"firmware", []string{"--log-level", "error", path}, 0},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Code, run(test.Args))
		})
	}
}
