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

package encoding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lassandro/goavr/pkg/encoding"
)

func TestDecodeNumber(t *testing.T) {
	type testCase struct {
		Input  string
		Output int64
		Fail   bool
	}

	testCases := []testCase{
		{Input: "0x2A", Output: 0x2A},
		{Input: "x2A", Output: 0x2A},
		{Input: "$FF", Output: 0xFF},
		{Input: "42", Output: 42},
		{Input: "#42", Output: 42},
		{Input: "-7", Output: -7},
		{Input: "0xZZ", Fail: true},
		{Input: "12x", Fail: true},
		{Input: "abc", Fail: true},
	}

	for _, test := range testCases {
		t.Run(test.Input, func(t *testing.T) {
			value, err := encoding.DecodeNumber(test.Input)

			if test.Fail {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, test.Output, value)
		})
	}
}

func TestChecksum(t *testing.T) {
	record := []byte{0x0B, 0x00, 0x00, 0x00, 0x0C, 0x94, 0x34, 0x00, 0x0C, 0x94, 0x64, 0x00, 0x0C, 0x94, 0x64}

	assert.Equal(t, byte(0x19), encoding.Checksum(record))
	assert.Equal(t, byte(0), encoding.Sum8(append(record, encoding.Checksum(record))))
	assert.Equal(t, byte(0), encoding.Checksum(nil))
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, uint16(0xFFFF), encoding.SignExtend(0xFFF, 12))
	assert.Equal(t, uint16(0x07FF), encoding.SignExtend(0x7FF, 12))
	assert.Equal(t, uint16(0xFFC0), encoding.SignExtend(0x40, 7))
	assert.Equal(t, uint16(0x003F), encoding.SignExtend(0x3F, 7))
}
