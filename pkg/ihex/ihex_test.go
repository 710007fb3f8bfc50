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

package ihex_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/ihex"
)

// rec builds a record line with a correct checksum.
func rec(addr uint16, rtype byte, payload ...byte) string {
	raw := []byte{byte(len(payload)), byte(addr >> 8), byte(addr), rtype}
	raw = append(raw, payload...)
	raw = append(raw, encoding.Checksum(raw))
	return ":" + strings.ToUpper(hex.EncodeToString(raw))
}

const eof = ":00000001FF"

type testCase struct {
	Name  string
	Input []string
	Base  uint32
	Data  []byte
}

type failCase struct {
	Name  string
	Input []string
	Error error
	Line  int
}

func TestParseSuccess(t *testing.T) {
	tests := []testCase{
		{
			Name: "Vector table",
			Input: []string{
				":0B0000000C9434000C9464000C946419",
				eof,
			},
			Base: 0,
			Data: []byte{
				0x0C, 0x94, 0x34, 0x00, 0x0C, 0x94, 0x64, 0x00,
				0x0C, 0x94, 0x64,
			},
		},
		{
			Name:  "Offset base",
			Input: []string{rec(0x0100, ihex.RECORD_DATA, 0xAA, 0xBB), eof},
			Base:  0x0100,
			Data:  []byte{0xAA, 0xBB},
		},
		{
			Name: "Gap is erased",
			Input: []string{
				rec(0x0004, ihex.RECORD_DATA, 0x05),
				rec(0x0000, ihex.RECORD_DATA, 0x01, 0x02),
				eof,
			},
			Base: 0,
			Data: []byte{0x01, 0x02, 0xFF, 0xFF, 0x05},
		},
		{
			Name: "Later record wins",
			Input: []string{
				rec(0x0000, ihex.RECORD_DATA, 0x01, 0x02, 0x03),
				rec(0x0001, ihex.RECORD_DATA, 0x22),
				eof,
			},
			Data: []byte{0x01, 0x22, 0x03},
		},
		{
			Name: "Extended linear address",
			Input: []string{
				":020000040001F9",
				rec(0x0010, ihex.RECORD_DATA, 0x01, 0x02),
				eof,
			},
			Base: 0x00010010,
			Data: []byte{0x01, 0x02},
		},
		{
			Name: "Extended segment address",
			Input: []string{
				rec(0x0000, ihex.RECORD_EXT_SEGMENT, 0x10, 0x00),
				rec(0x0002, ihex.RECORD_DATA, 0x7F),
				eof,
			},
			Base: 0x00010002,
			Data: []byte{0x7F},
		},
		{
			Name: "Blank lines and CRLF",
			Input: []string{
				"",
				rec(0x0000, ihex.RECORD_DATA, 0x11) + "\r",
				"   ",
				eof + "\r",
			},
			Data: []byte{0x11},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			image, err := ihex.Parse(
				strings.NewReader(strings.Join(test.Input, "\n")),
			)
			require.NoError(t, err)
			assert.Equal(t, test.Base, image.Base)
			assert.Equal(t, uint32(len(test.Data)), image.Size)
			assert.Equal(t, test.Data, image.Data)
		})
	}
}

func TestParseFailure(t *testing.T) {
	tests := []failCase{
		{
			Name:  "Corrupt checksum",
			Input: []string{":0B0000000C9434000C9464000C946418", eof},
			Error: ihex.ErrChecksum,
			Line:  1,
		},
		{
			Name:  "Corrupt payload",
			Input: []string{":0B0000000C9434000C9464000C946519", eof},
			Error: ihex.ErrChecksum,
			Line:  1,
		},
		{
			Name:  "Missing start code",
			Input: []string{"0B0000000C9434000C9464000C946419", eof},
			Error: ihex.ErrMalformed,
			Line:  1,
		},
		{
			Name:  "Invalid digit",
			Input: []string{rec(0, ihex.RECORD_DATA, 1), ":0100000G01FE", eof},
			Error: ihex.ErrMalformed,
			Line:  2,
		},
		{
			Name:  "Odd digit count",
			Input: []string{":0100000001F", eof},
			Error: ihex.ErrMalformed,
			Line:  1,
		},
		{
			Name:  "Count mismatch",
			Input: []string{":02000000010000FD", eof},
			Error: ihex.ErrMalformed,
			Line:  1,
		},
		{
			Name:  "Unsupported type",
			Input: []string{rec(0, ihex.RECORD_DATA, 1), ":00000006FA", eof},
			Error: ihex.ErrUnsupportedRecord,
			Line:  2,
		},
		{
			Name:  "Missing end of file",
			Input: []string{rec(0, ihex.RECORD_DATA, 1)},
			Error: ihex.ErrMalformed,
		},
		{
			Name:  "No data",
			Input: []string{eof},
			Error: ihex.ErrEmpty,
		},
		{
			Name:  "Short address record",
			Input: []string{rec(0, ihex.RECORD_EXT_LINEAR, 1), eof},
			Error: ihex.ErrMalformed,
			Line:  1,
		},
		{
			Name: "Data past 4 GiB",
			Input: []string{
				":02000004FFFFFC",
				":02FFFF00AABB9B",
				":020000040000FA",
				":01001000CC23",
				eof,
			},
			Error: ihex.ErrMalformed,
			Line:  2,
		},
		{
			Name: "Span over default limit",
			Input: []string{
				rec(0, ihex.RECORD_DATA, 0xAA),
				rec(0, ihex.RECORD_EXT_LINEAR, 0xFF, 0xF0),
				rec(0, ihex.RECORD_DATA, 0xBB),
				eof,
			},
			Error: ihex.ErrTooLarge,
			Line:  4,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			image, err := ihex.Parse(
				strings.NewReader(strings.Join(test.Input, "\n")),
			)
			require.Error(t, err)
			assert.Nil(t, image)
			assert.ErrorIs(t, err, test.Error)

			var loadErr *ihex.LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, test.Line, loadErr.Line)
		})
	}
}

func TestStartRecord(t *testing.T) {
	image, err := ihex.Parse(strings.NewReader(strings.Join([]string{
		rec(0, ihex.RECORD_DATA, 0x00, 0x00),
		rec(0, ihex.RECORD_START_LINEAR, 0x00, 0x00, 0x01, 0x00),
		eof,
	}, "\n")))
	require.NoError(t, err)
	assert.True(t, image.HasStart)
	assert.Equal(t, uint32(0x100), image.Start)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blink.hex")

	require.NoError(t, os.WriteFile(
		path, []byte(":0B0000000C9434000C9464000C946419\n"+eof+"\n"), 0666,
	))

	image, err := ihex.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), image.Base)
	assert.Equal(t, uint32(11), image.Size)

	_, err = ihex.Load(filepath.Join(dir, "missing.hex"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.hex")
}

func TestLoadLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sparse.hex")

	input := strings.Join([]string{
		rec(0x0000, ihex.RECORD_DATA, 0x0C, 0x94),
		rec(0x0100, ihex.RECORD_DATA, 0xFF, 0xCF),
		eof,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(input), 0666))

	image, err := ihex.LoadLimit(path, 0x102)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x102), image.Size)

	image, err = ihex.LoadLimit(path, 0x101)
	require.Error(t, err)
	assert.Nil(t, image)
	assert.ErrorIs(t, err, ihex.ErrTooLarge)

	var loadErr *ihex.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)
	assert.Equal(t, 3, loadErr.Line)

	image, err = ihex.ParseLimit(strings.NewReader(input), 0x101)
	require.ErrorIs(t, err, ihex.ErrTooLarge)
	assert.Nil(t, image)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(328))

	for _, base := range []uint32{0, 0x0100, 0x7FF0, 0xFFF8} {
		data := make([]byte, 1+rng.Intn(300))
		rng.Read(data)

		var first bytes.Buffer
		require.NoError(t, ihex.Encode(&first, base, data, ihex.DefaultWidth))

		image, err := ihex.Parse(bytes.NewReader(first.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, base, image.Base)
		assert.Equal(t, data, image.Data)

		var second bytes.Buffer
		require.NoError(t, ihex.Encode(&second, image.Base, image.Data, ihex.DefaultWidth))
		assert.Equal(t, first.String(), second.String())
	}
}

func TestEncodePageBoundary(t *testing.T) {
	var buf bytes.Buffer

	data := []byte{1, 2, 3, 4}
	require.NoError(t, ihex.Encode(&buf, 0xFFFE, data, 16))

	assert.Equal(t, strings.Join([]string{
		rec(0xFFFE, ihex.RECORD_DATA, 1, 2),
		":020000040001F9",
		rec(0x0000, ihex.RECORD_DATA, 3, 4),
		eof,
	}, "\n")+"\n", buf.String())
}
