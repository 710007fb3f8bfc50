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

// Package ihex reads and writes firmware images in the Intel HEX record
// format.
package ihex

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lassandro/goavr/pkg/encoding"
)

const (
	RECORD_DATA          byte = 0x00
	RECORD_EOF           byte = 0x01
	RECORD_EXT_SEGMENT   byte = 0x02
	RECORD_START_SEGMENT byte = 0x03
	RECORD_EXT_LINEAR    byte = 0x04
	RECORD_START_LINEAR  byte = 0x05
)

// Unwritten bytes inside the image span read as erased flash.
const Fill byte = 0xFF

var (
	ErrMalformed         = errors.New("malformed record")
	ErrChecksum          = errors.New("bad checksum")
	ErrUnsupportedRecord = errors.New("unsupported record type")
	ErrEmpty             = errors.New("no data records")
	ErrTooLarge          = errors.New("image span too large")
)

// LoadError reports why an image could not be produced. Line is 0 when the
// failure is not tied to a particular record.
type LoadError struct {
	Path string
	Line int
	Err  error
}

func (err *LoadError) Error() string {
	where := err.Path
	if where == "" {
		where = "<input>"
	}

	if err.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", where, err.Line, err.Err)
	}

	return fmt.Sprintf("%s: %v", where, err.Err)
}

func (err *LoadError) Unwrap() error {
	return err.Err
}

// Image is a contiguous memory image. Data[0] belongs at Base.
type Image struct {
	Data []byte
	Base uint32
	Size uint32

	// Start is the entry point from a start address record, if one was present.
	Start    uint32
	HasStart bool
}

type record struct {
	Count   byte
	Addr    uint16
	Type    byte
	Payload []byte
}

func parseRecord(line string) (record, error) {
	var rec record

	if !strings.HasPrefix(line, ":") {
		return rec, fmt.Errorf("%w: missing start code", ErrMalformed)
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// count, address (2), type, checksum
	if len(raw) < 5 {
		return rec, fmt.Errorf("%w: record too short", ErrMalformed)
	}

	rec.Count = raw[0]
	if int(rec.Count)+5 != len(raw) {
		return rec, fmt.Errorf(
			"%w: byte count %d does not match %d payload bytes",
			ErrMalformed, rec.Count, len(raw)-5,
		)
	}

	if sum := encoding.Sum8(raw); sum != 0 {
		return rec, fmt.Errorf(
			"%w: want %#02x, have %#02x",
			ErrChecksum,
			encoding.Checksum(raw[:len(raw)-1]),
			raw[len(raw)-1],
		)
	}

	rec.Addr = uint16(raw[1])<<8 | uint16(raw[2])
	rec.Type = raw[3]
	rec.Payload = raw[4 : len(raw)-1]

	return rec, nil
}

type chunk struct {
	addr uint32
	data []byte
}

// DefaultLimit bounds the span of images read by Parse and Load.
const DefaultLimit uint32 = 16 << 20

// Parse reads records from r until the end-of-file record.
func Parse(r io.Reader) (*Image, error) {
	return parse(r, "", DefaultLimit)
}

// ParseLimit is Parse with the distance from the lowest to the highest
// address written capped at limit bytes.
func ParseLimit(r io.Reader, limit uint32) (*Image, error) {
	return parse(r, "", limit)
}

func parse(r io.Reader, path string, limit uint32) (*Image, error) {
	var chunks []chunk
	var image Image
	var offset uint32
	var lineno int

	fail := func(line int, err error) (*Image, error) {
		return nil, &LoadError{Path: path, Line: line, Err: err}
	}

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		lineno++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return fail(lineno, err)
		}

		switch rec.Type {
		case RECORD_DATA:
			if len(rec.Payload) == 0 {
				continue
			}
			addr := uint64(offset) + uint64(rec.Addr)
			if addr+uint64(len(rec.Payload)) > 1<<32 {
				return fail(lineno, fmt.Errorf(
					"%w: %d bytes at %#x pass the end of the address space",
					ErrMalformed, len(rec.Payload), addr,
				))
			}
			chunks = append(chunks, chunk{uint32(addr), rec.Payload})

		case RECORD_EOF:
			if len(chunks) == 0 {
				return fail(0, ErrEmpty)
			}
			if image.Base, image.Data, err = flatten(chunks, limit); err != nil {
				return fail(lineno, err)
			}
			image.Size = uint32(len(image.Data))
			return &image, nil

		case RECORD_EXT_SEGMENT, RECORD_EXT_LINEAR:
			if len(rec.Payload) != 2 {
				return fail(lineno, fmt.Errorf(
					"%w: address record needs 2 bytes, has %d",
					ErrMalformed, len(rec.Payload),
				))
			}
			value := uint32(rec.Payload[0])<<8 | uint32(rec.Payload[1])
			if rec.Type == RECORD_EXT_SEGMENT {
				offset = value << 4
			} else {
				offset = value << 16
			}

		case RECORD_START_SEGMENT, RECORD_START_LINEAR:
			if len(rec.Payload) != 4 {
				return fail(lineno, fmt.Errorf(
					"%w: start record needs 4 bytes, has %d",
					ErrMalformed, len(rec.Payload),
				))
			}
			p := rec.Payload
			if rec.Type == RECORD_START_SEGMENT {
				// CS:IP
				cs := uint32(p[0])<<8 | uint32(p[1])
				ip := uint32(p[2])<<8 | uint32(p[3])
				image.Start = cs<<4 + ip
			} else {
				image.Start = uint32(p[0])<<24 | uint32(p[1])<<16 |
					uint32(p[2])<<8 | uint32(p[3])
			}
			image.HasStart = true

		default:
			return fail(lineno, fmt.Errorf("%w %#02x", ErrUnsupportedRecord, rec.Type))
		}
	}

	if err := scanner.Err(); err != nil {
		return fail(lineno, err)
	}

	return fail(0, fmt.Errorf("%w: missing end-of-file record", ErrMalformed))
}

// Load parses the image stored at path.
func Load(path string) (*Image, error) {
	return LoadLimit(path, DefaultLimit)
}

// LoadLimit is Load with the image span capped at limit bytes.
func LoadLimit(path string, limit uint32) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer file.Close()

	return parse(file, path, limit)
}

// flatten lays chunks out in one buffer from the lowest to the highest
// address written. Later chunks overwrite earlier ones.
func flatten(chunks []chunk, limit uint32) (uint32, []byte, error) {
	low := uint64(chunks[0].addr)
	high := low + uint64(len(chunks[0].data))

	for _, c := range chunks[1:] {
		if uint64(c.addr) < low {
			low = uint64(c.addr)
		}
		if end := uint64(c.addr) + uint64(len(c.data)); end > high {
			high = end
		}
	}

	if high-low > uint64(limit) {
		return 0, nil, fmt.Errorf(
			"%w: %#x-%#x spans %d bytes, limit %d",
			ErrTooLarge, low, high, high-low, limit,
		)
	}

	data := make([]byte, high-low)
	for i := range data {
		data[i] = Fill
	}

	for _, c := range chunks {
		copy(data[uint64(c.addr)-low:], c.data)
	}

	return uint32(low), data, nil
}
