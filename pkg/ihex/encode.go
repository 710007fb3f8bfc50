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

package ihex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/lassandro/goavr/pkg/encoding"
)

const DefaultWidth = 16

func writeRecord(w *bufio.Writer, addr uint16, rtype byte, payload []byte) error {
	raw := make([]byte, 0, len(payload)+5)
	raw = append(raw, byte(len(payload)), byte(addr>>8), byte(addr), rtype)
	raw = append(raw, payload...)
	raw = append(raw, encoding.Checksum(raw))

	_, err := fmt.Fprintf(w, ":%s\n", strings.ToUpper(hex.EncodeToString(raw)))
	return err
}

// Encode writes data, which belongs at base, as data records of at most
// width bytes followed by an end-of-file record. Extended linear address
// records are emitted whenever a record falls in a new 64 KiB page.
func Encode(w io.Writer, base uint32, data []byte, width int) error {
	if width <= 0 || width > 0xFF {
		width = DefaultWidth
	}

	out := bufio.NewWriter(w)
	page := uint32(0)

	for len(data) > 0 {
		n := width
		if n > len(data) {
			n = len(data)
		}

		// records never straddle a page boundary
		if room := 0x10000 - (base & 0xFFFF); uint32(n) > room {
			n = int(room)
		}

		if base>>16 != page {
			page = base >> 16
			if err := writeRecord(
				out, 0, RECORD_EXT_LINEAR, []byte{byte(page >> 8), byte(page)},
			); err != nil {
				return err
			}
		}

		if err := writeRecord(out, uint16(base), RECORD_DATA, data[:n]); err != nil {
			return err
		}

		base += uint32(n)
		data = data[n:]
	}

	if err := writeRecord(out, 0, RECORD_EOF, nil); err != nil {
		return err
	}

	return out.Flush()
}
