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

package debugger

import (
	"log/slog"
	"net"
)

type WatchpointType uint

const (
	WriteWatch WatchpointType = iota + 2
	ReadWatch
	ReadWriteWatch
)

// Watchpoint covers Size bytes of data space starting at Addr.
type Watchpoint struct {
	Addr uint16
	Size uint16
	Type WatchpointType
}

func (wp Watchpoint) contains(addr uint16) bool {
	return addr >= wp.Addr && addr-wp.Addr < wp.Size
}

// Breakpoint is a flash byte address.
type Breakpoint struct {
	Addr uint32
}

// Debugger serves one GDB remote protocol client. It implements
// machine.MachineDebugger.
type Debugger struct {
	// Break stops the core before its next instruction.
	Break bool

	Breakpoints []Breakpoint
	Watchpoints []Watchpoint

	Log *slog.Logger

	listener net.Listener
	conn     net.Conn
	packets  chan string

	stepping bool
	stopped  string
}

// AVR addresses as seen by gdb: flash from 0, data space from 0x800000.
const (
	GDB_DATA_OFFSET  uint32 = 0x800000
	GDB_EEPROM_START uint32 = 0x810000
)

// Register numbers used by avr-gdb
const (
	GDB_REG_SREG = 32
	GDB_REG_SP   = 33
	GDB_REG_PC   = 34
)

const (
	SIGINT  = 0x02
	SIGTRAP = 0x05
)
