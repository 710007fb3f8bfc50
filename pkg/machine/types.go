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

package machine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lassandro/goavr/pkg/irq"
)

type RunState uint

const (
	StateRunning RunState = iota
	StateStopped
	StateSleeping
	StateCrashed
	StateDone
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateSleeping:
		return "sleeping"
	case StateCrashed:
		return "crashed"
	case StateDone:
		return "done"
	}

	return fmt.Sprintf("RunState(%d)", uint(s))
}

// IsTerminal reports whether the core can make no further progress.
func (s RunState) IsTerminal() bool {
	return s == StateCrashed || s == StateDone
}

var (
	ErrFlashOverflow = errors.New("image does not fit in flash")
	ErrNoPeripheral  = errors.New("no such peripheral")
)

// CoreCreationError is returned by New for an unknown model name.
type CoreCreationError struct {
	Name string
}

func (err *CoreCreationError) Error() string {
	return fmt.Sprintf("unknown microcontroller model %q", err.Name)
}

type UARTConfig struct {
	Name byte
	Base uint16

	// Interrupt vector numbers
	RXVector   int
	UDREVector int
	TXVector   int
}

// MCU describes one microcontroller model.
type MCU struct {
	Name      string
	FlashSize uint32
	RAMEnd    uint16

	// Bytes per interrupt vector slot
	VectorSize uint32

	Signature [3]byte
	UARTs     []UARTConfig
}

// FlashEnd is the last valid flash byte address.
func (m *MCU) FlashEnd() uint32 {
	return m.FlashSize - 1
}

type MachineState struct {
	// Program counter, in bytes
	Program uint32

	// Registers, I/O space and SRAM
	Data  []byte
	Flash []byte

	Cycle uint64
	Run   RunState
}

// MachineDebugger is invoked by the core after every instruction and on every
// data space access.
type MachineDebugger interface {
	Step(mc *Machine)
	Read(addr uint16, mc *Machine)
	Write(addr uint16, mc *Machine)
}

type peripheral interface {
	reset()
	read(addr uint16) (byte, bool)
	write(addr uint16, value byte) bool
	pending() (vector int, ok bool)
	ack(vector int)
}

type Machine struct {
	MCU   *MCU
	State MachineState

	// Informational; the core runs as fast as it is stepped
	Frequency uint32

	// Executing past CodeEnd crashes the core
	CodeEnd uint32

	Log      *slog.Logger
	Debugger MachineDebugger

	pool        *irq.Pool
	uarts       map[byte]*UART
	peripherals []peripheral

	// an instruction executes after SEI/RETI before interrupts are taken
	interruptDelay bool
}
