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

package machine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goavr/pkg/irq"
	"github.com/lassandro/goavr/pkg/machine"
)

type testCase struct {
	Name      string
	Program   []uint16
	Steps     int
	Registers map[uint8]byte
	Flags     map[uint8]bool
	PC        uint32
}

func flash(words []uint16) []byte {
	image := make([]byte, 0, len(words)*2)
	for _, w := range words {
		image = append(image, byte(w), byte(w>>8))
	}
	return image
}

func newMachine(t *testing.T, words ...uint16) (*machine.Machine, *irq.Pool) {
	pool := irq.NewPool()

	mc, err := machine.New("atmega328p", pool, nil)
	require.NoError(t, err)
	require.NoError(t, mc.LoadFlash(0, flash(words)))

	return mc, pool
}

func runUntilTerminal(mc *machine.Machine, limit int) machine.RunState {
	for i := 0; i < limit; i++ {
		if state := mc.Step(); state.IsTerminal() {
			return state
		}
	}
	return mc.State.Run
}

func testMachineSuccess(t *testing.T, test *testCase) {
	mc, _ := newMachine(t, test.Program...)

	for i := 0; i < test.Steps; i++ {
		require.Equal(t, machine.StateRunning, mc.Step(), "step %d", i)
	}

	for r, want := range test.Registers {
		assert.Equal(t, want, mc.Reg(r), "r%d", r)
	}

	for bit, want := range test.Flags {
		assert.Equal(t, want, mc.Flag(bit), "SREG bit %d", bit)
	}

	assert.Equal(t, test.PC, mc.State.Program, "program counter")
}

func TestInstructions(t *testing.T) {
	tests := []testCase{
		{
			Name:      "LDI ADD",
			Program:   []uint16{0xE401, 0xE015, 0x0F01},
			Steps:     3,
			Registers: map[uint8]byte{16: 0x46, 17: 0x05},
			Flags:     map[uint8]bool{machine.FLAG_Z: false, machine.FLAG_C: false},
			PC:        6,
		},
		{
			Name:      "ADD carry",
			Program:   []uint16{0xEF0F, 0xE011, 0x0F01},
			Steps:     3,
			Registers: map[uint8]byte{16: 0x00},
			Flags: map[uint8]bool{
				machine.FLAG_Z: true, machine.FLAG_C: true, machine.FLAG_H: true,
			},
			PC: 6,
		},
		{
			Name:      "ADD signed overflow",
			Program:   []uint16{0xE70F, 0xE011, 0x0F01},
			Steps:     3,
			Registers: map[uint8]byte{16: 0x80},
			Flags: map[uint8]bool{
				machine.FLAG_V: true, machine.FLAG_N: true, machine.FLAG_S: false,
			},
			PC: 6,
		},
		{
			Name:      "SUB borrow",
			Program:   []uint16{0xE000, 0xE011, 0x1B01},
			Steps:     3,
			Registers: map[uint8]byte{16: 0xFF},
			Flags: map[uint8]bool{
				machine.FLAG_C: true, machine.FLAG_N: true, machine.FLAG_Z: false,
			},
			PC: 6,
		},
		{
			Name:      "CPI BREQ taken",
			Program:   []uint16{0xE401, 0x3401, 0xF009, 0xE011, 0xE022},
			Steps:     4,
			Registers: map[uint8]byte{17: 0x00, 18: 0x02},
			Flags:     map[uint8]bool{machine.FLAG_Z: true},
			PC:        10,
		},
		{
			Name:      "RCALL RET",
			Program:   []uint16{0xD002, 0xE022, 0x0000, 0xE401, 0x9508},
			Steps:     4,
			Registers: map[uint8]byte{16: 0x41, 18: 0x02},
			PC:        4,
		},
		{
			Name:      "PUSH POP",
			Program:   []uint16{0xE401, 0x930F, 0x911F},
			Steps:     3,
			Registers: map[uint8]byte{17: 0x41},
			PC:        6,
		},
		{
			Name:      "INC overflow",
			Program:   []uint16{0xE70F, 0x9503},
			Steps:     2,
			Registers: map[uint8]byte{16: 0x80},
			Flags:     map[uint8]bool{machine.FLAG_V: true, machine.FLAG_N: true},
			PC:        4,
		},
		{
			Name:      "DEC to zero",
			Program:   []uint16{0xE001, 0x950A},
			Steps:     2,
			Registers: map[uint8]byte{16: 0x00},
			Flags:     map[uint8]bool{machine.FLAG_Z: true, machine.FLAG_V: false},
			PC:        4,
		},
		{
			Name:      "CPSE skips two word instruction",
			Program:   []uint16{0x1000, 0x9300, 0x0100, 0xE011},
			Steps:     2,
			Registers: map[uint8]byte{17: 0x01},
			PC:        8,
		},
		{
			Name:      "LPM post increment",
			Program:   []uint16{0xE0E8, 0xE0F0, 0x9105, 0x0000, 0xBEEF},
			Steps:     3,
			Registers: map[uint8]byte{16: 0xEF, 30: 0x09, 31: 0x00},
			PC:        6,
		},
		{
			Name:      "ADIW carries into high byte",
			Program:   []uint16{0xEF8F, 0xE090, 0x9601},
			Steps:     3,
			Registers: map[uint8]byte{24: 0x00, 25: 0x01},
			Flags:     map[uint8]bool{machine.FLAG_Z: false, machine.FLAG_C: false},
			PC:        6,
		},
		{
			Name:      "JMP",
			Program:   []uint16{0x940C, 0x0004, 0xE001, 0x0000, 0xE012},
			Steps:     2,
			Registers: map[uint8]byte{16: 0x00, 17: 0x02},
			PC:        10,
		},
		{
			Name:      "MOVW",
			Program:   []uint16{0xE3E4, 0xE1F2, 0x01CF},
			Steps:     3,
			Registers: map[uint8]byte{24: 0x34, 25: 0x12},
			PC:        6,
		},
		{
			Name:      "ROR through carry",
			Program:   []uint16{0x9408, 0xE002, 0x9507},
			Steps:     3,
			Registers: map[uint8]byte{16: 0x81},
			Flags:     map[uint8]bool{machine.FLAG_C: false, machine.FLAG_N: true},
			PC:        6,
		},
		{
			Name:      "ST X+ LD -X",
			Program:   []uint16{0xE0A0, 0xE0B1, 0xE50A, 0x930D, 0x911E},
			Steps:     5,
			Registers: map[uint8]byte{17: 0x5A, 26: 0x00, 27: 0x01},
			PC:        10,
		},
		{
			Name:      "IN SPL",
			Program:   []uint16{0xB70D},
			Steps:     1,
			Registers: map[uint8]byte{16: 0xFF},
			PC:        2,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			testMachineSuccess(t, &test)
		})
	}
}

func TestStackContents(t *testing.T) {
	mc, _ := newMachine(t, 0xD002, 0xE022, 0x0000, 0xE401, 0x9508)

	mc.Step()
	assert.Equal(t, uint16(0x08FD), mc.SP())
	// return address is word 1, low byte pushed first
	assert.Equal(t, byte(0x01), mc.State.Data[0x08FF])
	assert.Equal(t, byte(0x00), mc.State.Data[0x08FE])
}

func TestNew(t *testing.T) {
	mc, err := machine.New("ATmega328P", irq.NewPool(), nil)
	require.NoError(t, err)
	assert.Equal(t, "atmega328p", mc.MCU.Name)
	assert.Len(t, mc.State.Flash, 32*1024)
	assert.Len(t, mc.State.Data, 0x900)
	assert.Equal(t, uint32(0x7FFF), mc.CodeEnd)
	assert.Equal(t, uint16(0x08FF), mc.SP())
	assert.Equal(t, machine.StateRunning, mc.State.Run)

	_, err = machine.New("atmega9000", irq.NewPool(), nil)
	var coreErr *machine.CoreCreationError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, "atmega9000", coreErr.Name)

	assert.Equal(
		t,
		[]string{"atmega168", "atmega328p", "atmega48", "atmega88"},
		machine.Models(),
	)
}

func TestLoadFlash(t *testing.T) {
	mc, _ := newMachine(t)

	require.NoError(t, mc.LoadFlash(0x7FFE, []byte{0xAA, 0xBB}))
	assert.Equal(t, byte(0xBB), mc.State.Flash[0x7FFF])

	err := mc.LoadFlash(0x7FFF, []byte{0xAA, 0xBB})
	assert.ErrorIs(t, err, machine.ErrFlashOverflow)
}

func TestTermination(t *testing.T) {
	tests := []struct {
		Name    string
		Program []uint16
		CodeEnd uint32
		State   machine.RunState
		PC      uint32
	}{
		{
			Name:    "Sleep with interrupts off",
			Program: []uint16{0x94F8, 0x9588},
			State:   machine.StateDone,
			PC:      4,
		},
		{
			Name:    "Self loop with interrupts off",
			Program: []uint16{0x0000, 0xCFFF},
			State:   machine.StateDone,
			PC:      2,
		},
		{
			Name:    "Invalid opcode",
			Program: []uint16{0x0000, 0xFFFF},
			State:   machine.StateCrashed,
			PC:      2,
		},
		{
			Name:    "Past code end",
			Program: []uint16{0x0000, 0x0000, 0x0000},
			CodeEnd: 3,
			State:   machine.StateCrashed,
			PC:      4,
		},
		{
			Name:    "Data write out of range",
			Program: []uint16{0x9300, 0x0900},
			State:   machine.StateCrashed,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			mc, _ := newMachine(t, test.Program...)
			if test.CodeEnd != 0 {
				mc.CodeEnd = test.CodeEnd
			}

			assert.Equal(t, test.State, runUntilTerminal(mc, 100))
			if test.PC != 0 {
				assert.Equal(t, test.PC, mc.State.Program)
			}

			// terminal states are sticky
			assert.Equal(t, test.State, mc.Step())
		})
	}
}

func TestUARTOutput(t *testing.T) {
	mc, pool := newMachine(
		t,
		0xE008, 0x9300, 0x00C1, // ldi r16, TXEN; sts UCSR0B, r16
		0xE401, 0x9300, 0x00C6, // ldi r16, 'A'; sts UDR0, r16
		0xE402, 0x9300, 0x00C6, // ldi r16, 'B'; sts UDR0, r16
		0x94F8, 0x9588, // cli; sleep
	)

	line, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUTPUT)
	require.NoError(t, err)

	var sent []uint32
	require.NoError(t, pool.Subscribe(line, irq.ObserverFunc(
		func(l *irq.Line, value uint32) { sent = append(sent, value) },
	)))

	assert.Equal(t, machine.StateDone, runUntilTerminal(mc, 100))
	assert.Equal(t, []uint32{0x41, 0x42}, sent)

	// TXC and UDRE are reported after a transmission
	assert.Equal(
		t, machine.UART_TXC|machine.UART_UDRE, int(mc.State.Data[0xC0]),
	)
}

func TestIOGetIRQ(t *testing.T) {
	mc, _ := newMachine(t)

	_, err := mc.IOGetIRQ(machine.UARTGetIRQ('1'), machine.UART_IRQ_OUTPUT)
	assert.ErrorIs(t, err, machine.ErrNoPeripheral)

	_, err = mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_COUNT)
	assert.ErrorIs(t, err, machine.ErrNoPeripheral)

	line, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_INPUT)
	require.NoError(t, err)
	assert.Equal(t, "8<uart0.in", line.Name)
	assert.NotNil(t, mc.UART('0'))
	assert.Nil(t, mc.UART('1'))
}

func TestUARTReceiveInterrupt(t *testing.T) {
	program := make([]uint16, 56)

	// reset vector
	program[0] = 0xC02F // rjmp main

	// USART_RX vector (18) at word 36: echo the received byte
	copy(program[36:], []uint16{
		0x9100, 0x00C6, // lds r16, UDR0
		0x9300, 0x00C6, // sts UDR0, r16
		0x9518, // reti
	})

	// main at word 48
	copy(program[48:], []uint16{
		0xE908, 0x9300, 0x00C1, // ldi r16, RXCIE|RXEN|TXEN; sts UCSR0B, r16
		0x9478, // sei
		0x9588, // sleep
		0x94F8, // cli
		0x9588, // sleep
	})

	mc, pool := newMachine(t, program...)

	in, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_INPUT)
	require.NoError(t, err)
	out, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUTPUT)
	require.NoError(t, err)

	var echoed []uint32
	require.NoError(t, pool.Subscribe(out, irq.ObserverFunc(
		func(l *irq.Line, value uint32) { echoed = append(echoed, value) },
	)))

	for i := 0; i < 10; i++ {
		mc.Step()
	}
	require.Equal(t, machine.StateSleeping, mc.State.Run)

	in.Raise('x')
	assert.Equal(t, 1, mc.UART('0').Pending())

	assert.Equal(t, machine.StateDone, runUntilTerminal(mc, 100))
	assert.Equal(t, []uint32{'x'}, echoed)
	assert.Equal(t, 0, mc.UART('0').Pending())
}

func TestUARTFlowControl(t *testing.T) {
	mc, pool := newMachine(t, 0x9100, 0x00C6) // lds r16, UDR0

	in, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_INPUT)
	require.NoError(t, err)

	var events []string
	for _, index := range []int{machine.UART_IRQ_OUT_XON, machine.UART_IRQ_OUT_XOFF} {
		line, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), index)
		require.NoError(t, err)

		name := map[int]string{
			machine.UART_IRQ_OUT_XON:  "xon",
			machine.UART_IRQ_OUT_XOFF: "xoff",
		}[index]

		require.NoError(t, pool.Subscribe(line, irq.ObserverFunc(
			func(*irq.Line, uint32) { events = append(events, name) },
		)))
	}

	for i := 0; i < machine.UART_FIFO_SIZE+1; i++ {
		in.Raise(uint32('a' + i%26))
	}

	assert.Equal(t, machine.UART_FIFO_SIZE, mc.UART('0').Pending())
	assert.Equal(t, []string{"xoff"}, events)

	mc.Step()
	assert.Equal(t, byte('a'), mc.Reg(16))
	assert.Equal(t, []string{"xoff", "xon"}, events)
}

type fakeDebugger struct {
	states []machine.RunState
	reads  []uint16
	writes []uint16
}

func (dbg *fakeDebugger) Step(mc *machine.Machine) {
	dbg.states = append(dbg.states, mc.State.Run)
	if mc.State.Run == machine.StateStopped {
		mc.State.Run = machine.StateRunning
	}
}

func (dbg *fakeDebugger) Read(addr uint16, mc *machine.Machine) {
	dbg.reads = append(dbg.reads, addr)
}

func (dbg *fakeDebugger) Write(addr uint16, mc *machine.Machine) {
	dbg.writes = append(dbg.writes, addr)
}

func TestDebuggerHooks(t *testing.T) {
	mc, _ := newMachine(
		t,
		0x9598, // break
		0x9300, 0x0100, // sts 0x0100, r16
		0x9120, 0x0100, // lds r18, 0x0100
	)

	var dbg fakeDebugger
	mc.Debugger = &dbg

	// waiting for the debugger: nothing executes
	mc.State.Run = machine.StateStopped
	assert.Equal(t, machine.StateRunning, mc.Step())
	assert.Equal(t, uint32(0), mc.State.Program)

	// BREAK stops into the debugger after it executes
	assert.Equal(t, machine.StateRunning, mc.Step())
	assert.Equal(t, uint32(2), mc.State.Program)

	mc.Step()
	mc.Step()
	assert.Equal(t, []uint16{0x0100}, dbg.writes)
	assert.Equal(t, []uint16{0x0100}, dbg.reads)
	assert.Equal(t, []machine.RunState{
		machine.StateStopped,
		machine.StateStopped,
		machine.StateRunning,
		machine.StateRunning,
	}, dbg.states)
}

func TestHaltFromObserver(t *testing.T) {
	mc, pool := newMachine(
		t,
		0xE004,         // ldi r16, 0x04
		0x9300, 0x00C6, // sts UDR0, r16
		0x9478, 0xCFFF, // sei; rjmp .-2
	)

	var dbg fakeDebugger
	mc.Debugger = &dbg

	line, err := mc.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUTPUT)
	require.NoError(t, err)
	require.NoError(t, pool.Subscribe(line, irq.ObserverFunc(
		func(l *irq.Line, value uint32) {
			if value == 0x04 {
				mc.Halt()
			}
		},
	)))

	assert.Equal(t, machine.StateRunning, mc.Step())
	assert.Equal(t, machine.StateDone, mc.Step())
	assert.Equal(t, uint32(6), mc.State.Program)

	// the debugger saw the ldi but not the halting store
	assert.Equal(t, []machine.RunState{machine.StateRunning}, dbg.states)

	mc.Halt()
	assert.Equal(t, machine.StateDone, mc.Step())
}

func TestBreakWithoutDebugger(t *testing.T) {
	mc, _ := newMachine(t, 0x9598, 0x0000)

	assert.Equal(t, machine.StateRunning, mc.Step())
	assert.Equal(t, uint32(2), mc.State.Program)
}

func TestRunStateString(t *testing.T) {
	assert.Equal(t, "running", machine.StateRunning.String())
	assert.Equal(t, "crashed", machine.StateCrashed.String())
	assert.Equal(t, "RunState(42)", machine.RunState(42).String())
	assert.True(t, machine.StateDone.IsTerminal())
	assert.False(t, machine.StateSleeping.IsTerminal())
}
