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
	"fmt"
	"log/slog"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/irq"
	"github.com/lassandro/goavr/pkg/logging"
)

// New creates a core for the named model. Peripheral IRQ lines are allocated
// from pool.
func New(name string, pool *irq.Pool, log *slog.Logger) (*Machine, error) {
	mcu, ok := LookupMCU(name)
	if !ok {
		return nil, &CoreCreationError{Name: name}
	}

	if log == nil {
		log = logging.Discard()
	}

	mc := &Machine{
		MCU:     mcu,
		CodeEnd: mcu.FlashEnd(),
		Log:     log.With("mcu", mcu.Name),
		pool:    pool,
		uarts:   make(map[byte]*UART),
	}

	mc.State.Flash = make([]byte, mcu.FlashSize)
	mc.State.Data = make([]byte, int(mcu.RAMEnd)+1)

	for _, cfg := range mcu.UARTs {
		uart, err := newUART(mc, cfg)
		if err != nil {
			return nil, err
		}
		mc.uarts[cfg.Name] = uart
		mc.peripherals = append(mc.peripherals, uart)
	}

	mc.Reset()
	return mc, nil
}

// Reset clears the data space and peripherals. Flash is preserved.
func (mc *Machine) Reset() {
	for i := range mc.State.Data {
		mc.State.Data[i] = 0x00
	}

	mc.State.Program = 0
	mc.State.Cycle = 0
	mc.State.Run = StateRunning
	mc.interruptDelay = false

	mc.setSP(mc.MCU.RAMEnd)

	for _, p := range mc.peripherals {
		p.reset()
	}
}

// LoadFlash copies data into flash at base.
func (mc *Machine) LoadFlash(base uint32, data []byte) error {
	if uint64(base)+uint64(len(data)) > uint64(len(mc.State.Flash)) {
		return fmt.Errorf(
			"%w: %d bytes at %#x, flash is %d bytes",
			ErrFlashOverflow, len(data), base, len(mc.State.Flash),
		)
	}

	copy(mc.State.Flash[base:], data)
	return nil
}

// UART returns the USART with the given name ('0', '1', ...), or nil.
func (mc *Machine) UART(name byte) *UART {
	return mc.uarts[name]
}

// IOGetIRQ finds IRQ line index of the peripheral selected by ctl.
func (mc *Machine) IOGetIRQ(ctl IOCtl, index int) (*irq.Line, error) {
	for name, uart := range mc.uarts {
		if UARTGetIRQ(name) == ctl {
			return uart.IRQ(index)
		}
	}

	return nil, fmt.Errorf("%w: ioctl %#08x", ErrNoPeripheral, uint32(ctl))
}

func (mc *Machine) crash(msg string, args ...any) {
	args = append(args, "pc", fmt.Sprintf("%#05x", mc.State.Program))
	mc.Log.Error(msg, args...)
	mc.State.Run = StateCrashed
}

// Halt ends the run as if the firmware had finished. Observers call it
// from inside an instruction; Step then returns without entering the
// debugger.
func (mc *Machine) Halt() {
	if mc.State.Run.IsTerminal() {
		return
	}
	mc.Log.Info("halted", "pc", fmt.Sprintf("%#05x", mc.State.Program))
	mc.State.Run = StateDone
}

func (mc *Machine) illegal(op uint16) {
	mc.State.Program -= 2
	mc.crash("invalid opcode", "opcode", fmt.Sprintf("%#04x", op))
}

func (mc *Machine) Flag(bit uint8) bool {
	return (mc.State.Data[REG_SREG]>>bit)&0x1 == 1
}

func (mc *Machine) setFlag(bit uint8, value bool) {
	if value {
		mc.State.Data[REG_SREG] |= 1 << bit
	} else {
		mc.State.Data[REG_SREG] &^= 1 << bit
	}
}

func (mc *Machine) SP() uint16 {
	return uint16(mc.State.Data[REG_SPL]) | uint16(mc.State.Data[REG_SPH])<<8
}

func (mc *Machine) setSP(sp uint16) {
	mc.State.Data[REG_SPL] = byte(sp)
	mc.State.Data[REG_SPH] = byte(sp >> 8)
}

// Reg returns general purpose register r.
func (mc *Machine) Reg(r uint8) byte {
	return mc.State.Data[r]
}

func (mc *Machine) setReg(r uint8, value byte) {
	mc.State.Data[r] = value
}

func (mc *Machine) pointer(r uint8) uint16 {
	return uint16(mc.State.Data[r]) | uint16(mc.State.Data[r+1])<<8
}

func (mc *Machine) setPointer(r uint8, value uint16) {
	mc.State.Data[r] = byte(value)
	mc.State.Data[r+1] = byte(value >> 8)
}

func (mc *Machine) read(addr uint16) byte {
	if int(addr) >= len(mc.State.Data) {
		mc.crash("data read out of range", "addr", fmt.Sprintf("%#04x", addr))
		return 0
	}

	if addr >= MEMSPACE_IO && addr < MEMSPACE_SRAM {
		for _, p := range mc.peripherals {
			if value, ok := p.read(addr); ok {
				mc.State.Data[addr] = value
				break
			}
		}
	}

	if mc.Debugger != nil {
		mc.Debugger.Read(addr, mc)
	}

	return mc.State.Data[addr]
}

func (mc *Machine) write(addr uint16, value byte) {
	if int(addr) >= len(mc.State.Data) {
		mc.crash("data write out of range", "addr", fmt.Sprintf("%#04x", addr))
		return
	}

	mc.State.Data[addr] = value

	if addr >= MEMSPACE_IO && addr < MEMSPACE_SRAM {
		for _, p := range mc.peripherals {
			if p.write(addr, value) {
				break
			}
		}
	}

	if mc.Debugger != nil {
		mc.Debugger.Write(addr, mc)
	}
}

func (mc *Machine) push(value byte) {
	sp := mc.SP()
	mc.write(sp, value)
	mc.setSP(sp - 1)
}

func (mc *Machine) pop() byte {
	sp := mc.SP() + 1
	mc.setSP(sp)
	return mc.read(sp)
}

// Return addresses are word addresses, pushed low byte first.
func (mc *Machine) pushAddr(addr uint32) {
	for i := 0; i < 2; i++ {
		mc.push(byte(addr))
		addr >>= 8
	}
}

func (mc *Machine) popAddr() uint32 {
	var addr uint32
	for i := 0; i < 2; i++ {
		addr = addr<<8 | uint32(mc.pop())
	}
	return addr
}

func (mc *Machine) fetch(pc uint32) uint16 {
	if int(pc)+1 >= len(mc.State.Flash) {
		mc.crash("fetch out of flash", "addr", fmt.Sprintf("%#05x", pc))
		return 0
	}

	return uint16(mc.State.Flash[pc]) | uint16(mc.State.Flash[pc+1])<<8
}

func is32bit(op uint16) bool {
	return op&OP_JMP_MASK == OP_JMP ||
		op&OP_JMP_MASK == OP_CALL ||
		op&OP_LDS_MASK == OP_LDS
}

func (mc *Machine) skip() {
	next := mc.fetch(mc.State.Program)
	mc.State.Program += 2
	mc.State.Cycle++

	if is32bit(next) {
		mc.State.Program += 2
		mc.State.Cycle++
	}
}

func (mc *Machine) branch(offset uint16) {
	mc.State.Program = uint32(int64(mc.State.Program) + 2*int64(int16(offset)))
}

// serviceInterrupts vectors to the highest priority pending interrupt when
// interrupts are enabled.
func (mc *Machine) serviceInterrupts() bool {
	if mc.interruptDelay {
		mc.interruptDelay = false
		return false
	}

	if !mc.Flag(FLAG_I) {
		return false
	}

	vector := -1
	var source peripheral

	for _, p := range mc.peripherals {
		if v, ok := p.pending(); ok && (vector < 0 || v < vector) {
			vector = v
			source = p
		}
	}

	if vector < 0 {
		return false
	}

	source.ack(vector)

	mc.Log.Debug("interrupt", "vector", vector)

	mc.pushAddr(mc.State.Program >> 1)
	mc.setFlag(FLAG_I, false)
	mc.State.Program = uint32(vector) * mc.MCU.VectorSize
	mc.State.Cycle += 4
	mc.State.Run = StateRunning

	return true
}

// Step advances the core by one instruction and returns the new run state.
func (mc *Machine) Step() RunState {
	switch mc.State.Run {
	case StateDone, StateCrashed:
		return mc.State.Run

	case StateStopped:
		if mc.Debugger == nil {
			mc.State.Run = StateRunning
		} else {
			mc.Debugger.Step(mc)
		}
		return mc.State.Run

	case StateSleeping:
		mc.State.Cycle++
		mc.serviceInterrupts()
		return mc.State.Run
	}

	mc.execute()

	if mc.State.Run == StateRunning {
		mc.serviceInterrupts()
	}

	if mc.Debugger != nil && !mc.State.Run.IsTerminal() {
		mc.Debugger.Step(mc)
	}

	return mc.State.Run
}

func decodeDR(op uint16) (uint8, uint8) {
	d := uint8((op >> 4) & 0x1F)
	r := uint8((op & 0xF) | ((op >> 5) & 0x10))
	return d, r
}

func decodeDK(op uint16) (uint8, byte) {
	d := 16 + uint8((op>>4)&0xF)
	k := byte((op & 0xF) | ((op >> 4) & 0xF0))
	return d, k
}

func (mc *Machine) execute() {
	pc := mc.State.Program

	if pc > mc.CodeEnd {
		mc.crash("execution past code end", "codeend", fmt.Sprintf("%#05x", mc.CodeEnd))
		return
	}

	op := mc.fetch(pc)
	if mc.State.Run != StateRunning {
		return
	}

	if logging.TraceEnabled(mc.Log) {
		logging.Trace(
			mc.Log, "step",
			"pc", fmt.Sprintf("%#05x", pc),
			"op", fmt.Sprintf("%04x", op),
			"sreg", fmt.Sprintf("%08b", mc.State.Data[REG_SREG]),
		)
	}

	mc.State.Program += 2
	mc.State.Cycle++

	switch op >> 12 {
	case 0x0:
		switch {
		// NOP  |0000 0000 0000 0000|
		case op == 0x0000:

		// MOVW |0000 0001 dddd rrrr| Copy register pair
		case op&0xFF00 == 0x0100:
			d := uint8((op>>4)&0xF) * 2
			r := uint8(op&0xF) * 2
			mc.setReg(d, mc.Reg(r))
			mc.setReg(d+1, mc.Reg(r+1))

		// CPC  |0000 01rd dddd rrrr| Compare with carry
		case op&0xFC00 == 0x0400:
			d, r := decodeDR(op)
			rd, rr := mc.Reg(d), mc.Reg(r)
			mc.flagsSub(rd, rr, rd-rr-mc.carry(), true)

		// SBC  |0000 10rd dddd rrrr| Subtract with carry
		case op&0xFC00 == 0x0800:
			d, r := decodeDR(op)
			rd, rr := mc.Reg(d), mc.Reg(r)
			res := rd - rr - mc.carry()
			mc.setReg(d, res)
			mc.flagsSub(rd, rr, res, true)

		// ADD  |0000 11rd dddd rrrr| Add (LSL when d == r)
		case op&0xFC00 == 0x0C00:
			d, r := decodeDR(op)
			rd, rr := mc.Reg(d), mc.Reg(r)
			res := rd + rr
			mc.setReg(d, res)
			mc.flagsAdd(rd, rr, res)

		default:
			mc.illegal(op)
		}

	case 0x1:
		d, r := decodeDR(op)
		rd, rr := mc.Reg(d), mc.Reg(r)

		switch op & 0x0C00 {
		// CPSE |0001 00rd dddd rrrr| Compare, skip if equal
		case 0x0000:
			if rd == rr {
				mc.skip()
			}

		// CP   |0001 01rd dddd rrrr| Compare
		case 0x0400:
			mc.flagsSub(rd, rr, rd-rr, false)

		// SUB  |0001 10rd dddd rrrr| Subtract
		case 0x0800:
			res := rd - rr
			mc.setReg(d, res)
			mc.flagsSub(rd, rr, res, false)

		// ADC  |0001 11rd dddd rrrr| Add with carry (ROL when d == r)
		case 0x0C00:
			res := rd + rr + mc.carry()
			mc.setReg(d, res)
			mc.flagsAdd(rd, rr, res)
		}

	case 0x2:
		d, r := decodeDR(op)
		rd, rr := mc.Reg(d), mc.Reg(r)

		switch op & 0x0C00 {
		// AND  |0010 00rd dddd rrrr| (TST when d == r)
		case 0x0000:
			mc.setReg(d, rd&rr)
			mc.flagsLogic(rd & rr)

		// EOR  |0010 01rd dddd rrrr| (CLR when d == r)
		case 0x0400:
			mc.setReg(d, rd^rr)
			mc.flagsLogic(rd ^ rr)

		// OR   |0010 10rd dddd rrrr|
		case 0x0800:
			mc.setReg(d, rd|rr)
			mc.flagsLogic(rd | rr)

		// MOV  |0010 11rd dddd rrrr|
		case 0x0C00:
			mc.setReg(d, rr)
		}

	// CPI  |0011 KKKK dddd KKKK| Compare with immediate
	case 0x3:
		d, k := decodeDK(op)
		rd := mc.Reg(d)
		mc.flagsSub(rd, k, rd-k, false)

	// SBCI |0100 KKKK dddd KKKK| Subtract immediate with carry
	case 0x4:
		d, k := decodeDK(op)
		rd := mc.Reg(d)
		res := rd - k - mc.carry()
		mc.setReg(d, res)
		mc.flagsSub(rd, k, res, true)

	// SUBI |0101 KKKK dddd KKKK| Subtract immediate
	case 0x5:
		d, k := decodeDK(op)
		rd := mc.Reg(d)
		mc.setReg(d, rd-k)
		mc.flagsSub(rd, k, rd-k, false)

	// ORI  |0110 KKKK dddd KKKK| (SBR)
	case 0x6:
		d, k := decodeDK(op)
		mc.setReg(d, mc.Reg(d)|k)
		mc.flagsLogic(mc.Reg(d))

	// ANDI |0111 KKKK dddd KKKK| (CBR)
	case 0x7:
		d, k := decodeDK(op)
		mc.setReg(d, mc.Reg(d)&k)
		mc.flagsLogic(mc.Reg(d))

	// LDD  |10q0 qq0d dddd bqqq| Load indirect with displacement (b: 1=Y 0=Z)
	// STD  |10q0 qq1r rrrr bqqq| Store indirect with displacement
	case 0x8, 0xA:
		d := uint8((op >> 4) & 0x1F)
		q := ((op >> 8) & 0x20) | ((op >> 7) & 0x18) | (op & 0x7)

		base := REG_Z
		if op&0x8 != 0 {
			base = REG_Y
		}

		addr := mc.pointer(base) + q
		mc.State.Cycle++

		if op&OP_LDD_MASK == OP_LDD {
			mc.setReg(d, mc.read(addr))
		} else {
			mc.write(addr, mc.Reg(d))
		}

	case 0x9:
		mc.execute9(op)

	// IN   |1011 0AAd dddd AAAA| Load I/O location
	// OUT  |1011 1AAr rrrr AAAA| Store to I/O location
	case 0xB:
		d := uint8((op >> 4) & 0x1F)
		a := (op & 0xF) | ((op >> 5) & 0x30)

		if op&0x0800 == 0 {
			mc.setReg(d, mc.read(a+MEMSPACE_IO))
		} else {
			mc.write(a+MEMSPACE_IO, mc.Reg(d))
		}

	// RJMP |1100 kkkk kkkk kkkk| Relative jump
	case 0xC:
		offset := encoding.SignExtend(op&0xFFF, 12)

		if int16(offset) == -1 && !mc.Flag(FLAG_I) {
			mc.State.Program = pc
			mc.State.Run = StateDone
			mc.Log.Info("infinite loop with interrupts off, quitting gracefully")
			return
		}

		mc.branch(offset)
		mc.State.Cycle++

	// RCALL|1101 kkkk kkkk kkkk| Relative call
	case 0xD:
		mc.pushAddr(mc.State.Program >> 1)
		mc.branch(encoding.SignExtend(op&0xFFF, 12))
		mc.State.Cycle += 2

	// LDI  |1110 KKKK dddd KKKK| Load immediate (SER when K == 0xFF)
	case 0xE:
		d, k := decodeDK(op)
		mc.setReg(d, k)

	case 0xF:
		switch {
		// BRBS |1111 00kk kkkk ksss| Branch if SREG bit set
		// BRBC |1111 01kk kkkk ksss| Branch if SREG bit clear
		case op&0x0800 == 0:
			s := uint8(op & 0x7)
			want := op&0x0400 == 0

			if mc.Flag(s) == want {
				mc.branch(encoding.SignExtend((op>>3)&0x7F, 7))
				mc.State.Cycle++
			}

		case op&0x0008 != 0:
			mc.illegal(op)

		// BLD  |1111 100d dddd 0bbb| Bit load from T
		case op&0x0E00 == 0x0800:
			d := uint8((op >> 4) & 0x1F)
			b := op & 0x7
			if mc.Flag(FLAG_T) {
				mc.setReg(d, mc.Reg(d)|1<<b)
			} else {
				mc.setReg(d, mc.Reg(d)&^(1<<b))
			}

		// BST  |1111 101d dddd 0bbb| Bit store to T
		case op&0x0E00 == 0x0A00:
			d := uint8((op >> 4) & 0x1F)
			mc.setFlag(FLAG_T, (mc.Reg(d)>>(op&0x7))&0x1 == 1)

		// SBRC |1111 110r rrrr 0bbb| Skip if bit in register cleared
		// SBRS |1111 111r rrrr 0bbb| Skip if bit in register set
		default:
			r := uint8((op >> 4) & 0x1F)
			set := (mc.Reg(r)>>(op&0x7))&0x1 == 1
			if set == (op&0x0200 != 0) {
				mc.skip()
			}
		}
	}
}

func (mc *Machine) execute9(op uint16) {
	switch {
	// RET  |1001 0101 0000 1000| Return from subroutine
	// RETI |1001 0101 0001 1000| Return from interrupt
	case op == OP_RET, op == OP_RETI:
		mc.State.Program = mc.popAddr() << 1
		mc.State.Cycle += 3

		if op == OP_RETI {
			mc.setFlag(FLAG_I, true)
			mc.interruptDelay = true
		}

	// SLEEP|1001 0101 1000 1000|
	case op == OP_SLEEP:
		if !mc.Flag(FLAG_I) {
			mc.State.Run = StateDone
			mc.Log.Info("sleeping with interrupts off, quitting gracefully")
		} else {
			mc.State.Run = StateSleeping
			mc.Log.Debug("sleeping")
		}

	// BREAK|1001 0101 1001 1000| Stops into an attached debugger
	case op == OP_BREAK:
		if mc.Debugger != nil {
			mc.State.Run = StateStopped
		}

	// WDR  |1001 0101 1010 1000| No watchdog is modelled
	case op == OP_WDR:

	// LPM  |1001 0101 1100 1000| Load program memory into r0
	case op == OP_LPM:
		mc.setReg(0, mc.loadProgram(mc.pointer(REG_Z)))

	// IJMP |1001 0100 0000 1001| Indirect jump to Z
	case op == OP_IJMP:
		mc.State.Program = uint32(mc.pointer(REG_Z)) << 1
		mc.State.Cycle++

	// ICALL|1001 0101 0000 1001| Indirect call to Z
	case op == OP_ICALL:
		mc.pushAddr(mc.State.Program >> 1)
		mc.State.Program = uint32(mc.pointer(REG_Z)) << 1
		mc.State.Cycle += 2

	// BSET |1001 0100 0sss 1000| (SEC, SEZ, ..., SEI)
	case op&0xFF8F == 0x9408:
		s := uint8((op >> 4) & 0x7)
		mc.setFlag(s, true)
		if s == FLAG_I {
			mc.interruptDelay = true
		}

	// BCLR |1001 0100 1sss 1000| (CLC, CLZ, ..., CLI)
	case op&0xFF8F == 0x9488:
		mc.setFlag(uint8((op>>4)&0x7), false)

	// JMP  |1001 010k kkkk 110k kkkk kkkk kkkk kkkk|
	// CALL |1001 010k kkkk 111k kkkk kkkk kkkk kkkk|
	case op&OP_JMP_MASK == OP_JMP, op&OP_JMP_MASK == OP_CALL:
		high := uint32((op>>3)&0x3E | op&0x1)
		low := uint32(mc.fetch(mc.State.Program))
		mc.State.Program += 2
		target := (high<<16 | low) << 1

		if op&OP_JMP_MASK == OP_CALL {
			mc.pushAddr(mc.State.Program >> 1)
			mc.State.Cycle += 3
		} else {
			mc.State.Cycle += 2
		}

		mc.State.Program = target

	// Loads |1001 000d dddd oooo|
	case op&0xFE00 == 0x9000:
		mc.executeLoad(op)

	// Stores|1001 001r rrrr oooo|
	case op&0xFE00 == 0x9200:
		mc.executeStore(op)

	// One operand |1001 010d dddd oooo|
	case op&0xFE00 == 0x9400:
		mc.executeUnary(op)

	// ADIW |1001 0110 KKdd KKKK| Add immediate to word
	// SBIW |1001 0111 KKdd KKKK| Subtract immediate from word
	case op&0xFE00 == 0x9600:
		d := 24 + uint8((op>>4)&0x3)*2
		k := (op & 0xF) | ((op >> 2) & 0x30)
		rdh := mc.Reg(d + 1)
		value := mc.pointer(d)

		var res uint16
		if op&0x0100 == 0 {
			res = value + k
			mc.setFlag(FLAG_V, rdh&0x80 == 0 && res&0x8000 != 0)
			mc.setFlag(FLAG_C, res&0x8000 == 0 && rdh&0x80 != 0)
		} else {
			res = value - k
			mc.setFlag(FLAG_V, rdh&0x80 != 0 && res&0x8000 == 0)
			mc.setFlag(FLAG_C, res&0x8000 != 0 && rdh&0x80 == 0)
		}

		mc.setPointer(d, res)
		mc.setFlag(FLAG_N, res&0x8000 != 0)
		mc.setFlag(FLAG_Z, res == 0)
		mc.setFlag(FLAG_S, mc.Flag(FLAG_N) != mc.Flag(FLAG_V))
		mc.State.Cycle++

	// CBI  |1001 1000 AAAA Abbb| Clear bit in I/O register
	// SBIC |1001 1001 AAAA Abbb| Skip if bit in I/O register cleared
	// SBI  |1001 1010 AAAA Abbb| Set bit in I/O register
	// SBIS |1001 1011 AAAA Abbb| Skip if bit in I/O register set
	case op&0xFC00 == 0x9800:
		addr := ((op >> 3) & 0x1F) + MEMSPACE_IO
		mask := byte(1) << (op & 0x7)

		switch op & 0x0300 {
		case 0x0000:
			mc.write(addr, mc.read(addr)&^mask)
			mc.State.Cycle++
		case 0x0100:
			if mc.read(addr)&mask == 0 {
				mc.skip()
			}
		case 0x0200:
			mc.write(addr, mc.read(addr)|mask)
			mc.State.Cycle++
		case 0x0300:
			if mc.read(addr)&mask != 0 {
				mc.skip()
			}
		}

	// MUL  |1001 11rd dddd rrrr| Unsigned multiply into r1:r0
	case op&0xFC00 == 0x9C00:
		d, r := decodeDR(op)
		res := uint16(mc.Reg(d)) * uint16(mc.Reg(r))
		mc.setPointer(0, res)
		mc.setFlag(FLAG_C, res&0x8000 != 0)
		mc.setFlag(FLAG_Z, res == 0)
		mc.State.Cycle++

	default:
		mc.illegal(op)
	}
}

func (mc *Machine) loadProgram(addr uint16) byte {
	mc.State.Cycle += 2

	if int(addr) >= len(mc.State.Flash) {
		mc.crash("program memory read out of range", "addr", fmt.Sprintf("%#05x", addr))
		return 0
	}

	return mc.State.Flash[addr]
}

// indirect resolves the address for an X/Y/Z addressing mode, applying
// pre-decrement or post-increment to the pointer register.
func (mc *Machine) indirect(base uint8, mode uint16) uint16 {
	addr := mc.pointer(base)
	mc.State.Cycle++

	switch mode {
	case 1: // post-increment
		mc.setPointer(base, addr+1)
	case 2: // pre-decrement
		addr--
		mc.setPointer(base, addr)
	}

	return addr
}

func pointerMode(op uint16) (uint8, uint16, bool) {
	switch op & 0xF {
	case 0x1:
		return REG_Z, 1, true
	case 0x2:
		return REG_Z, 2, true
	case 0x9:
		return REG_Y, 1, true
	case 0xA:
		return REG_Y, 2, true
	case 0xC:
		return REG_X, 0, true
	case 0xD:
		return REG_X, 1, true
	case 0xE:
		return REG_X, 2, true
	}

	return 0, 0, false
}

func (mc *Machine) executeLoad(op uint16) {
	d := uint8((op >> 4) & 0x1F)

	switch op & 0xF {
	// LDS  |1001 000d dddd 0000 kkkk kkkk kkkk kkkk|
	case 0x0:
		addr := mc.fetch(mc.State.Program)
		mc.State.Program += 2
		mc.State.Cycle++
		mc.setReg(d, mc.read(addr))

	// LPM  |1001 000d dddd 0100| Rd, Z
	// LPM  |1001 000d dddd 0101| Rd, Z+
	case 0x4, 0x5:
		z := mc.pointer(REG_Z)
		mc.setReg(d, mc.loadProgram(z))
		if op&0x1 == 1 {
			mc.setPointer(REG_Z, z+1)
		}

	// POP  |1001 000d dddd 1111|
	case 0xF:
		mc.setReg(d, mc.pop())
		mc.State.Cycle++

	// LD   |1001 000d dddd mmmm| X, X+, -X, Y+, -Y, Z+, -Z
	default:
		base, mode, ok := pointerMode(op)
		if !ok {
			mc.illegal(op)
			return
		}
		mc.setReg(d, mc.read(mc.indirect(base, mode)))
	}
}

func (mc *Machine) executeStore(op uint16) {
	r := uint8((op >> 4) & 0x1F)

	switch op & 0xF {
	// STS  |1001 001r rrrr 0000 kkkk kkkk kkkk kkkk|
	case 0x0:
		addr := mc.fetch(mc.State.Program)
		mc.State.Program += 2
		mc.State.Cycle++
		mc.write(addr, mc.Reg(r))

	// PUSH |1001 001r rrrr 1111|
	case 0xF:
		mc.push(mc.Reg(r))
		mc.State.Cycle++

	// ST   |1001 001r rrrr mmmm| X, X+, -X, Y+, -Y, Z+, -Z
	default:
		base, mode, ok := pointerMode(op)
		if !ok {
			mc.illegal(op)
			return
		}
		value := mc.Reg(r)
		mc.write(mc.indirect(base, mode), value)
	}
}

func (mc *Machine) executeUnary(op uint16) {
	d := uint8((op >> 4) & 0x1F)
	rd := mc.Reg(d)

	var res byte

	switch op & 0xF {
	// COM  |1001 010d dddd 0000| One's complement
	case 0x0:
		res = ^rd
		mc.setFlag(FLAG_C, true)
		mc.setFlag(FLAG_V, false)

	// NEG  |1001 010d dddd 0001| Two's complement
	case 0x1:
		res = -rd
		mc.setFlag(FLAG_H, (res|rd)&0x08 != 0)
		mc.setFlag(FLAG_V, res == 0x80)
		mc.setFlag(FLAG_C, res != 0)

	// SWAP |1001 010d dddd 0010| Swap nibbles
	case 0x2:
		mc.setReg(d, rd<<4|rd>>4)
		return

	// INC  |1001 010d dddd 0011|
	case 0x3:
		res = rd + 1
		mc.setFlag(FLAG_V, res == 0x80)

	// ASR  |1001 010d dddd 0101| Arithmetic shift right
	case 0x5:
		res = rd>>1 | rd&0x80
		mc.setFlag(FLAG_C, rd&0x1 == 1)
		mc.setFlag(FLAG_V, (res&0x80 != 0) != (rd&0x1 == 1))

	// LSR  |1001 010d dddd 0110| Logical shift right
	case 0x6:
		res = rd >> 1
		mc.setFlag(FLAG_C, rd&0x1 == 1)
		mc.setFlag(FLAG_V, rd&0x1 == 1)

	// ROR  |1001 010d dddd 0111| Rotate right through carry
	case 0x7:
		res = rd>>1 | mc.carry()<<7
		mc.setFlag(FLAG_C, rd&0x1 == 1)
		mc.setFlag(FLAG_V, (res&0x80 != 0) != (rd&0x1 == 1))

	// DEC  |1001 010d dddd 1010|
	case 0xA:
		res = rd - 1
		mc.setFlag(FLAG_V, res == 0x7F)

	default:
		mc.illegal(op)
		return
	}

	mc.setReg(d, res)
	mc.setFlag(FLAG_N, res&0x80 != 0)
	mc.setFlag(FLAG_Z, res == 0)
	mc.setFlag(FLAG_S, mc.Flag(FLAG_N) != mc.Flag(FLAG_V))
}

func (mc *Machine) carry() byte {
	return mc.State.Data[REG_SREG] & 0x1
}

func (mc *Machine) flagsZNS(res byte) {
	mc.setFlag(FLAG_Z, res == 0)
	mc.setFlag(FLAG_N, res&0x80 != 0)
	mc.setFlag(FLAG_S, mc.Flag(FLAG_N) != mc.Flag(FLAG_V))
}

func (mc *Machine) flagsLogic(res byte) {
	mc.setFlag(FLAG_V, false)
	mc.flagsZNS(res)
}

func (mc *Machine) flagsAdd(rd, rr, res byte) {
	carries := (rd & rr) | (rr &^ res) | (^res & rd)
	overflow := (rd & rr &^ res) | (^rd &^ rr & res)

	mc.setFlag(FLAG_H, carries&0x08 != 0)
	mc.setFlag(FLAG_C, carries&0x80 != 0)
	mc.setFlag(FLAG_V, overflow&0x80 != 0)
	mc.flagsZNS(res)
}

// flagsSub sets flags for subtraction and comparison. With carry set, Z is
// only kept, never set, so multi-byte compares chain.
func (mc *Machine) flagsSub(rd, rr, res byte, carry bool) {
	borrows := (^rd & rr) | (rr & res) | (res &^ rd)
	overflow := (rd &^ rr &^ res) | (^rd & rr & res)

	mc.setFlag(FLAG_H, borrows&0x08 != 0)
	mc.setFlag(FLAG_C, borrows&0x80 != 0)
	mc.setFlag(FLAG_V, overflow&0x80 != 0)

	zero := res == 0
	if carry {
		zero = zero && mc.Flag(FLAG_Z)
	}

	mc.setFlag(FLAG_N, res&0x80 != 0)
	mc.setFlag(FLAG_Z, zero)
	mc.setFlag(FLAG_S, mc.Flag(FLAG_N) != mc.Flag(FLAG_V))
}
