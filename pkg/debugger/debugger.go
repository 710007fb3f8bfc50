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
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/lassandro/goavr/pkg/encoding"
	"github.com/lassandro/goavr/pkg/logging"
	"github.com/lassandro/goavr/pkg/machine"
)

// Listen opens the gdb endpoint. No client is accepted until Attach.
func Listen(addr string, log *slog.Logger) (*Debugger, error) {
	if log == nil {
		log = logging.Discard()
	}

	listener, err := listen(addr)
	if err != nil {
		return nil, fmt.Errorf("gdb listen on %s: %w", addr, err)
	}

	return &Debugger{Log: log, listener: listener}, nil
}

func (dbg *Debugger) Addr() net.Addr {
	return dbg.listener.Addr()
}

// Attach installs dbg on mc, stops the core and blocks until a gdb client
// connects and resumes execution.
func (dbg *Debugger) Attach(mc *machine.Machine) error {
	mc.Debugger = dbg
	mc.State.Run = machine.StateStopped

	dbg.Log.Info("waiting for gdb", "addr", dbg.listener.Addr().String())

	conn, err := dbg.listener.Accept()
	if err != nil {
		return fmt.Errorf("gdb accept: %w", err)
	}

	dbg.Log.Info("gdb connected", "remote", conn.RemoteAddr().String())

	dbg.conn = conn
	dbg.packets = make(chan string, 16)
	go receive(conn, dbg.packets)

	dbg.serve(mc, "")
	return nil
}

// Close drops the client, if any, and the listener.
func (dbg *Debugger) Close() error {
	dbg.disconnect()
	return dbg.listener.Close()
}

func (dbg *Debugger) disconnect() {
	if dbg.conn != nil {
		dbg.conn.Close()
		dbg.conn = nil
	}
}

// Step is called by the core after every instruction.
func (dbg *Debugger) Step(mc *machine.Machine) {
	if dbg.conn == nil {
		if mc.State.Run == machine.StateStopped {
			mc.State.Run = machine.StateRunning
		}
		return
	}

	signal := 0

	switch {
	case dbg.stopped != "":
	case mc.State.Run == machine.StateStopped, dbg.Break, dbg.stepping:
		signal = SIGTRAP
	case dbg.interrupted():
		signal = SIGINT
	default:
		for _, bp := range dbg.Breakpoints {
			if mc.State.Program == bp.Addr {
				signal = SIGTRAP
				break
			}
		}
	}

	reply := dbg.stopped
	if reply == "" {
		if signal == 0 {
			return
		}
		reply = fmt.Sprintf("S%02x", signal)
	}

	dbg.Break = false
	dbg.stepping = false
	dbg.stopped = ""

	mc.State.Run = machine.StateStopped
	dbg.serve(mc, reply)
}

func (dbg *Debugger) watch(addr uint16, access WatchpointType) {
	if dbg.conn == nil || dbg.stopped != "" {
		return
	}

	for _, wp := range dbg.Watchpoints {
		if !wp.contains(addr) {
			continue
		}

		if wp.Type != ReadWriteWatch && wp.Type != access {
			continue
		}

		kind := "watch"
		switch wp.Type {
		case ReadWatch:
			kind = "rwatch"
		case ReadWriteWatch:
			kind = "awatch"
		}

		dbg.stopped = fmt.Sprintf(
			"T%02x%s:%x;", SIGTRAP, kind, uint32(addr)|GDB_DATA_OFFSET,
		)
		return
	}
}

func (dbg *Debugger) Read(addr uint16, mc *machine.Machine) {
	dbg.watch(addr, ReadWatch)
}

func (dbg *Debugger) Write(addr uint16, mc *machine.Machine) {
	dbg.watch(addr, WriteWatch)
}

// interrupted drains packets that arrived while the core was running. Only
// the ^C interrupt means anything then.
func (dbg *Debugger) interrupted() bool {
	for {
		select {
		case pkt, ok := <-dbg.packets:
			if !ok {
				dbg.Log.Info("gdb disconnected")
				dbg.disconnect()
				return false
			}
			if pkt == "\x03" {
				return true
			}
			dbg.Log.Debug("gdb packet ignored while running", "packet", pkt)
		default:
			return false
		}
	}
}

func receive(conn net.Conn, out chan<- string) {
	defer close(out)

	reader := bufio.NewReader(conn)

	for {
		c, err := reader.ReadByte()
		if err != nil {
			return
		}

		switch c {
		case 0x03:
			out <- "\x03"

		case '$':
			data, err := reader.ReadString('#')
			if err != nil {
				return
			}
			data = data[:len(data)-1]

			sum := make([]byte, 2)
			if _, err := io.ReadFull(reader, sum); err != nil {
				return
			}

			want, err := strconv.ParseUint(string(sum), 16, 8)
			if err != nil || byte(want) != encoding.Sum8([]byte(data)) {
				conn.Write([]byte{'-'})
				continue
			}

			conn.Write([]byte{'+'})
			out <- data
		}
	}
}

func (dbg *Debugger) send(data string) {
	if dbg.conn == nil {
		return
	}

	packet := fmt.Sprintf("$%s#%02x", data, encoding.Sum8([]byte(data)))
	if _, err := dbg.conn.Write([]byte(packet)); err != nil {
		dbg.Log.Warn("gdb write failed", "err", err)
	}
}

// serve answers packets until the client resumes, detaches or kills the core.
func (dbg *Debugger) serve(mc *machine.Machine, reply string) {
	if reply != "" {
		dbg.send(reply)
	}

	for {
		pkt, ok := <-dbg.packets
		if !ok {
			dbg.Log.Info("gdb disconnected")
			dbg.disconnect()
			mc.State.Run = machine.StateRunning
			return
		}

		if dbg.handle(mc, pkt) {
			return
		}
	}
}

// handle executes one packet. It reports whether the core should leave the
// stopped state.
func (dbg *Debugger) handle(mc *machine.Machine, pkt string) bool {
	if pkt == "" || pkt == "\x03" {
		return false
	}

	logging.Trace(dbg.Log, "gdb packet", "packet", pkt)

	cmd, args := pkt[0], pkt[1:]

	switch cmd {
	case '?':
		dbg.send(fmt.Sprintf("S%02x", SIGTRAP))

	case 'q':
		switch {
		case strings.HasPrefix(args, "Supported"):
			dbg.send("PacketSize=1000")
		case args == "Attached":
			dbg.send("1")
		default:
			dbg.send("")
		}

	case 'g':
		dbg.send(hex.EncodeToString(readRegisters(mc)))

	case 'G':
		regs, err := hex.DecodeString(args)
		if err != nil || len(regs) < 35 {
			dbg.send("E01")
			break
		}
		writeRegisters(mc, regs)
		dbg.send("OK")

	case 'p':
		n, err := strconv.ParseUint(args, 16, 8)
		if err != nil {
			dbg.send("E01")
			break
		}
		value, ok := readRegister(mc, int(n))
		if !ok {
			dbg.send("E01")
			break
		}
		dbg.send(hex.EncodeToString(value))

	case 'P':
		reg, value, found := strings.Cut(args, "=")
		n, err := strconv.ParseUint(reg, 16, 8)
		raw, herr := hex.DecodeString(value)
		if !found || err != nil || herr != nil || !writeRegister(mc, int(n), raw) {
			dbg.send("E01")
			break
		}
		dbg.send("OK")

	case 'm':
		addr, size, err := parseAddrLen(args)
		if err != nil {
			dbg.send("E01")
			break
		}
		mem, ok := memory(mc, addr, size)
		if !ok {
			dbg.send("E01")
			break
		}
		dbg.send(hex.EncodeToString(mem))

	case 'M':
		target, data, found := strings.Cut(args, ":")
		addr, size, err := parseAddrLen(target)
		raw, herr := hex.DecodeString(data)
		if !found || err != nil || herr != nil || uint32(len(raw)) != size {
			dbg.send("E01")
			break
		}
		mem, ok := memory(mc, addr, size)
		if !ok {
			dbg.send("E01")
			break
		}
		copy(mem, raw)
		dbg.send("OK")

	case 'c', 's':
		if args != "" {
			addr, err := strconv.ParseUint(args, 16, 32)
			if err != nil {
				dbg.send("E01")
				break
			}
			mc.State.Program = uint32(addr)
		}
		dbg.stepping = cmd == 's'
		mc.State.Run = machine.StateRunning
		return true

	case 'k':
		dbg.Log.Info("gdb killed the core")
		dbg.disconnect()
		mc.State.Run = machine.StateDone
		return true

	case 'D':
		dbg.send("OK")
		dbg.Log.Info("gdb detached")
		dbg.disconnect()
		mc.State.Run = machine.StateRunning
		return true

	case 'Z', 'z':
		if err := dbg.point(cmd == 'Z', args); err != nil {
			dbg.Log.Debug("gdb point rejected", "packet", pkt, "err", err)
			dbg.send("")
			break
		}
		dbg.send("OK")

	default:
		dbg.send("")
	}

	return false
}

func parseAddrLen(args string) (uint32, uint32, error) {
	a, l, found := strings.Cut(args, ",")
	if !found {
		return 0, 0, fmt.Errorf("missing length in %q", args)
	}

	addr, err := strconv.ParseUint(a, 16, 32)
	if err != nil {
		return 0, 0, err
	}

	size, err := strconv.ParseUint(l, 16, 32)
	if err != nil {
		return 0, 0, err
	}

	return uint32(addr), uint32(size), nil
}

// point adds or removes a breakpoint (type 0, 1) or watchpoint (2, 3, 4).
func (dbg *Debugger) point(insert bool, args string) error {
	fields := strings.Split(args, ",")
	if len(fields) != 3 {
		return fmt.Errorf("want type,addr,kind")
	}

	kind, err := strconv.ParseUint(fields[0], 16, 8)
	if err != nil {
		return err
	}

	addr, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return err
	}

	size, err := strconv.ParseUint(fields[2], 16, 16)
	if err != nil {
		return err
	}

	switch kind {
	case 0, 1:
		bp := Breakpoint{uint32(addr)}
		for i, existing := range dbg.Breakpoints {
			if existing == bp {
				if !insert {
					dbg.Breakpoints = append(dbg.Breakpoints[:i], dbg.Breakpoints[i+1:]...)
				}
				return nil
			}
		}
		if insert {
			dbg.Breakpoints = append(dbg.Breakpoints, bp)
		}
		return nil

	case 2, 3, 4:
		if uint32(addr) < GDB_DATA_OFFSET || uint32(addr) >= GDB_EEPROM_START {
			return fmt.Errorf("watchpoints need a data address, have %#x", addr)
		}
		wp := Watchpoint{
			Addr: uint16(uint32(addr) - GDB_DATA_OFFSET),
			Size: uint16(size),
			Type: WatchpointType(kind),
		}
		if wp.Size == 0 {
			wp.Size = 1
		}
		for i, existing := range dbg.Watchpoints {
			if existing == wp {
				if !insert {
					dbg.Watchpoints = append(dbg.Watchpoints[:i], dbg.Watchpoints[i+1:]...)
				}
				return nil
			}
		}
		if insert {
			dbg.Watchpoints = append(dbg.Watchpoints, wp)
		}
		return nil
	}

	return fmt.Errorf("unsupported point type %d", kind)
}

// memory maps a gdb address range onto flash or data space.
func memory(mc *machine.Machine, addr, size uint32) ([]byte, bool) {
	space := mc.State.Flash

	if addr >= GDB_EEPROM_START {
		return nil, false
	} else if addr >= GDB_DATA_OFFSET {
		space = mc.State.Data
		addr -= GDB_DATA_OFFSET
	}

	if uint64(addr)+uint64(size) > uint64(len(space)) {
		return nil, false
	}

	return space[addr : addr+size], true
}

// readRegisters lays out r0-r31, SREG, SP and PC as avr-gdb expects.
func readRegisters(mc *machine.Machine) []byte {
	regs := make([]byte, 0, 39)
	regs = append(regs, mc.State.Data[:32]...)
	regs = append(regs, mc.State.Data[machine.REG_SREG])

	sp := mc.SP()
	pc := mc.State.Program
	regs = append(regs, byte(sp), byte(sp>>8))
	regs = append(regs, byte(pc), byte(pc>>8), byte(pc>>16), byte(pc>>24))

	return regs
}

func writeRegisters(mc *machine.Machine, regs []byte) {
	copy(mc.State.Data[:32], regs[:32])
	writeRegister(mc, GDB_REG_SREG, regs[32:33])
	writeRegister(mc, GDB_REG_SP, regs[33:35])
	if len(regs) >= 39 {
		writeRegister(mc, GDB_REG_PC, regs[35:39])
	}
}

func readRegister(mc *machine.Machine, n int) ([]byte, bool) {
	regs := readRegisters(mc)

	switch {
	case n < 32:
		return regs[n : n+1], true
	case n == GDB_REG_SREG:
		return regs[32:33], true
	case n == GDB_REG_SP:
		return regs[33:35], true
	case n == GDB_REG_PC:
		return regs[35:39], true
	}

	return nil, false
}

func writeRegister(mc *machine.Machine, n int, value []byte) bool {
	switch {
	case n < 32 && len(value) == 1:
		mc.State.Data[n] = value[0]
	case n == GDB_REG_SREG && len(value) == 1:
		mc.State.Data[machine.REG_SREG] = value[0]
	case n == GDB_REG_SP && len(value) == 2:
		mc.State.Data[machine.REG_SPL] = value[0]
		mc.State.Data[machine.REG_SPH] = value[1]
	case n == GDB_REG_PC && len(value) >= 2:
		var pc uint32
		for i := len(value) - 1; i >= 0; i-- {
			pc = pc<<8 | uint32(value[i])
		}
		mc.State.Program = pc
	default:
		return false
	}

	return true
}
