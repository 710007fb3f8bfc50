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

package harness

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lassandro/goavr/pkg/debugger"
	"github.com/lassandro/goavr/pkg/ihex"
	"github.com/lassandro/goavr/pkg/irq"
	"github.com/lassandro/goavr/pkg/logging"
	"github.com/lassandro/goavr/pkg/machine"
)

// New creates the core named by cfg.MCU. An unknown model is reported as a
// *machine.CoreCreationError.
func New(cfg Config, log *slog.Logger) (*Harness, error) {
	if log == nil {
		log = logging.Discard()
	}

	pool := irq.NewPool()

	mc, err := machine.New(cfg.MCU, pool, log)
	if err != nil {
		return nil, err
	}
	mc.Frequency = cfg.Frequency

	log.Info("core created", "mcu", mc.MCU.Name, "freq", cfg.Frequency)

	return &Harness{
		Config:  cfg,
		Output:  os.Stdout,
		Machine: mc,
		Pool:    pool,
		Log:     log,
		phase:   PhaseInitializing,
	}, nil
}

func (h *Harness) Phase() Phase {
	return h.phase
}

func (h *Harness) expect(op string, phases ...Phase) error {
	for _, p := range phases {
		if h.phase == p {
			return nil
		}
	}

	return fmt.Errorf("%w: %s while %s", ErrPhase, op, h.phase)
}

// Load reads the firmware at path into flash and points the core at it.
// Failures are *ihex.LoadError.
func (h *Harness) Load(path string) (*ihex.Image, error) {
	if err := h.expect("load", PhaseInitializing); err != nil {
		return nil, err
	}

	image, err := ihex.LoadLimit(path, h.Machine.MCU.FlashSize)
	if err != nil {
		return nil, err
	}

	if err := h.Machine.LoadFlash(image.Base, image.Data); err != nil {
		return nil, &ihex.LoadError{Path: path, Err: err}
	}

	h.Machine.State.Program = image.Base
	h.Machine.CodeEnd = h.Machine.MCU.FlashEnd()

	h.Log.Info(
		"firmware loaded",
		"path", path,
		"base", fmt.Sprintf("%#05x", image.Base),
		"size", image.Size,
	)

	h.phase = PhaseReady
	return image, nil
}

// Wire connects UART0's output to the sink, and Input to UART0's input when
// set. The IRQ pool is frozen afterwards.
func (h *Harness) Wire() error {
	if err := h.expect("wire", PhaseReady); err != nil {
		return err
	}

	output, err := h.Machine.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUTPUT)
	if err != nil {
		return err
	}

	names := []string{"8<uart_in"}
	if h.Input != nil {
		names = append(names, "8>uart_out")
	}

	lines := h.Pool.Alloc(0, len(names), names)
	h.sink = lines[0]

	if err := h.Pool.Subscribe(h.sink, irq.ObserverFunc(h.onUARTByte)); err != nil {
		return err
	}

	if err := h.Pool.Connect(output, h.sink); err != nil {
		return err
	}

	if h.Input != nil {
		if err := h.wireInput(lines[1]); err != nil {
			return err
		}
	}

	h.Pool.Freeze()
	h.phase = PhaseWired
	return nil
}

func (h *Harness) wireInput(source *irq.Line) error {
	input, err := h.Machine.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_INPUT)
	if err != nil {
		return err
	}

	xon, err := h.Machine.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUT_XON)
	if err != nil {
		return err
	}

	xoff, err := h.Machine.IOGetIRQ(machine.UARTGetIRQ('0'), machine.UART_IRQ_OUT_XOFF)
	if err != nil {
		return err
	}

	if err := h.Pool.Connect(source, input); err != nil {
		return err
	}

	if err := h.Pool.Subscribe(xon, irq.ObserverFunc(func(*irq.Line, uint32) {
		h.xoff = false
	})); err != nil {
		return err
	}

	if err := h.Pool.Subscribe(xoff, irq.ObserverFunc(func(*irq.Line, uint32) {
		h.xoff = true
	})); err != nil {
		return err
	}

	h.input = source
	return nil
}

// onUARTByte is the UART sink. The sentinel halts the core inside the
// instruction that sent it, so an attached debugger is not re-entered.
func (h *Harness) onUARTByte(l *irq.Line, value uint32) {
	if value == UART_SENTINEL {
		h.terminate = true
		h.Machine.Halt()
		return
	}

	fmt.Fprintf(h.Output, "uart: %X\n", value)
}

// AttachDebugger listens on cfg.GDBAddr and blocks until a gdb client resumes
// the core.
func (h *Harness) AttachDebugger() error {
	if err := h.expect("attach debugger", PhaseWired); err != nil {
		return err
	}

	dbg, err := debugger.Listen(h.Config.GDBAddr, h.Log)
	if err != nil {
		return err
	}

	h.debugger = dbg
	h.phase = PhaseWaitingForDebugger

	return dbg.Attach(h.Machine)
}

// Run steps the core until it reaches a terminal state or the firmware
// writes the sentinel byte.
func (h *Harness) Run() (Result, error) {
	if err := h.expect("run", PhaseWired, PhaseWaitingForDebugger); err != nil {
		return Result{}, err
	}

	h.phase = PhaseRunning
	h.Log.Info("running", "pc", fmt.Sprintf("%#05x", h.Machine.State.Program))

	defer h.finish()

	mc := h.Machine
	var steps uint64

	for {
		if h.input != nil && steps%INPUT_POLL_INTERVAL == 0 && !h.xoff {
			if err := h.poll(); err != nil {
				return Result{}, err
			}
		}
		steps++

		state := mc.Step()

		if h.terminate {
			h.Log.Info("sentinel received", "cycles", mc.State.Cycle)
			return Result{ReasonSentinel, state, mc.State.Cycle}, nil
		}

		switch state {
		case machine.StateDone:
			h.Log.Info("core done", "cycles", mc.State.Cycle)
			return Result{ReasonDone, state, mc.State.Cycle}, nil

		case machine.StateCrashed:
			h.Log.Warn(
				"core crashed",
				"pc", fmt.Sprintf("%#05x", mc.State.Program),
				"cycles", mc.State.Cycle,
			)
			return Result{ReasonCrashed, state, mc.State.Cycle}, nil
		}
	}
}

func (h *Harness) poll() error {
	b, ok, err := h.Input.ReadByte()
	if err == io.EOF {
		h.Log.Debug("input closed")
		h.input = nil
		return nil
	} else if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if ok {
		logging.Trace(h.Log, "uart input", "byte", fmt.Sprintf("%#02x", b))
		h.input.Raise(uint32(b))
	}

	return nil
}

func (h *Harness) finish() {
	h.phase = PhaseFinished

	if h.debugger != nil {
		h.debugger.Close()
		h.debugger = nil
	}
}
