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

// Package harness loads a firmware image into a simulated core, wires the
// UART output to a sink and runs the core to completion.
package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lassandro/goavr/pkg/debugger"
	"github.com/lassandro/goavr/pkg/irq"
	"github.com/lassandro/goavr/pkg/machine"
)

// UART_SENTINEL written by the firmware ends the run successfully.
const UART_SENTINEL uint32 = 0x04

// Input sources are polled once every INPUT_POLL_INTERVAL steps.
const INPUT_POLL_INTERVAL = 1024

var ErrPhase = errors.New("harness: operation out of order")

type Phase uint

const (
	PhaseInitializing Phase = iota
	PhaseReady
	PhaseWired
	PhaseWaitingForDebugger
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseWired:
		return "wired"
	case PhaseWaitingForDebugger:
		return "waiting-for-debugger"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	}

	return fmt.Sprintf("phase(%d)", uint(p))
}

type Reason uint

const (
	ReasonDone Reason = iota
	ReasonCrashed
	ReasonSentinel
)

func (r Reason) String() string {
	switch r {
	case ReasonDone:
		return "done"
	case ReasonCrashed:
		return "crashed"
	case ReasonSentinel:
		return "sentinel"
	}

	return fmt.Sprintf("reason(%d)", uint(r))
}

// Result describes how the run loop ended. Every reason counts as success.
type Result struct {
	Reason Reason
	State  machine.RunState
	Cycles uint64
}

type Config struct {
	MCU       string
	Frequency uint32
	LogLevel  string

	GDB     bool
	GDBAddr string
}

func DefaultConfig() Config {
	return Config{
		MCU:       "atmega328p",
		Frequency: 16000000,
		LogLevel:  "info",
		GDB:       false,
		GDBAddr:   ":1234",
	}
}

// ByteSource feeds bytes to the firmware's UART. ReadByte must not block;
// ok is false when nothing is available.
type ByteSource interface {
	ReadByte() (b byte, ok bool, err error)
}

type Harness struct {
	Config Config

	// Output receives the UART sink's diagnostics
	Output io.Writer

	// Input, if set before Wire, is forwarded to UART0
	Input ByteSource

	Machine *machine.Machine
	Pool    *irq.Pool
	Log     *slog.Logger

	debugger *debugger.Debugger
	phase    Phase

	sink  *irq.Line
	input *irq.Line

	terminate bool
	xoff      bool
}
