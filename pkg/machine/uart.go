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

	"github.com/lassandro/goavr/pkg/irq"
)

// IOCtl selects a peripheral for IOGetIRQ.
type IOCtl uint32

func ioctlDef(a, b, c, d byte) IOCtl {
	return IOCtl(a)<<24 | IOCtl(b)<<16 | IOCtl(c)<<8 | IOCtl(d)
}

// UARTGetIRQ selects the IRQ lines of USART name.
func UARTGetIRQ(name byte) IOCtl {
	return ioctlDef('u', 'a', 'r', name)
}

// UART is a USART with instant transmission. Bytes written to UDRn are
// raised on UART_IRQ_OUTPUT; values raised on UART_IRQ_INPUT are queued for
// the firmware to read. UART_IRQ_OUT_XOFF is raised when the receive queue
// fills and UART_IRQ_OUT_XON once it has room again.
type UART struct {
	Name byte

	cfg   UARTConfig
	mc    *Machine
	lines []*irq.Line

	fifo []byte
	txc  bool
	xoff bool
}

func newUART(mc *Machine, cfg UARTConfig) (*UART, error) {
	uart := &UART{Name: cfg.Name, cfg: cfg, mc: mc}

	n := string(cfg.Name)
	uart.lines = mc.pool.Alloc(0, UART_IRQ_COUNT, []string{
		"8<uart" + n + ".in",
		"8>uart" + n + ".out",
		">uart" + n + ".xon",
		">uart" + n + ".xoff",
	})

	if err := mc.pool.Subscribe(
		uart.lines[UART_IRQ_INPUT], irq.ObserverFunc(uart.receive),
	); err != nil {
		return nil, err
	}

	return uart, nil
}

// IRQ returns one of the UART_IRQ_* lines.
func (u *UART) IRQ(index int) (*irq.Line, error) {
	if index < 0 || index >= len(u.lines) {
		return nil, fmt.Errorf("%w: uart%c irq %d", ErrNoPeripheral, u.Name, index)
	}

	return u.lines[index], nil
}

// Pending is the number of received bytes not yet read by the firmware.
func (u *UART) Pending() int {
	return len(u.fifo)
}

func (u *UART) reg(offset uint16) *byte {
	return &u.mc.State.Data[u.cfg.Base+offset]
}

func (u *UART) status() byte {
	status := *u.reg(UART_UCSRA) &^ (UART_RXC | UART_TXC)
	status |= UART_UDRE

	if len(u.fifo) > 0 {
		status |= UART_RXC
	}

	if u.txc {
		status |= UART_TXC
	}

	return status
}

func (u *UART) reset() {
	u.fifo = u.fifo[:0]
	u.txc = false
	u.xoff = false

	*u.reg(UART_UCSRA) = UART_UDRE
	*u.reg(UART_UCSRC) = 0x06
}

func (u *UART) owns(addr uint16) bool {
	return addr >= u.cfg.Base && addr <= u.cfg.Base+UART_UDR
}

func (u *UART) read(addr uint16) (byte, bool) {
	if !u.owns(addr) {
		return 0, false
	}

	switch addr - u.cfg.Base {
	case UART_UCSRA:
		return u.status(), true

	case UART_UDR:
		if len(u.fifo) == 0 {
			u.mc.Log.Debug("uart read with empty receive buffer", "uart", string(u.Name))
			return 0, true
		}

		value := u.fifo[0]
		u.fifo = u.fifo[1:]

		if u.xoff && len(u.fifo) < UART_FIFO_SIZE {
			u.xoff = false
			u.lines[UART_IRQ_OUT_XON].Raise(1)
		}

		return value, true
	}

	return *u.reg(addr - u.cfg.Base), true
}

func (u *UART) write(addr uint16, value byte) bool {
	if !u.owns(addr) {
		return false
	}

	switch addr - u.cfg.Base {
	case UART_UCSRA:
		// TXC is cleared by writing a one to it
		if value&UART_TXC != 0 {
			u.txc = false
		}
		*u.reg(UART_UCSRA) = u.status()

	case UART_UBRRL, UART_UBRRH:
		ubrr := uint32(*u.reg(UART_UBRRL)) | uint32(*u.reg(UART_UBRRH)&0x0F)<<8
		if u.mc.Frequency > 0 {
			u.mc.Log.Debug(
				"uart baud rate", "uart", string(u.Name),
				"baud", u.mc.Frequency/(16*(ubrr+1)),
			)
		}

	case UART_UDR:
		if *u.reg(UART_UCSRB)&UART_TXEN == 0 {
			u.mc.Log.Debug("uart write with transmitter disabled", "uart", string(u.Name))
		}

		u.txc = true
		*u.reg(UART_UCSRA) = u.status()
		u.lines[UART_IRQ_OUTPUT].Raise(uint32(value))
	}

	return true
}

func (u *UART) pending() (int, bool) {
	control := *u.reg(UART_UCSRB)

	switch {
	case control&UART_RXCIE != 0 && len(u.fifo) > 0:
		return u.cfg.RXVector, true
	case control&UART_UDRIE != 0:
		return u.cfg.UDREVector, true
	case control&UART_TXCIE != 0 && u.txc:
		return u.cfg.TXVector, true
	}

	return 0, false
}

func (u *UART) ack(vector int) {
	if vector == u.cfg.TXVector {
		u.txc = false
	}
}

func (u *UART) receive(l *irq.Line, value uint32) {
	if len(u.fifo) >= UART_FIFO_SIZE {
		u.mc.Log.Warn("uart receive buffer full, byte dropped", "uart", string(u.Name))
		return
	}

	u.fifo = append(u.fifo, byte(value))

	if len(u.fifo) == UART_FIFO_SIZE && !u.xoff {
		u.xoff = true
		u.lines[UART_IRQ_OUT_XOFF].Raise(1)
	}
}
