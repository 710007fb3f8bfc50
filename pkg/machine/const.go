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

// SREG bits
const (
	FLAG_C uint8 = iota
	FLAG_Z
	FLAG_N
	FLAG_V
	FLAG_S
	FLAG_H
	FLAG_T
	FLAG_I
)

// Data space layout shared by the supported models
const (
	MEMSPACE_REGISTERS uint16 = 0x0000
	MEMSPACE_IO               = 0x0020
	MEMSPACE_EXT_IO           = 0x0060
	MEMSPACE_SRAM             = 0x0100
)

const (
	REG_SPL  uint16 = 0x5D
	REG_SPH         = 0x5E
	REG_SREG        = 0x5F
)

// Pointer register pairs
const (
	REG_X uint8 = 26
	REG_Y uint8 = 28
	REG_Z uint8 = 30
)

// USART register offsets from the peripheral's base (UCSRnA)
const (
	UART_UCSRA uint16 = 0
	UART_UCSRB        = 1
	UART_UCSRC        = 2
	UART_UBRRL        = 4
	UART_UBRRH        = 5
	UART_UDR          = 6
)

// UCSRnA bits
const (
	UART_RXC  uint8 = 1 << 7
	UART_TXC        = 1 << 6
	UART_UDRE       = 1 << 5
)

// UCSRnB bits
const (
	UART_RXCIE uint8 = 1 << 7
	UART_TXCIE       = 1 << 6
	UART_UDRIE       = 1 << 5
	UART_RXEN        = 1 << 4
	UART_TXEN        = 1 << 3
)

// UART IRQ lines, indexes into the lines returned by IOGetIRQ
const (
	UART_IRQ_INPUT = iota
	UART_IRQ_OUTPUT
	UART_IRQ_OUT_XON
	UART_IRQ_OUT_XOFF
	UART_IRQ_COUNT
)

const UART_FIFO_SIZE = 64

// Mask/match pairs for the opcode groups decoded in Step
const (
	OP_LDD_MASK uint16 = 0xD200
	OP_LDD      uint16 = 0x8000
	OP_STD      uint16 = 0x8200

	OP_JMP_MASK uint16 = 0xFE0E
	OP_JMP      uint16 = 0x940C
	OP_CALL     uint16 = 0x940E

	OP_LDS_MASK uint16 = 0xFC0F
	OP_LDS      uint16 = 0x9000

	OP_RET   uint16 = 0x9508
	OP_RETI  uint16 = 0x9518
	OP_SLEEP uint16 = 0x9588
	OP_BREAK uint16 = 0x9598
	OP_WDR   uint16 = 0x95A8
	OP_LPM   uint16 = 0x95C8
	OP_IJMP  uint16 = 0x9409
	OP_ICALL uint16 = 0x9509
)
