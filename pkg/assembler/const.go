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

package assembler

const (
	TOKEN_NONE TokenType = iota
	TOKEN_IDENT
	TOKEN_DIRECTIVE
	TOKEN_LITERAL
	TOKEN_CHAR
	TOKEN_POINTER
)

const (
	DIRECTIVE_INVALID DirectiveType = iota
	DIRECTIVE_ORG
	DIRECTIVE_WORD
	DIRECTIVE_EQU
)

// Operand layouts. The mnemonic table maps every instruction to one of these.
const (
	FORM_INVALID Form = iota
	FORM_NONE         // ret
	FORM_RD_RR        // add r1, r2
	FORM_RD_RD        // clr r1  => eor r1, r1
	FORM_RD_K8        // ldi r16, 0xFF
	FORM_RD           // inc r1
	FORM_RD_FF        // ser r16 => ldi r16, 0xFF
	FORM_RW_RW        // movw r24, r30
	FORM_RW_K6        // adiw r24, 1
	FORM_REL12        // rjmp label
	FORM_REL7         // breq label
	FORM_ABS22        // jmp label
	FORM_RD_A6        // in r16, 0x3F
	FORM_A6_RR        // out 0x3F, r16
	FORM_A5_B         // sbi 0x05, 5
	FORM_RR_B         // sbrs r16, 7
	FORM_RD_K16       // lds r16, 0x0100
	FORM_K16_RR       // sts 0x0100, r16
	FORM_RD_PTR       // ld r16, X+
	FORM_PTR_RR       // st -Y, r16
	FORM_LPM          // lpm | lpm r16, Z | lpm r16, Z+
)

// Instruction sizes in bytes
const (
	WORD_SIZE = 2
	LONG_SIZE = 4
)
