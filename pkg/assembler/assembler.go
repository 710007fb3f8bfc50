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

// Package assembler turns AVR assembly source into a flash image.
//
// The accepted syntax is a small subset of avr-as: one statement per line,
// an optional "label:" prefix, ';' comments, and the directives .org (byte
// address), .word and .equ. Branch and jump operands are labels or byte
// addresses. A label used in .word yields its word address, as IJMP and
// ICALL expect.
package assembler

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/lassandro/goavr/pkg/encoding"
)

type mnemonic struct {
	form   Form
	opcode uint16
}

var mnemonics = map[string]mnemonic{
	"nop":   {FORM_NONE, 0x0000},
	"ret":   {FORM_NONE, 0x9508},
	"reti":  {FORM_NONE, 0x9518},
	"sleep": {FORM_NONE, 0x9588},
	"break": {FORM_NONE, 0x9598},
	"wdr":   {FORM_NONE, 0x95A8},
	"ijmp":  {FORM_NONE, 0x9409},
	"icall": {FORM_NONE, 0x9509},
	"sec":   {FORM_NONE, 0x9408},
	"clc":   {FORM_NONE, 0x9488},
	"sez":   {FORM_NONE, 0x9418},
	"clz":   {FORM_NONE, 0x9498},
	"sen":   {FORM_NONE, 0x9428},
	"cln":   {FORM_NONE, 0x94A8},
	"sev":   {FORM_NONE, 0x9438},
	"clv":   {FORM_NONE, 0x94B8},
	"ses":   {FORM_NONE, 0x9448},
	"cls":   {FORM_NONE, 0x94C8},
	"seh":   {FORM_NONE, 0x9458},
	"clh":   {FORM_NONE, 0x94D8},
	"set":   {FORM_NONE, 0x9468},
	"clt":   {FORM_NONE, 0x94E8},
	"sei":   {FORM_NONE, 0x9478},
	"cli":   {FORM_NONE, 0x94F8},

	"add":  {FORM_RD_RR, 0x0C00},
	"adc":  {FORM_RD_RR, 0x1C00},
	"sub":  {FORM_RD_RR, 0x1800},
	"sbc":  {FORM_RD_RR, 0x0800},
	"and":  {FORM_RD_RR, 0x2000},
	"or":   {FORM_RD_RR, 0x2800},
	"eor":  {FORM_RD_RR, 0x2400},
	"mov":  {FORM_RD_RR, 0x2C00},
	"cp":   {FORM_RD_RR, 0x1400},
	"cpc":  {FORM_RD_RR, 0x0400},
	"cpse": {FORM_RD_RR, 0x1000},
	"mul":  {FORM_RD_RR, 0x9C00},

	"clr": {FORM_RD_RD, 0x2400},
	"lsl": {FORM_RD_RD, 0x0C00},
	"rol": {FORM_RD_RD, 0x1C00},
	"tst": {FORM_RD_RD, 0x2000},

	"ldi":  {FORM_RD_K8, 0xE000},
	"cpi":  {FORM_RD_K8, 0x3000},
	"subi": {FORM_RD_K8, 0x5000},
	"sbci": {FORM_RD_K8, 0x4000},
	"andi": {FORM_RD_K8, 0x7000},
	"ori":  {FORM_RD_K8, 0x6000},
	"ser":  {FORM_RD_FF, 0xEF0F},

	"com":  {FORM_RD, 0x9400},
	"neg":  {FORM_RD, 0x9401},
	"swap": {FORM_RD, 0x9402},
	"inc":  {FORM_RD, 0x9403},
	"asr":  {FORM_RD, 0x9405},
	"lsr":  {FORM_RD, 0x9406},
	"ror":  {FORM_RD, 0x9407},
	"dec":  {FORM_RD, 0x940A},
	"push": {FORM_RD, 0x920F},
	"pop":  {FORM_RD, 0x900F},

	"movw": {FORM_RW_RW, 0x0100},
	"adiw": {FORM_RW_K6, 0x9600},
	"sbiw": {FORM_RW_K6, 0x9700},

	"rjmp":  {FORM_REL12, 0xC000},
	"rcall": {FORM_REL12, 0xD000},
	"jmp":   {FORM_ABS22, 0x940C},
	"call":  {FORM_ABS22, 0x940E},

	"brcs": {FORM_REL7, 0xF000},
	"brlo": {FORM_REL7, 0xF000},
	"breq": {FORM_REL7, 0xF001},
	"brmi": {FORM_REL7, 0xF002},
	"brvs": {FORM_REL7, 0xF003},
	"brlt": {FORM_REL7, 0xF004},
	"brhs": {FORM_REL7, 0xF005},
	"brts": {FORM_REL7, 0xF006},
	"brie": {FORM_REL7, 0xF007},
	"brcc": {FORM_REL7, 0xF400},
	"brsh": {FORM_REL7, 0xF400},
	"brne": {FORM_REL7, 0xF401},
	"brpl": {FORM_REL7, 0xF402},
	"brvc": {FORM_REL7, 0xF403},
	"brge": {FORM_REL7, 0xF404},
	"brhc": {FORM_REL7, 0xF405},
	"brtc": {FORM_REL7, 0xF406},
	"brid": {FORM_REL7, 0xF407},

	"in":  {FORM_RD_A6, 0xB000},
	"out": {FORM_A6_RR, 0xB800},

	"cbi":  {FORM_A5_B, 0x9800},
	"sbic": {FORM_A5_B, 0x9900},
	"sbi":  {FORM_A5_B, 0x9A00},
	"sbis": {FORM_A5_B, 0x9B00},

	"bld":  {FORM_RR_B, 0xF800},
	"bst":  {FORM_RR_B, 0xFA00},
	"sbrc": {FORM_RR_B, 0xFC00},
	"sbrs": {FORM_RR_B, 0xFE00},

	"lds": {FORM_RD_K16, 0x9000},
	"sts": {FORM_K16_RR, 0x9200},

	"ld":  {FORM_RD_PTR, 0x0000},
	"ldd": {FORM_RD_PTR, 0x0000},
	"st":  {FORM_PTR_RR, 0x0200},
	"std": {FORM_PTR_RR, 0x0200},

	"lpm": {FORM_LPM, 0x95C8},
}

func parseDirective(ident string) DirectiveType {
	if strings.EqualFold(ident, ".ORG") {
		return DIRECTIVE_ORG
	} else if strings.EqualFold(ident, ".WORD") {
		return DIRECTIVE_WORD
	} else if strings.EqualFold(ident, ".EQU") {
		return DIRECTIVE_EQU
	}

	return DIRECTIVE_INVALID
}

func parseMnemonic(ident string) (mnemonic, bool) {
	m, ok := mnemonics[strings.ToLower(ident)]
	return m, ok
}

func (m mnemonic) size() uint32 {
	switch m.form {
	case FORM_ABS22, FORM_RD_K16, FORM_K16_RR:
		return LONG_SIZE
	}

	return WORD_SIZE
}

func parseLiteral(token *Token) (int64, error) {
	if token.Type == TOKEN_CHAR {
		s, err := strconv.Unquote(token.Value)
		if err != nil || len(s) != 1 {
			return 0, &InvalidLiteralError{token.Position}
		}
		return int64(s[0]), nil
	}

	value := token.Value
	negative := strings.HasPrefix(value, "-")
	if negative {
		value = value[1:]
	}

	var result int64
	var err error

	if len(value) > 2 && (value[:2] == "0b" || value[:2] == "0B") {
		result, err = strconv.ParseInt(value[2:], 2, 32)
	} else {
		result, err = encoding.DecodeNumber(value)
	}

	if err != nil {
		return 0, &InvalidLiteralError{token.Position}
	}

	if negative {
		result = -result
	}

	return result, nil
}

// parseRegister accepts r0 to r31.
func parseRegister(token *Token) (uint16, bool) {
	ident := token.Value

	if token.Type != TOKEN_IDENT || len(ident) < 2 || (ident[0] != 'r' && ident[0] != 'R') {
		return 0, false
	}

	n, err := strconv.ParseUint(ident[1:], 10, 8)
	if err != nil || n > 31 {
		return 0, false
	}

	return uint16(n), true
}

const (
	POINTER_PLAIN = iota
	POINTER_POSTINC
	POINTER_PREDEC
	POINTER_DISP
)

type pointer struct {
	reg  byte
	mode int
	disp int64
}

func parsePointer(value string) (pointer, bool) {
	var ptr pointer

	s := strings.ToLower(value)
	if strings.HasPrefix(s, "-") {
		ptr.mode = POINTER_PREDEC
		s = s[1:]
	}

	if len(s) == 0 || s[0] < 'x' || s[0] > 'z' {
		return ptr, false
	}
	ptr.reg = s[0]
	s = s[1:]

	switch {
	case s == "":
		return ptr, true

	case ptr.mode == POINTER_PREDEC:
		return ptr, false

	case s == "+":
		ptr.mode = POINTER_POSTINC
		return ptr, true

	case s[0] == '+' && ptr.reg != 'x':
		disp, err := encoding.DecodeNumber(s[1:])
		if err != nil {
			return ptr, false
		}
		ptr.mode = POINTER_DISP
		ptr.disp = disp
		return ptr, true
	}

	return ptr, false
}

func classify(value string) TokenType {
	c := value[0]

	switch {
	case c == '.':
		return TOKEN_DIRECTIVE
	case c == '\'':
		return TOKEN_CHAR
	case c >= '0' && c <= '9', c == '$':
		return TOKEN_LITERAL
	case c == '-' && len(value) > 1 && value[1] >= '0' && value[1] <= '9':
		return TOKEN_LITERAL
	}

	if _, ok := parsePointer(value); ok {
		return TOKEN_POINTER
	}

	return TOKEN_IDENT
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '$', c == '+', c == '-':
		return true
	}

	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// tokenize splits one source line. cursor.LineByte is the line's offset in
// the input.
func tokenize(line string, cursor Cursor) (label *Token, tokens []Token, errs []error) {
	position := func(start, end int) Cursor {
		return Cursor{
			Line:     cursor.Line,
			Column:   start + 1,
			Byte:     cursor.LineByte + int64(start),
			Size:     int64(end - start),
			LineByte: cursor.LineByte,
		}
	}

	start := -1
	quoted := false

	flush := func(end int) {
		if start < 0 {
			return
		}

		token := Token{
			Type:     classify(line[start:end]),
			Position: position(start, end),
			Value:    line[start:end],
		}

		if token.Type == TOKEN_IDENT || token.Type == TOKEN_DIRECTIVE {
			for i := start; i < end; i++ {
				if i == start && token.Type == TOKEN_DIRECTIVE {
					continue
				}
				if !isIdentChar(line[i]) {
					errs = append(errs, &UnexpectedCharacterError{position(i, i+1), rune(line[i])})
					break
				}
			}
		}

		tokens = append(tokens, token)
		start = -1
	}

scan:
	for i := 0; i < len(line); i++ {
		c := line[i]

		if quoted {
			if c == '\'' && line[i-1] != '\\' {
				quoted = false
				flush(i + 1)
			}
			continue
		}

		switch {
		// Comments
		case c == ';':
			flush(i)
			break scan

		// Whitespace and operand separators
		case c == ' ', c == '\t', c == '\r', c == ',':
			flush(i)

		// Label definition
		case c == ':':
			if start < 0 || len(tokens) > 0 || label != nil {
				errs = append(errs, &UnexpectedCharacterError{position(i, i+1), rune(c)})
				continue
			}

			flush(i)
			token := tokens[0]
			tokens = tokens[:0]

			if token.Type != TOKEN_IDENT {
				errs = append(errs, &InvalidOperandError{
					token.Position, []TokenType{TOKEN_IDENT}, token.Type,
				})
				continue
			}

			label = &token

		// Character literal
		case c == '\'':
			if start >= 0 {
				errs = append(errs, &UnexpectedCharacterError{position(i, i+1), rune(c)})
				continue
			}
			start = i
			quoted = true

		case isTokenChar(c):
			if start < 0 {
				start = i
			}

		default:
			errs = append(errs, &UnexpectedCharacterError{position(i, i+1), rune(c)})
		}
	}

	if quoted {
		errs = append(errs, &InvalidLiteralError{position(start, len(line))})
		start = -1
	}

	flush(len(line))
	return
}

type statement struct {
	keyword   *Token
	operands  []Token
	addr      uint32
	mnemonic  mnemonic
	directive DirectiveType
}

type assembler struct {
	symbols    map[string]int64
	labels     map[string]uint32
	statements []statement
	words      map[uint32]uint16
	errs       []error
}

// Assemble assembles the whole of input. On failure every error found is
// returned, positioned errors implementing TokenError.
func Assemble(input io.Reader) (*Program, []error) {
	asm := &assembler{
		symbols: make(map[string]int64),
		labels:  make(map[string]uint32),
		words:   make(map[uint32]uint16),
	}

	asm.scan(input)

	if len(asm.errs) == 0 {
		for i := range asm.statements {
			asm.encode(&asm.statements[i])
		}
	}

	if len(asm.errs) > 0 {
		return nil, asm.errs
	}

	return asm.program()
}

// scan tokenizes input, assigns addresses and collects symbols.
func (asm *assembler) scan(input io.Reader) {
	var cursor = Cursor{Line: 1}
	var addr uint32

	scanner := bufio.NewScanner(input)

	for ; scanner.Scan(); cursor.Line++ {
		line := scanner.Text()
		cursor.Byte = cursor.LineByte

		label, tokens, errs := tokenize(line, cursor)
		cursor.LineByte += int64(len(line) + 1)

		if len(errs) > 0 {
			asm.errs = append(asm.errs, errs...)
			continue
		}

		if label != nil {
			asm.define(label, int64(addr))
			asm.labels[label.Value] = addr
		}

		if len(tokens) == 0 {
			continue
		}

		stmt := statement{keyword: &tokens[0], operands: tokens[1:], addr: addr}

		if m, ok := parseMnemonic(tokens[0].Value); ok && tokens[0].Type == TOKEN_IDENT {
			stmt.mnemonic = m
			asm.statements = append(asm.statements, stmt)
			addr += m.size()
			continue
		}

		switch stmt.directive = parseDirective(tokens[0].Value); stmt.directive {
		// .org ADDR
		case DIRECTIVE_ORG:
			if !asm.count(&stmt, 1) {
				break
			}

			value, ok := asm.value(&stmt.operands[0], 0, 0x3FFFFF)
			if !ok {
				break
			}

			if value%WORD_SIZE != 0 {
				asm.errs = append(asm.errs, &UnalignedError{stmt.operands[0].Position, uint32(value)})
				break
			}

			addr = uint32(value)

		// .word A, B, ...
		case DIRECTIVE_WORD:
			if len(stmt.operands) == 0 {
				asm.errs = append(asm.errs, &InvalidNumArgumentsError{stmt.keyword.Position, 1, 0})
				break
			}

			asm.statements = append(asm.statements, stmt)
			addr += uint32(len(stmt.operands)) * WORD_SIZE

		// .equ NAME, VALUE
		case DIRECTIVE_EQU:
			if !asm.count(&stmt, 2) {
				break
			}

			name := &stmt.operands[0]
			if name.Type != TOKEN_IDENT {
				asm.errs = append(asm.errs, &InvalidOperandError{
					name.Position, []TokenType{TOKEN_IDENT}, name.Type,
				})
				break
			}

			if value, ok := asm.value(&stmt.operands[1], -1<<31, 1<<32-1); ok {
				asm.define(name, value)
			}

		default:
			asm.errs = append(asm.errs, &UnknownIdentifierError{tokens[0].Position, tokens[0].Value})
		}
	}
}

func (asm *assembler) define(name *Token, value int64) {
	if _, exists := asm.symbols[name.Value]; exists {
		asm.errs = append(asm.errs, &RedeclaredSymbolError{name.Position, name.Value})
		return
	}

	asm.symbols[name.Value] = value
}

func (asm *assembler) count(stmt *statement, want int) bool {
	if have := len(stmt.operands); have != want {
		asm.errs = append(asm.errs, &InvalidNumArgumentsError{stmt.keyword.Position, want, have})
		return false
	}

	return true
}

// value resolves a literal, character or symbol operand within [min, max].
func (asm *assembler) value(token *Token, min, max int64) (int64, bool) {
	var result int64

	switch token.Type {
	case TOKEN_LITERAL, TOKEN_CHAR:
		literal, err := parseLiteral(token)
		if err != nil {
			asm.errs = append(asm.errs, err)
			return 0, false
		}
		result = literal

	case TOKEN_IDENT:
		symbol, exists := asm.symbols[token.Value]
		if !exists {
			asm.errs = append(asm.errs, &UnknownSymbolError{token.Position, token.Value})
			return 0, false
		}
		result = symbol

	default:
		asm.errs = append(asm.errs, &InvalidOperandError{
			token.Position,
			[]TokenType{TOKEN_LITERAL, TOKEN_CHAR, TOKEN_IDENT},
			token.Type,
		})
		return 0, false
	}

	if result < min || result > max {
		asm.errs = append(asm.errs, &OutOfRangeError{token.Position, min, max, result})
		return 0, false
	}

	return result, true
}

func (asm *assembler) register(token *Token, min, max uint16, even bool) (uint16, bool) {
	reg, ok := parseRegister(token)

	if !ok || reg < min || reg > max || (even && reg%2 != 0) {
		allowed := "r" + strconv.Itoa(int(min)) + "-r" + strconv.Itoa(int(max))
		if even {
			allowed += " (even)"
		}
		asm.errs = append(asm.errs, &InvalidRegisterError{token.Position, allowed})
		return 0, false
	}

	return reg, true
}

// target resolves a jump target to a word address.
func (asm *assembler) target(token *Token) (int64, bool) {
	value, ok := asm.value(token, 0, 0x7FFFFF)
	if !ok {
		return 0, false
	}

	if value%WORD_SIZE != 0 {
		asm.errs = append(asm.errs, &UnalignedError{token.Position, uint32(value)})
		return 0, false
	}

	return value / WORD_SIZE, true
}

func (asm *assembler) emit(stmt *statement, addr uint32, word uint16) {
	if _, exists := asm.words[addr]; exists {
		asm.errs = append(asm.errs, &OverlapError{stmt.keyword.Position, addr})
		return
	}

	asm.words[addr] = word
}

func (asm *assembler) encode(stmt *statement) {
	if stmt.directive == DIRECTIVE_WORD {
		for i := range stmt.operands {
			operand := &stmt.operands[i]

			var value int64
			var ok bool

			if addr, isLabel := asm.labels[operand.Value]; isLabel && operand.Type == TOKEN_IDENT {
				value, ok = int64(addr/WORD_SIZE), true
			} else {
				value, ok = asm.value(operand, -0x8000, 0xFFFF)
			}

			if ok {
				asm.emit(stmt, stmt.addr+uint32(i)*WORD_SIZE, uint16(value))
			}
		}
		return
	}

	op, ok := asm.instruction(stmt)
	if !ok {
		return
	}

	for i, word := range op {
		asm.emit(stmt, stmt.addr+uint32(i)*WORD_SIZE, word)
	}
}

func (asm *assembler) instruction(stmt *statement) ([]uint16, bool) {
	m := stmt.mnemonic
	ops := stmt.operands
	scratch := m.opcode

	switch m.form {
	// RET  |1001 0101 0000 1000|
	case FORM_NONE:
		if !asm.count(stmt, 0) {
			return nil, false
		}

	// ADD  |0000 11rd dddd rrrr|
	case FORM_RD_RR:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 31, false)
		r, okr := asm.register(&ops[1], 0, 31, false)
		if !okd || !okr {
			return nil, false
		}
		scratch |= (r&0x10)<<5 | d<<4 | r&0xF

	// CLR  |0010 01dd dddd dddd|
	case FORM_RD_RD:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		d, ok := asm.register(&ops[0], 0, 31, false)
		if !ok {
			return nil, false
		}
		scratch |= (d&0x10)<<5 | d<<4 | d&0xF

	// LDI  |1110 KKKK dddd KKKK|
	case FORM_RD_K8:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 16, 31, false)
		k, okk := asm.value(&ops[1], -128, 255)
		if !okd || !okk {
			return nil, false
		}
		scratch |= uint16(k&0xF0)<<4 | (d-16)<<4 | uint16(k&0xF)

	// SER  |1110 1111 dddd 1111|
	case FORM_RD_FF:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		d, ok := asm.register(&ops[0], 16, 31, false)
		if !ok {
			return nil, false
		}
		scratch |= (d - 16) << 4

	// INC  |1001 010d dddd 0011|
	case FORM_RD:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		d, ok := asm.register(&ops[0], 0, 31, false)
		if !ok {
			return nil, false
		}
		scratch |= d << 4

	// MOVW |0000 0001 dddd rrrr|
	case FORM_RW_RW:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 30, true)
		r, okr := asm.register(&ops[1], 0, 30, true)
		if !okd || !okr {
			return nil, false
		}
		scratch |= (d/2)<<4 | r/2

	// ADIW |1001 0110 KKdd KKKK|
	case FORM_RW_K6:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 24, 30, true)
		k, okk := asm.value(&ops[1], 0, 63)
		if !okd || !okk {
			return nil, false
		}
		scratch |= uint16(k&0x30)<<2 | ((d-24)/2)<<4 | uint16(k&0xF)

	// RJMP |1100 kkkk kkkk kkkk|
	case FORM_REL12:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		offset, ok := asm.relative(stmt, &ops[0], 12)
		if !ok {
			return nil, false
		}
		scratch |= uint16(offset) & 0xFFF

	// BRBS |1111 00kk kkkk ksss|
	case FORM_REL7:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		offset, ok := asm.relative(stmt, &ops[0], 7)
		if !ok {
			return nil, false
		}
		scratch |= (uint16(offset) & 0x7F) << 3

	// JMP  |1001 010k kkkk 110k kkkk kkkk kkkk kkkk|
	case FORM_ABS22:
		if !asm.count(stmt, 1) {
			return nil, false
		}
		k, ok := asm.target(&ops[0])
		if !ok {
			return nil, false
		}
		hi := uint16(k >> 16)
		scratch |= (hi&0x3E)<<3 | hi&0x1
		return []uint16{scratch, uint16(k)}, true

	// IN   |1011 0AAd dddd AAAA|
	case FORM_RD_A6:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 31, false)
		a, oka := asm.value(&ops[1], 0, 63)
		if !okd || !oka {
			return nil, false
		}
		scratch |= uint16(a&0x30)<<5 | d<<4 | uint16(a&0xF)

	// OUT  |1011 1AAr rrrr AAAA|
	case FORM_A6_RR:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		a, oka := asm.value(&ops[0], 0, 63)
		r, okr := asm.register(&ops[1], 0, 31, false)
		if !oka || !okr {
			return nil, false
		}
		scratch |= uint16(a&0x30)<<5 | r<<4 | uint16(a&0xF)

	// SBI  |1001 1010 AAAA Abbb|
	case FORM_A5_B:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		a, oka := asm.value(&ops[0], 0, 31)
		b, okb := asm.value(&ops[1], 0, 7)
		if !oka || !okb {
			return nil, false
		}
		scratch |= uint16(a)<<3 | uint16(b)

	// SBRS |1111 111r rrrr 0bbb|
	case FORM_RR_B:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		r, okr := asm.register(&ops[0], 0, 31, false)
		b, okb := asm.value(&ops[1], 0, 7)
		if !okr || !okb {
			return nil, false
		}
		scratch |= r<<4 | uint16(b)

	// LDS  |1001 000d dddd 0000 kkkk kkkk kkkk kkkk|
	case FORM_RD_K16:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 31, false)
		k, okk := asm.value(&ops[1], 0, 0xFFFF)
		if !okd || !okk {
			return nil, false
		}
		return []uint16{scratch | d<<4, uint16(k)}, true

	// STS  |1001 001r rrrr 0000 kkkk kkkk kkkk kkkk|
	case FORM_K16_RR:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		k, okk := asm.value(&ops[0], 0, 0xFFFF)
		r, okr := asm.register(&ops[1], 0, 31, false)
		if !okk || !okr {
			return nil, false
		}
		return []uint16{scratch | r<<4, uint16(k)}, true

	// LD   |1001 000d dddd mmmm|
	// LDD  |10q0 qq0d dddd bqqq|
	case FORM_RD_PTR:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 31, false)
		mode, okp := asm.pointer(&ops[1])
		if !okd || !okp {
			return nil, false
		}
		scratch |= mode | d<<4

	// ST   |1001 001r rrrr mmmm|
	// STD  |10q0 qq1r rrrr bqqq|
	case FORM_PTR_RR:
		if !asm.count(stmt, 2) {
			return nil, false
		}
		mode, okp := asm.pointer(&ops[0])
		r, okr := asm.register(&ops[1], 0, 31, false)
		if !okp || !okr {
			return nil, false
		}
		scratch |= mode | r<<4

	// LPM  |1001 0101 1100 1000|
	// LPM  |1001 000d dddd 010+|
	case FORM_LPM:
		if len(ops) == 0 {
			break
		}
		if !asm.count(stmt, 2) {
			return nil, false
		}
		d, okd := asm.register(&ops[0], 0, 31, false)
		ptr, okp := parsePointer(ops[1].Value)
		if !okd {
			return nil, false
		}
		if ops[1].Type != TOKEN_POINTER || !okp || ptr.reg != 'z' ||
			(ptr.mode != POINTER_PLAIN && ptr.mode != POINTER_POSTINC) {
			asm.errs = append(asm.errs, &InvalidOperandError{
				ops[1].Position, []TokenType{TOKEN_POINTER}, ops[1].Type,
			})
			return nil, false
		}
		scratch = 0x9004 | d<<4
		if ptr.mode == POINTER_POSTINC {
			scratch |= 0x1
		}
	}

	return []uint16{scratch}, true
}

// relative computes a word offset from the instruction after stmt to token,
// which must fit a signed field of bits.
func (asm *assembler) relative(stmt *statement, token *Token, bits uint) (int64, bool) {
	k, ok := asm.target(token)
	if !ok {
		return 0, false
	}

	offset := k - int64(stmt.addr/WORD_SIZE) - 1
	limit := int64(1) << (bits - 1)

	if offset < -limit || offset >= limit {
		asm.errs = append(asm.errs, &OutOfRangeError{token.Position, -limit, limit - 1, offset})
		return 0, false
	}

	return offset, true
}

// pointer encodes an X, Y or Z operand into the mode bits shared by LD and ST.
func (asm *assembler) pointer(token *Token) (uint16, bool) {
	ptr, ok := parsePointer(token.Value)
	if token.Type != TOKEN_POINTER || !ok {
		asm.errs = append(asm.errs, &InvalidOperandError{
			token.Position, []TokenType{TOKEN_POINTER}, token.Type,
		})
		return 0, false
	}

	switch ptr.mode {
	case POINTER_PLAIN:
		switch ptr.reg {
		case 'x':
			return 0x900C, true
		case 'y':
			return 0x8008, true
		}
		return 0x8000, true

	case POINTER_POSTINC:
		switch ptr.reg {
		case 'x':
			return 0x900D, true
		case 'y':
			return 0x9009, true
		}
		return 0x9001, true

	case POINTER_PREDEC:
		switch ptr.reg {
		case 'x':
			return 0x900E, true
		case 'y':
			return 0x900A, true
		}
		return 0x9002, true
	}

	q := ptr.disp
	if q < 0 || q > 63 {
		asm.errs = append(asm.errs, &OutOfRangeError{token.Position, 0, 63, q})
		return 0, false
	}

	mode := uint16(0x8000) | uint16(q&0x20)<<8 | uint16(q&0x18)<<7 | uint16(q&0x7)
	if ptr.reg == 'y' {
		mode |= 0x8
	}

	return mode, true
}

// program flattens the emitted words. Gaps read as erased flash.
func (asm *assembler) program() (*Program, []error) {
	if len(asm.words) == 0 {
		return nil, []error{&EmptyProgramError{}}
	}

	addrs := make([]uint32, 0, len(asm.words))
	for addr := range asm.words {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	base := addrs[0]
	end := addrs[len(addrs)-1] + WORD_SIZE

	data := make([]byte, end-base)
	for i := range data {
		data[i] = 0xFF
	}

	for _, addr := range addrs {
		word := asm.words[addr]
		data[addr-base] = byte(word)
		data[addr-base+1] = byte(word >> 8)
	}

	return &Program{Base: base, Data: data, Labels: asm.labels}, nil
}
