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

import (
	"fmt"
	"strings"
)

type TokenType uint
type DirectiveType uint
type Form uint

type Cursor struct {
	Line     int
	Column   int
	Byte     int64
	Size     int64
	LineByte int64
}

type Token struct {
	Type     TokenType
	Position Cursor
	Value    string
}

func (t TokenType) String() string {
	switch t {
	case TOKEN_IDENT:
		return "Identifier"
	case TOKEN_DIRECTIVE:
		return "Directive"
	case TOKEN_LITERAL:
		return "Literal"
	case TOKEN_CHAR:
		return "Character"
	case TOKEN_POINTER:
		return "Pointer"
	}

	return "<invalid>"
}

// Program is an assembled flash image. Data[0] belongs at byte address Base.
type Program struct {
	Base uint32
	Data []byte

	// Label byte addresses
	Labels map[string]uint32
}

type TokenError interface {
	error
	GetPosition() Cursor
}

type InvalidOperandError struct {
	Position Cursor
	Required []TokenType
	Received TokenType
}

func (err *InvalidOperandError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidOperandError) Error() string {
	required := make([]string, 0, len(err.Required))
	for _, t := range err.Required {
		required = append(required, t.String())
	}

	return fmt.Sprintf(
		"%02d:%02d: Invalid operand\n\twant:%s\n\thave:%s",
		err.Position.Line,
		err.Position.Column,
		strings.Join(required, " or "),
		err.Received,
	)
}

type InvalidNumArgumentsError struct {
	Position Cursor
	Required int
	Received int
}

func (err *InvalidNumArgumentsError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidNumArgumentsError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Invalid number of operands\n\twant:%d\n\thave:%d",
		err.Position.Line,
		err.Position.Column,
		err.Required,
		err.Received,
	)
}

type OutOfRangeError struct {
	Position Cursor
	Min      int64
	Max      int64
	Received int64
}

func (err *OutOfRangeError) GetPosition() Cursor {
	return err.Position
}

func (err *OutOfRangeError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Value out of range\n\twant:%d..%d\n\thave:%d",
		err.Position.Line,
		err.Position.Column,
		err.Min,
		err.Max,
		err.Received,
	)
}

type InvalidLiteralError struct {
	Position Cursor
}

func (err *InvalidLiteralError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidLiteralError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Invalid numeric literal",
		err.Position.Line,
		err.Position.Column,
	)
}

type InvalidRegisterError struct {
	Position Cursor
	Allowed  string
}

func (err *InvalidRegisterError) GetPosition() Cursor {
	return err.Position
}

func (err *InvalidRegisterError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Invalid register\n\twant:%s",
		err.Position.Line,
		err.Position.Column,
		err.Allowed,
	)
}

type UnexpectedCharacterError struct {
	Position Cursor
	Received rune
}

func (err *UnexpectedCharacterError) GetPosition() Cursor {
	return err.Position
}

func (err *UnexpectedCharacterError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Unexpected character '%c'",
		err.Position.Line,
		err.Position.Column,
		err.Received,
	)
}

type RedeclaredSymbolError struct {
	Position Cursor
	Received string
}

func (err *RedeclaredSymbolError) GetPosition() Cursor {
	return err.Position
}

func (err *RedeclaredSymbolError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Redeclaration of symbol '%s'",
		err.Position.Line,
		err.Position.Column,
		err.Received,
	)
}

type UnknownSymbolError struct {
	Position Cursor
	Received string
}

func (err *UnknownSymbolError) GetPosition() Cursor {
	return err.Position
}

func (err *UnknownSymbolError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Unknown symbol '%s'",
		err.Position.Line,
		err.Position.Column,
		err.Received,
	)
}

type UnknownIdentifierError struct {
	Position Cursor
	Received string
}

func (err *UnknownIdentifierError) GetPosition() Cursor {
	return err.Position
}

func (err *UnknownIdentifierError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Unknown instruction or directive '%s'",
		err.Position.Line,
		err.Position.Column,
		err.Received,
	)
}

type OverlapError struct {
	Position Cursor
	Addr     uint32
}

func (err *OverlapError) GetPosition() Cursor {
	return err.Position
}

func (err *OverlapError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Code overlaps address %#05x",
		err.Position.Line,
		err.Position.Column,
		err.Addr,
	)
}

type UnalignedError struct {
	Position Cursor
	Addr     uint32
}

func (err *UnalignedError) GetPosition() Cursor {
	return err.Position
}

func (err *UnalignedError) Error() string {
	return fmt.Sprintf(
		"%02d:%02d: Origin %#x is not word aligned",
		err.Position.Line,
		err.Position.Column,
		err.Addr,
	)
}

type EmptyProgramError struct{}

func (err *EmptyProgramError) Error() string {
	return "Program contains no code"
}
