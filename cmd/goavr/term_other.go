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

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package main

import "errors"

var errNoTerm = errors.New("stdin forwarding is not supported on this platform")

func enterRawTerm() error {
	return errNoTerm
}

func exitRawTerm() {}

type stdinSource struct{}

func newStdinSource() (*stdinSource, error) {
	return nil, errNoTerm
}

func (s *stdinSource) ReadByte() (byte, bool, error) {
	return 0, false, errNoTerm
}
