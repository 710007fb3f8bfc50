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

//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var termRestore *unix.Termios

// enterRawTerm switches stdin to byte-at-a-time input. It fails when stdin is
// not a terminal.
func enterRawTerm() error {
	termios, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), ioctlGetTermios)
	if err != nil {
		return err
	}

	restore := *termios
	termstate := *termios

	termstate.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.INLCR | unix.ICRNL
	termstate.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.IEXTEN
	termstate.Cflag &^= unix.CSIZE | unix.PARENB
	termstate.Cflag |= unix.CS8

	termstate.Cc[unix.VMIN] = 0
	termstate.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(
		int(os.Stdin.Fd()), ioctlSetTermios, &termstate,
	); err != nil {
		return err
	}

	termRestore = &restore
	return nil
}

func exitRawTerm() {
	if termRestore == nil {
		return
	}

	unix.IoctlSetTermios(int(os.Stdin.Fd()), ioctlSetTermios, termRestore)
	termRestore = nil
}

// stdinSource polls stdin without blocking the run loop.
type stdinSource struct {
	fd  int
	buf [1]byte
}

func newStdinSource() (*stdinSource, error) {
	return &stdinSource{fd: int(os.Stdin.Fd())}, nil
}

func (s *stdinSource) ReadByte() (byte, bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	n, err := unix.Poll(fds, 0)
	if err == unix.EINTR {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	if n == 0 || fds[0].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		return 0, false, nil
	}

	count, err := unix.Read(s.fd, s.buf[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	if count == 0 {
		return 0, false, io.EOF
	}

	return s.buf[0], true, nil
}
