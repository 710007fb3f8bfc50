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

// Package irq models the signal lines that connect simulated peripherals to
// each other and to observers in the host program.
//
// A line carries a 32-bit value. Raising a line stores the value, calls the
// line's observers in subscription order and then raises every line
// connected to it, depth first, on the same call stack.
package irq

import (
	"errors"
	"fmt"
)

var (
	ErrCycle   = errors.New("irq: connection would create a cycle")
	ErrFrozen  = errors.New("irq: pool wiring is frozen")
	ErrForeign = errors.New("irq: line belongs to another pool")
)

// Observer is notified each time the line it is subscribed to is raised.
type Observer interface {
	OnValueChanged(l *Line, value uint32)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(l *Line, value uint32)

func (f ObserverFunc) OnValueChanged(l *Line, value uint32) {
	f(l, value)
}

type Line struct {
	ID    int
	Name  string
	Value uint32

	// Filtered lines ignore raises that would not change Value.
	Filtered bool

	pool      *Pool
	observers []Observer
	sinks     []*Line
}

func (l *Line) String() string {
	if l.Name == "" {
		return fmt.Sprintf("irq#%d", l.ID)
	}

	return fmt.Sprintf("irq#%d(%s)", l.ID, l.Name)
}

// Raise sets the line's value and propagates it.
func (l *Line) Raise(value uint32) {
	if l.Filtered && l.Value == value {
		return
	}

	l.Value = value

	for _, obs := range l.observers {
		obs.OnValueChanged(l, value)
	}

	for _, sink := range l.sinks {
		sink.Raise(value)
	}
}

// Observers returns the number of observers subscribed to l.
func (l *Line) Observers() int {
	return len(l.observers)
}

// Sinks returns the lines l propagates to, in connection order.
func (l *Line) Sinks() []*Line {
	return append([]*Line(nil), l.sinks...)
}

// Pool owns a set of lines and the wiring between them. Wiring happens in a
// single phase that ends with Freeze.
type Pool struct {
	lines  []*Line
	frozen bool
}

func NewPool() *Pool {
	return &Pool{}
}

// Alloc creates count lines numbered from base. Missing names are left
// empty; names are for diagnostics only.
func (p *Pool) Alloc(base, count int, names []string) []*Line {
	lines := make([]*Line, count)

	for i := range lines {
		lines[i] = &Line{ID: base + i, pool: p}
		if i < len(names) {
			lines[i].Name = names[i]
		}
	}

	p.lines = append(p.lines, lines...)
	return lines
}

// Len is the number of lines allocated from p.
func (p *Pool) Len() int {
	return len(p.lines)
}

func (p *Pool) check(lines ...*Line) error {
	if p.frozen {
		return ErrFrozen
	}

	for _, l := range lines {
		if l.pool != p {
			return fmt.Errorf("%w: %v", ErrForeign, l)
		}
	}

	return nil
}

// Subscribe appends obs to the observers of l. Subscribing the same observer
// twice makes it run twice.
func (p *Pool) Subscribe(l *Line, obs Observer) error {
	if err := p.check(l); err != nil {
		return err
	}

	l.observers = append(l.observers, obs)
	return nil
}

// Connect makes every raise of src also raise sink.
func (p *Pool) Connect(src, sink *Line) error {
	if err := p.check(src, sink); err != nil {
		return err
	}

	if src == sink || reaches(sink, src) {
		return fmt.Errorf("%w: %v -> %v", ErrCycle, src, sink)
	}

	src.sinks = append(src.sinks, sink)
	return nil
}

// Freeze ends the wiring phase. Subscribe and Connect fail afterwards.
func (p *Pool) Freeze() {
	p.frozen = true
}

func (p *Pool) Frozen() bool {
	return p.frozen
}

// reaches reports whether to is reachable from from through connections.
// The graph is acyclic, so the walk terminates.
func reaches(from, to *Line) bool {
	if from == to {
		return true
	}

	for _, sink := range from.sinks {
		if reaches(sink, to) {
			return true
		}
	}

	return false
}
