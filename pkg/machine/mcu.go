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
	"sort"
	"strings"
)

// ATmega48/88/168/328 share the USART0 layout and vector numbering
var uart0 = UARTConfig{
	Name:       '0',
	Base:       0xC0,
	RXVector:   18,
	UDREVector: 19,
	TXVector:   20,
}

var models = map[string]*MCU{
	"atmega328p": {
		Name:       "atmega328p",
		FlashSize:  32 * 1024,
		RAMEnd:     0x08FF,
		VectorSize: 4,
		Signature:  [3]byte{0x1E, 0x95, 0x0F},
		UARTs:      []UARTConfig{uart0},
	},
	"atmega168": {
		Name:       "atmega168",
		FlashSize:  16 * 1024,
		RAMEnd:     0x04FF,
		VectorSize: 4,
		Signature:  [3]byte{0x1E, 0x94, 0x06},
		UARTs:      []UARTConfig{uart0},
	},
	"atmega88": {
		Name:       "atmega88",
		FlashSize:  8 * 1024,
		RAMEnd:     0x04FF,
		VectorSize: 2,
		Signature:  [3]byte{0x1E, 0x93, 0x0A},
		UARTs:      []UARTConfig{uart0},
	},
	"atmega48": {
		Name:       "atmega48",
		FlashSize:  4 * 1024,
		RAMEnd:     0x02FF,
		VectorSize: 2,
		Signature:  [3]byte{0x1E, 0x92, 0x05},
		UARTs:      []UARTConfig{uart0},
	},
}

// LookupMCU finds a model by case-insensitive name.
func LookupMCU(name string) (*MCU, bool) {
	mcu, ok := models[strings.ToLower(name)]
	return mcu, ok
}

// Models lists the supported model names in sorted order.
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
