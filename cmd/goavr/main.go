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

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lassandro/goavr/pkg/harness"
	"github.com/lassandro/goavr/pkg/ihex"
	"github.com/lassandro/goavr/pkg/logging"
	"github.com/lassandro/goavr/pkg/machine"
)

func init() {
	exe, _ := os.Executable()
	log.SetFlags(0)
	log.SetPrefix(fmt.Sprintf("%s: ", filepath.Base(exe)))
	log.SetOutput(os.Stderr)
}

func goavr(cfg harness.Config, stdin bool, path string) int {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Println(err)
		return 1
	}

	logger := logging.New(os.Stderr, level)

	h, err := harness.New(cfg, logger)
	if err != nil {
		var coreErr *machine.CoreCreationError
		if errors.As(err, &coreErr) {
			log.Printf(
				"Error making core: %v (known models: %s)",
				err, strings.Join(machine.Models(), ", "),
			)
		} else {
			log.Println(err)
		}
		return 1
	}

	fmt.Printf("Loading %s\n", path)

	if _, err := h.Load(path); err != nil {
		var loadErr *ihex.LoadError
		if errors.As(err, &loadErr) {
			log.Printf("Error loading %v", loadErr)
		} else {
			log.Println(err)
		}
		return 1
	}

	if stdin {
		source, err := newStdinSource()
		if err != nil {
			log.Println(err)
			return 1
		}

		if err := enterRawTerm(); err != nil {
			logger.Debug("stdin left in cooked mode", "err", err)
		} else {
			defer exitRawTerm()

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			go func() {
				<-c
				exitRawTerm()
				os.Exit(1)
			}()
		}

		h.Input = source
	}

	if err := h.Wire(); err != nil {
		log.Println(err)
		return 1
	}

	if cfg.GDB {
		if err := h.AttachDebugger(); err != nil {
			log.Println(err)
			return 1
		}
	}

	result, err := h.Run()
	if err != nil {
		log.Println(err)
		return 1
	}

	logger.Info(
		"finished",
		"reason", result.Reason.String(),
		"state", result.State.String(),
		"cycles", result.Cycles,
	)

	return 0
}

// run parses args and returns the process exit code.
func run(args []string) int {
	cfg := harness.DefaultConfig()
	var stdin bool
	code := 0

	rootCmd := &cobra.Command{
		Use:   "goavr [flags] firmware.hex",
		Short: "Run AVR firmware on a simulated core",
		Long: "Loads an Intel HEX firmware image into a simulated AVR core and " +
			"runs it until the core stops or the firmware writes 0x04 to UART0. " +
			"Every other byte written to UART0 is printed as \"uart: XX\".",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			code = goavr(cfg, stdin, args[0])
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetArgs(args)

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.MCU, "mcu", cfg.MCU,
		fmt.Sprintf("Microcontroller model (%s)", strings.Join(machine.Models(), ", ")))
	flags.Uint32Var(&cfg.Frequency, "freq", cfg.Frequency, "Core clock frequency in Hz")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel,
		"Log verbosity (trace, debug, info, warn, error)")
	flags.BoolVar(&cfg.GDB, "gdb", cfg.GDB,
		"Wait for a gdb client before running the firmware")
	flags.StringVar(&cfg.GDBAddr, "gdb-addr", cfg.GDBAddr, "Address the gdb server listens on")
	flags.BoolVar(&stdin, "stdin", false, "Forward stdin to UART0")

	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		log.Println(rootCmd.UseLine())
		return 1
	}

	return code
}

func main() {
	os.Exit(run(os.Args[1:]))
}
