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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lassandro/goavr/pkg/assembler"
	"github.com/lassandro/goavr/pkg/ihex"
)

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)
}

// underline prints err below the offending source line.
func underline(source []byte, err error) {
	var tokenErr assembler.TokenError
	if !errors.As(err, &tokenErr) {
		log.Println(err)
		return
	}

	cursor := tokenErr.GetPosition()

	line, _ := bufio.NewReader(
		bytes.NewReader(source[cursor.LineByte:]),
	).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")

	size := int(cursor.Size)
	if size < 1 {
		size = 1
	}

	underlinefmt := fmt.Sprintf(
		"%% %ds%s",
		int(cursor.Byte-cursor.LineByte)+1,
		strings.Repeat("~", size-1),
	)

	log.Printf(
		"%s\n%s\n\033[31m%s\033[0m",
		err,
		line,
		fmt.Sprintf(underlinefmt, "^"),
	)
}

func goavrAsm(outfile string, width int, args []string) int {
	var source []byte
	var err error

	if len(args) == 0 {
		log.SetPrefix("\033[1m<stdin>:\033[0m")
		source, err = io.ReadAll(os.Stdin)

		if outfile == "" {
			outfile = "out.hex"
		}
	} else {
		filename := filepath.Base(args[0])
		log.SetPrefix(fmt.Sprintf("\033[1m%s:\033[0m", filename))
		source, err = os.ReadFile(args[0])

		if outfile == "" {
			outfile = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".hex"
		}
	}

	if err != nil {
		log.Println(err)
		return 1
	}

	program, errs := assembler.Assemble(bytes.NewReader(source))

	if len(errs) > 0 {
		for _, err := range errs {
			underline(source, err)
		}
		return 1
	}

	buffer := new(bytes.Buffer)

	if err := ihex.Encode(buffer, program.Base, program.Data, width); err != nil {
		log.Println("Error encoding output file")
		log.Println(err)
		return 1
	}

	if err := os.WriteFile(outfile, buffer.Bytes(), 0666); err != nil {
		log.Println("Error writing output file")
		log.Println(err)
		return 1
	}

	return 0
}

func main() {
	var outfile string
	var width int
	code := 0

	rootCmd := &cobra.Command{
		Use:   "goavr-asm [flags] [file.S]",
		Short: "Assemble AVR source into an Intel HEX image",
		Long: "Assembles a small subset of AVR assembly into Intel HEX. Source " +
			"is read from stdin when no file is given.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			code = goavrAsm(outfile, width, args)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVarP(
		&outfile, "out", "o", "",
		"Specifies a precise name for the output file, "+
			"overriding the default means of determining it",
	)
	rootCmd.Flags().IntVar(
		&width, "width", ihex.DefaultWidth, "Data bytes per HEX record",
	)

	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		log.Println(rootCmd.UseLine())
		os.Exit(1)
	}

	os.Exit(code)
}
