package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/benbjohnson/asmsym"
	"github.com/benbjohnson/asmsym/asm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewFlowCommand returns the command that prints the static control flow.
func NewFlowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flow FILE",
		Short: "print the static control flow of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readProgram(args[0])
			if err != nil {
				return err
			}

			flow := asmsym.NewStaticFlow(lines)
			fmt.Fprint(cmd.OutOrStdout(), flow.String())
			for _, msg := range flow.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", msg)
			}
			return nil
		},
	}
}

// NewDisasmCommand returns the command that disassembles machine code into
// the text format the other commands read.
func NewDisasmCommand() *cobra.Command {
	var code string
	var mode int

	cmd := &cobra.Command{
		Use:   "disasm --hex BYTES",
		Short: "disassemble machine code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hex.DecodeString(strings.Join(strings.Fields(code), ""))
			if err != nil {
				return errors.Wrap(err, "decode hex")
			}
			lines, err := asm.Disassemble(b, mode)
			if err != nil {
				return err
			}
			return asm.Format(cmd.OutOrStdout(), lines)
		},
	}
	cmd.Flags().StringVar(&code, "hex", "", "machine code as hex, whitespace is ignored")
	cmd.Flags().IntVar(&mode, "mode", 64, "processor mode: 16, 32 or 64")
	if err := cmd.MarkFlagRequired("hex"); err != nil {
		panic(err)
	}
	return cmd
}
