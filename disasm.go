package main

import (
	"fmt"
	"io"

	"github.com/kapitanov/crisp8/internal/vm"
	"github.com/spf13/cobra"
)

func newDisasmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print an instruction listing of a ROM",
		Args:  cobra.ExactArgs(1),
	}

	odd := cmd.Flags().Bool("odd", false, "decode from the second byte, for code aligned to odd addresses")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		bs, err := readROM(args[0])
		if err != nil {
			return err
		}

		start := 0
		if *odd {
			start = 1
		}
		return writeListing(cmd.OutOrStdout(), bs, start)
	}

	return cmd
}

// writeListing prints one line per instruction word: address, raw word and mnemonic.
// A trailing odd byte is printed as data.
func writeListing(w io.Writer, program []byte, start int) error {
	for offset := start; offset < len(program); offset += vm.InstructionSize {
		addr := int(vm.ProgramStart) + offset

		if offset+1 >= len(program) {
			_, err := fmt.Fprintf(w, "0x%04x  %02x    db 0x%02x\n", addr, program[offset], program[offset])
			return err
		}

		opcode := uint16(program[offset])<<8 | uint16(program[offset+1])
		if _, err := fmt.Fprintf(w, "0x%04x  %04x  %s\n", addr, opcode, vm.Disassemble(opcode)); err != nil {
			return err
		}
	}

	return nil
}
