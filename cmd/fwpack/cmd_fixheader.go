package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cozmo-tools/fwpack/pkg/header"
	"github.com/cozmo-tools/fwpack/pkg/rom"
)

var fixHeaderCeiling string

var fixHeaderCmd = &cobra.Command{
	Use:   "fixheader [input] [output]",
	Short: "Fill in image descriptor of firmware ELF",
	Long:  "Writes load address, body length and body CRC-32 into the firmware header of an ELF. Without an output path, the input is rewritten in place.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ceiling, err := parseNumber(fixHeaderCeiling)
		if err != nil {
			return fmt.Errorf("invalid ceiling: %w", err)
		}
		out := args[0]
		if len(args) == 2 {
			out = args[1]
		}
		img, err := header.FixELF(args[0], out, &rom.Options{AddressCeiling: uint64(ceiling)})
		if err != nil {
			return err
		}
		d, err := header.Parse(img.Data, img.Site.ROMOffset)
		if err != nil {
			return err
		}
		slog.Info("Fixed header", "path", out, "load", fmt.Sprintf("%#08x", d.LoadAddress), "length", d.BodyLength, "crc32", fmt.Sprintf("%08x", d.Checksum))
		return nil
	},
}
