package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cozmo-tools/fwpack/pkg/fileio"
	"github.com/cozmo-tools/fwpack/pkg/header"
	"github.com/cozmo-tools/fwpack/pkg/rom"
)

var (
	elfCeiling string
	elfNoFix   bool
)

var elfCmd = &cobra.Command{
	Use:   "elf [input] [output]",
	Short: "Flatten firmware ELF into ROM image",
	Long:  "Lays out the loadable segments of a firmware ELF into a flat ROM image, filling gaps with 0xff, and fills in its image descriptor.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ceiling, err := parseNumber(elfCeiling)
		if err != nil {
			return fmt.Errorf("invalid ceiling: %w", err)
		}
		img, err := rom.Extract(args[0], &rom.Options{AddressCeiling: uint64(ceiling)})
		if err != nil {
			return err
		}
		if !elfNoFix {
			d, err := header.Fix(img.Data, img.Base, img.Site.ROMOffset)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			slog.Debug("Fixed descriptor", "descriptor", d.String())
		}
		if err := fileio.WriteAtomic(args[1], img.Data, 0644); err != nil {
			return err
		}
		slog.Info("Wrote ROM image", "path", args[1], "base", fmt.Sprintf("%#08x", img.Base), "size", humanize.Bytes(uint64(len(img.Data))))
		return nil
	},
}
