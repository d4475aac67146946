package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cozmo-tools/fwpack/pkg/bundle"
	"github.com/cozmo-tools/fwpack/pkg/fileio"
)

var (
	bundleLayout     string
	bundleWrap       bool
	bundleBootloader string
	bundleManifest   string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle [primary] [output] [payload...]",
	Short: "Assemble OTA bundle",
	Long: `Concatenates a primary image and payloads into a sector-aligned OTA bundle.

Payloads are given as [name=]path[:sectors]. A payload with a sector count is
padded to exactly that many sectors and must fit; one without is rounded up to
whole sectors. Paths ending in .xz are decompressed.

With --manifest, the bundle is described by a property list instead, and the
only argument is the output path.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if bundleManifest != "" {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.MinimumNArgs(3)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var b *bundle.Bundle
		var out string
		if bundleManifest != "" {
			var err error
			b, err = bundle.LoadManifest(bundleManifest)
			if err != nil {
				return err
			}
			out = args[0]
		} else {
			var err error
			b, err = bundleFromArgs(args)
			if err != nil {
				return err
			}
			out = args[1]
		}

		if err := bundle.AssembleFile(b, out); err != nil {
			return fmt.Errorf("could not assemble bundle: %w", err)
		}
		slog.Info("Wrote bundle", "path", out, "layout", b.Layout.String(), "payloads", len(b.Payloads))
		return nil
	},
}

func bundleFromArgs(args []string) (*bundle.Bundle, error) {
	layout, err := bundle.ParseLayout(bundleLayout)
	if err != nil {
		return nil, err
	}
	primary, err := fileio.Read(args[0])
	if err != nil {
		return nil, err
	}
	var srcs []bundle.Source
	for _, arg := range args[2:] {
		src, err := bundle.ParseSource(arg)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	payloads, err := bundle.LoadAll(srcs)
	if err != nil {
		return nil, err
	}

	b := &bundle.Bundle{
		Layout:      layout,
		Primary:     primary,
		WrapPrimary: bundleWrap,
		Payloads:    payloads,
	}
	if bundleBootloader != "" {
		if b.Bootloader, err = fileio.Read(bundleBootloader); err != nil {
			return nil, err
		}
	}
	return b, nil
}
