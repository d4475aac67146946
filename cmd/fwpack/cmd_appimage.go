package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cozmo-tools/fwpack/pkg/appimage"
	"github.com/cozmo-tools/fwpack/pkg/bundle"
	"github.com/cozmo-tools/fwpack/pkg/fileio"
)

var appImageCmd = &cobra.Command{
	Use:   "appimage [input] [output]",
	Short: "Wrap application binary into OTA app image",
	Long:  "Pads an application binary to 64 bytes and prepends the app image header (total size, reserved words, SHA-1 of the padded body).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appimage.FixImage(args[0], args[1]); err != nil {
			return err
		}
		slog.Info("Wrote app image", "path", args[1])
		return nil
	},
}

var verifyBundle bool

var verifyCmd = &cobra.Command{
	Use:   "verify [input]",
	Short: "Check app image or OTA bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := fileio.Read(args[0])
		if err != nil {
			return err
		}
		if verifyBundle {
			info, err := bundle.Inspect(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			slog.Info("Bundle OK", "path", args[0], "payloads", humanize.Bytes(uint64(info.PayloadSize)), "wrapped", info.Primary != nil)
			return nil
		}
		img, err := appimage.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		slog.Info("App image OK", "path", args[0], "size", humanize.Bytes(uint64(img.Header.TotalSize)), "sha1", fmt.Sprintf("%x", img.Header.Digest))
		return nil
	},
}
