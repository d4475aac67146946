package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cozmo-tools/fwpack/pkg/fwerr"
)

var rootCmd = &cobra.Command{
	Use:   "fwpack",
	Short: "fwpack builds flash-ready firmware images",
	Long: `Turns linked firmware into images the robot's bootloaders and OTA updater
accept: flattens ELFs and fixes their header descriptor, encrypts block
firmware, wraps application images and assembles OTA bundles.

Outputs are written to a temporary file and renamed into place, so a failed
run never leaves a partial image behind.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseLog {
			slog.SetLogLoggerLevel(slog.LevelDebug)
			flag.Set("v", "1")
		}
	},
}

var verboseLog bool

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	flag.Set("logtostderr", "true")

	elfCmd.Flags().StringVar(&elfCeiling, "ceiling", "0x40000", "Segments loaded at or above this address are not part of the ROM image")
	elfCmd.Flags().BoolVar(&elfNoFix, "no-fix", false, "Do not fill in the image descriptor in the flattened ROM image")
	fixHeaderCmd.Flags().StringVar(&fixHeaderCeiling, "ceiling", "0x40000", "Segments loaded at or above this address are not part of the ROM image")
	signCmd.Flags().BoolVar(&signNoTerminator, "no-terminator", false, "Do not append the 0xff terminator byte")
	decryptCmd.Flags().BoolVar(&decryptNoTerminator, "no-terminator", false, "Input image has no 0xff terminator byte")
	verifyCmd.Flags().BoolVar(&verifyBundle, "bundle", false, "Input is a layout A OTA bundle instead of an app image")
	bundleCmd.Flags().StringVarP(&bundleLayout, "layout", "l", "a", "Bundle layout (one of 'a', 'b')")
	bundleCmd.Flags().BoolVarP(&bundleWrap, "wrap", "w", false, "Wrap the primary image into an app image first")
	bundleCmd.Flags().StringVarP(&bundleBootloader, "bootloader", "b", "", "Bootloader image (layout b only)")
	bundleCmd.Flags().StringVarP(&bundleManifest, "manifest", "m", "", "Read the bundle description from a property list manifest")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&verboseLog, "verbose", false, "Enable verbose debug logging")
	rootCmd.AddCommand(elfCmd)
	rootCmd.AddCommand(fixHeaderCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(appImageCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(bundleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(fwerr.ExitCode(err))
	}
}

func parseNumber(s string) (uint32, error) {
	var err error
	var res uint64
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		res, err = strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	} else {
		res, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	}
	return uint32(res), nil
}
