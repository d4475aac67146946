package main

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cozmo-tools/fwpack/pkg/blockfw"
	"github.com/cozmo-tools/fwpack/pkg/fileio"
)

var signNoTerminator bool

var signCmd = &cobra.Command{
	Use:   "sign [input] [output] [keyfile]",
	Short: "Encrypt block firmware",
	Long: `Stamps block firmware with the current time and encrypts it with XXTEA.

The key file holds sixteen comma-separated hex bytes, eg. "0x00, 0x01, ...".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &blockfw.Signer{NoTerminator: signNoTerminator}
		if err := s.SignFile(args[0], args[1], args[2]); err != nil {
			return err
		}
		slog.Info("Wrote block firmware", "path", args[1])
		return nil
	},
}

var decryptNoTerminator bool

var decryptCmd = &cobra.Command{
	Use:   "decrypt [input] [output] [keyfile]",
	Short: "Decrypt block firmware",
	Long:  "Decrypts block firmware produced by 'sign', checks its timestamp and writes the decrypted region (timestamp, body and padding).",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := blockfw.LoadKey(args[2])
		if err != nil {
			return err
		}
		image, err := fileio.Read(args[0])
		if err != nil {
			return err
		}
		ts, plain, err := blockfw.Open(image, key, !decryptNoTerminator)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := fileio.WriteAtomic(args[1], plain, 0644); err != nil {
			return err
		}
		slog.Info("Wrote decrypted firmware", "path", args[1], "timestamp", string(bytes.TrimRight(ts, "\x00")), "size", humanize.Bytes(uint64(len(plain))))
		return nil
	},
}
