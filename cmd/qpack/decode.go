package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcreichelt/qpack"
	"github.com/marcreichelt/qpack/qif"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode an encoded file and print the header sets in QIF format",
	RunE:  runDecode,
}

var (
	decodeInput    string
	decodeCapacity uint64
)

func init() {
	decodeCmd.Flags().StringVarP(&decodeInput, "input", "i", "", "Encoded file (required)")
	decodeCmd.Flags().Uint64Var(&decodeCapacity, "capacity", 0, "Maximum dynamic table capacity in bytes")
	_ = decodeCmd.MarkFlagRequired("input")
}

func runDecode(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	file, err := os.Open(decodeInput)
	if err != nil {
		return err
	}
	defer file.Close()

	sets, err := qif.Decode(file,
		qpack.WithMaxTableCapacity(decodeCapacity),
		qpack.WithDecoderLogger(logger),
	)
	if err != nil {
		return err
	}
	for i, hfs := range sets {
		if i > 0 {
			fmt.Println()
		}
		for _, hf := range hfs {
			fmt.Printf("%s\t%s\n", hf.Name, hf.Value)
		}
	}
	logger.Debug("decoded file", zap.String("input", decodeInput), zap.Int("headerSets", len(sets)))
	return nil
}
