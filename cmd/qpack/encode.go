package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcreichelt/qpack"
	"github.com/marcreichelt/qpack/qif"
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a QIF file",
	RunE:  runEncode,
}

var (
	encodeInput       string
	encodeOutput      string
	encodeConfigFile  string
	encodeCapacity    uint64
	encodeMaxBlocked  uint64
	encodeAckMode     string
	encodePrintMetric bool
)

func init() {
	encodeCmd.Flags().StringVarP(&encodeInput, "input", "i", "", "QIF file (required)")
	encodeCmd.Flags().StringVarP(&encodeOutput, "output", "o", "", "Encoded output file (required)")
	encodeCmd.Flags().StringVar(&encodeConfigFile, "config", "", "YAML encoder config, overrides the table flags")
	encodeCmd.Flags().Uint64Var(&encodeCapacity, "capacity", 0, "Dynamic table capacity in bytes")
	encodeCmd.Flags().Uint64Var(&encodeMaxBlocked, "max-blocked", 0, "Maximum number of blocked streams")
	encodeCmd.Flags().StringVar(&encodeAckMode, "ack-mode", "immediate", "Acknowledgement mode: none or immediate")
	encodeCmd.Flags().BoolVar(&encodePrintMetric, "metrics", false, "Print encoder metrics when done")
	_ = encodeCmd.MarkFlagRequired("input")
	_ = encodeCmd.MarkFlagRequired("output")
}

func encoderConfig() (qpack.EncoderConfig, error) {
	if encodeConfigFile != "" {
		data, err := os.ReadFile(encodeConfigFile)
		if err != nil {
			return qpack.EncoderConfig{}, err
		}
		return qpack.ParseEncoderConfig(data)
	}
	mode, err := qpack.ParseAcknowledgementMode(encodeAckMode)
	if err != nil {
		return qpack.EncoderConfig{}, err
	}
	cfg := qpack.EncoderConfig{
		MaxDynamicTableCapacity: encodeCapacity,
		MaxBlockedStreams:       encodeMaxBlocked,
		AcknowledgementMode:     mode,
	}
	return cfg, cfg.Validate()
}

func runEncode(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := encoderConfig()
	if err != nil {
		return fmt.Errorf("invalid encoder config: %w", err)
	}
	in, err := os.Open(encodeInput)
	if err != nil {
		return err
	}
	defer in.Close()
	sets, err := qif.Parse(in)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	err = writeEncodedFile(encodeOutput, func(w io.Writer) error {
		return qif.Encode(w, sets, cfg.AcknowledgementMode == qpack.AcknowledgementImmediate,
			qpack.WithConfig(cfg),
			qpack.WithLogger(logger),
			qpack.WithMetrics(qpack.NewMetrics(reg)),
		)
	})
	if err != nil {
		return err
	}
	logger.Info("encoded QIF file",
		zap.String("input", encodeInput),
		zap.String("output", encodeOutput),
		zap.Int("headerSets", len(sets)),
		zap.Uint64("capacity", cfg.MaxDynamicTableCapacity),
		zap.Stringer("ackMode", cfg.AcknowledgementMode),
	)
	if encodePrintMetric {
		return printMetrics(reg)
	}
	return nil
}

// writeEncodedFile creates the file name and writes to it using encode.
// Errors from flushing and closing the file are returned.
func writeEncodedFile(name string, encode func(io.Writer) error) error {
	out, err := os.Create(name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	if err := encode(w); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func printMetrics(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}
