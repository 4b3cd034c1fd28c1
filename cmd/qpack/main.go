// Command qpack encodes QIF files into the QPACK offline interop format and
// decodes such files.
package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type GlobalOptions struct {
	Verbose bool
}

var (
	globalOpts = GlobalOptions{}
	rootCmd    = &cobra.Command{
		Use:   "qpack",
		Short: "Encode and decode QPACK offline interop files",
	}
)

func newLogger() (*zap.Logger, error) {
	if globalOpts.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(encodeCmd, decodeCmd)
	rootCmd.SilenceUsage = true

	lo.Must0(rootCmd.Execute())
}
