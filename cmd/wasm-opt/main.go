// Command wasm-opt reads a version-11 WebAssembly binary, runs an
// optimization pipeline over it, and writes the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-opt/binary"
	"github.com/wippyai/wasm-opt/passes"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		output    string
		optimize  bool
		learn     int
		seed      int64
		passNames []string
		defaults  bool
		metrics   bool
		debug     bool
	)
	cmd := &cobra.Command{
		Use:          "wasm-opt INFILE",
		Short:        "Optimize a WebAssembly binary",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			if debug {
				var err error
				if log, err = zap.NewDevelopment(); err != nil {
					return err
				}
				defer func() { _ = log.Sync() }()
			}

			input, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reader := binary.NewReader(input)
			reader.SetLogger(log)
			module, err := reader.Read()
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			defer module.Release()

			runner := passes.NewRunner(module, log)
			if metrics {
				if err := runner.Add("metrics"); err != nil {
					return err
				}
			}
			if defaults {
				runner.AddDefault()
			}
			for _, name := range passNames {
				if err := runner.Add(name); err != nil {
					return err
				}
			}
			if metrics {
				if err := runner.Add("metrics"); err != nil {
					return err
				}
			}
			if err := runner.Run(); err != nil {
				return err
			}

			var out []byte
			switch {
			case learn > 0:
				out, err = binary.EncodeLearned(module, learn, seed, log)
			case optimize:
				out, err = binary.EncodeCompressed(module)
			default:
				out, err = binary.Encode(module)
			}
			if err != nil {
				return err
			}

			if output == "" {
				_, err = os.Stdout.Write(out)
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout if not set)")
	cmd.Flags().BoolVarP(&optimize, "optimize", "O", false, "compress output with an opcode table")
	cmd.Flags().IntVar(&learn, "learn", 0, "search emission orders for this many generations")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for --learn")
	cmd.Flags().StringSliceVar(&passNames, "passes", nil,
		fmt.Sprintf("passes to run, in order (known: %v)", passes.PassNames()))
	cmd.Flags().BoolVar(&defaults, "default-passes", false, "run the standard optimization pipeline")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "report expression counts before and after")
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose tracing")
	return cmd
}
