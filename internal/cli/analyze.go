package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackaudit/stackaudit/internal/report"
	"github.com/stackaudit/stackaudit/pkg/stacksizes"
)

// outputFlags are the report flags shared by analyze and build.
type outputFlags struct {
	minStack uint64
	format   string
	demangle string
	human    bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&o.minStack, "min-stack", 0, "only show functions whose stack size is at least this many bytes")
	cmd.Flags().StringVar(&o.format, "format", "text", "output format (text, json, csv)")
	cmd.Flags().StringVar(&o.demangle, "demangle", "full", "symbol demangling (none, simplified, templates, full)")
	cmd.Flags().BoolVar(&o.human, "human", false, "humanize byte sizes in text output")
}

// render builds the report from the catalog and writes it in the selected
// format.
func (o *outputFlags) render(w io.Writer, fns *stacksizes.Functions) error {
	entries := report.Build(fns, report.Options{
		MinStack: o.minStack,
		Demangle: report.DemangleOptions(o.demangle),
	})

	out, err := NewFormatter(OutputFormat(o.format), o.human).Format(entries)
	if err != nil {
		return fmt.Errorf("failed to format report: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func newAnalyzeCmd() *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "analyze <executable>",
		Short: "Report per-function stack usage of a built ELF executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("analyze")

			fns, err := analyzeFile(logger, args[0])
			if err != nil {
				return err
			}
			return out.render(cmd.OutOrStdout(), fns)
		},
	}

	out.register(cmd)
	return cmd
}

// analyzeFile reads the executable into memory and runs the analysis engine
// over it.
func analyzeFile(logger zerolog.Logger, path string) (*stacksizes.Functions, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read executable: %w", err)
	}

	fns, err := stacksizes.AnalyzeExecutable(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", path, err)
	}

	instrumented := 0
	fns.Ascend(func(fn *stacksizes.Function) bool {
		if _, ok := fn.Stack(); ok {
			instrumented++
		}
		return true
	})
	logger.Debug().
		Str("executable", path).
		Int("defined", fns.NumDefined()).
		Int("undefined", len(fns.Undefined())).
		Int("instrumented", instrumented).
		Bool("is_32bit", fns.Is32Bit()).
		Msg("Analysis completed")

	if fns.NumDefined() > 0 && instrumented == 0 {
		logger.Warn().
			Str("executable", path).
			Msg("No stack-size records found; was the executable built with stack-usage instrumentation?")
	}

	return fns, nil
}
