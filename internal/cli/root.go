// Package cli implements the stackaudit command tree.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stackaudit/stackaudit/internal/logging"
	"github.com/stackaudit/stackaudit/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "stackaudit",
	Short: "Audit worst-case stack usage of compiled executables",
	Long: `Report the maximum stack frame recorded for each function of an ELF
executable built with compiler stack-usage instrumentation
(rustc -Z emit-stack-sizes, clang -fstack-size-section).

The tool does not estimate anything: it reads the .stack_sizes metadata
section the compiler emitted and correlates it with the symbol table, so
every figure is the compiler's own worst-case frame size for that function.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logFlags = struct {
	level  string
	pretty bool
}{}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logFlags.level, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&logFlags.pretty, "log-pretty", true, "human-readable log output")
	pf.SetNormalizeFunc(normalizeFlagName)

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// normalizeFlagName accepts underscore spellings of multi-word flags.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "log_level":
		name = "log-level"
	case "log_pretty":
		name = "log-pretty"
	case "min_stack":
		name = "min-stack"
	case "all_features":
		name = "all-features"
	case "out_override":
		name = "out-override"
	}
	return pflag.NormalizedName(name)
}

// newLogger builds the logger shared by all commands from the persistent
// flags.
func newLogger(component string) zerolog.Logger {
	return logging.NewWithComponent(logging.Config{
		Level:  logFlags.level,
		Pretty: logFlags.pretty,
	}, component)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("stackaudit version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
