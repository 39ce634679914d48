package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackaudit/stackaudit/internal/cargo"
)

func newBuildCmd() *cobra.Command {
	var (
		out         outputFlags
		opts        cargo.BuildOptions
		outOverride string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a Cargo project with stack-size emission, then report its stack usage",
		Long: `Run cargo build --release with -Z emit-stack-sizes and a linker script
that marks the .stack_sizes section non-loadable, locate the resulting
ELF, and report per-function stack usage. Requires a nightly rustc.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("build")

			project, err := cargo.Locate(".")
			if err != nil {
				return err
			}

			triple := project.Target
			if triple == "" {
				if triple, err = cargo.HostTriple(); err != nil {
					return err
				}
			}
			logger.Debug().
				Str("project", project.Name).
				Str("root", project.Root).
				Str("target", triple).
				Msg("Located Cargo project")

			if err := project.Build(logger, triple, opts); err != nil {
				return err
			}

			artifact := outOverride
			if artifact == "" {
				artifact = project.Artifact(opts)
			}
			logger.Info().Str("artifact", artifact).Msg("Analyzing build artifact")

			fns, err := analyzeFile(logger, artifact)
			if err != nil {
				if outOverride == "" {
					return fmt.Errorf("%w\n\nIf the artifact was written somewhere unexpected, point at it with --out-override", err)
				}
				return err
			}
			return out.render(cmd.OutOrStdout(), fns)
		},
	}

	cmd.Flags().StringVar(&opts.Bin, "bin", "", "build only the specified binary")
	cmd.Flags().StringVar(&opts.Example, "example", "", "build only the specified example")
	cmd.Flags().StringVar(&opts.Features, "features", "", "space-separated list of features to activate")
	cmd.Flags().BoolVar(&opts.AllFeatures, "all-features", false, "activate all available features")
	cmd.Flags().StringVar(&outOverride, "out-override", "", "path of the resulting ELF, if it is not where cargo conventions place it")
	out.register(cmd)

	return cmd
}
