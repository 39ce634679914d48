package cargo

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// linkerScript keeps .stack_sizes sections in the output without loading
// them: INFO marks the output section non-allocatable.
const linkerScript = `SECTIONS
{
  .stack_sizes (INFO) :
  {
    KEEP(*(.stack_sizes));
  }
}
`

// BuildOptions selects what to build. Exactly one of Bin or Example must be
// set.
type BuildOptions struct {
	Bin         string
	Example     string
	Features    string
	AllFeatures bool
}

func (o BuildOptions) validate() error {
	if (o.Bin == "") == (o.Example == "") {
		return fmt.Errorf("specify exactly one of --bin or --example")
	}
	return nil
}

// Build runs `cargo build --release` with stack-size emission and the
// non-loading linker script injected through rustflags for the given target
// triple. Cargo's output goes straight to the terminal.
func (p *Project) Build(logger zerolog.Logger, triple string, opts BuildOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	script, err := os.CreateTemp("", "stackaudit-*.x")
	if err != nil {
		return fmt.Errorf("failed to create linker script: %w", err)
	}
	defer os.Remove(script.Name())

	if _, err := script.WriteString(linkerScript); err != nil {
		script.Close()
		return fmt.Errorf("failed to write linker script: %w", err)
	}
	if err := script.Close(); err != nil {
		return fmt.Errorf("failed to write linker script: %w", err)
	}

	// Pre-existing rustflags from .cargo/config.toml would be replaced by
	// the --config override, so they are carried over explicitly.
	rustflags := fmt.Sprintf(
		`target.%s.rustflags=[%s"-Z", "emit-stack-sizes", "-C", "link-arg=-T%s"]`,
		triple, configRustflags(p.Root), script.Name(),
	)

	args := []string{"--config", rustflags, "build", "--release"}
	if opts.AllFeatures {
		args = append(args, "--all-features")
	} else if opts.Features != "" {
		args = append(args, "--features="+opts.Features)
	}
	if opts.Example != "" {
		args = append(args, "--example="+opts.Example)
	}
	if opts.Bin != "" {
		args = append(args, "--bin="+opts.Bin)
	}

	logger.Debug().Strs("args", args).Str("dir", p.Root).Msg("Running cargo")

	cmd := exec.Command("cargo", args...)
	cmd.Dir = p.Root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cargo build failed: %w", err)
	}
	return nil
}

// HostTriple asks the installed rustc for the host target triple.
func HostTriple() (string, error) {
	out, err := exec.Command("rustc", "-vV").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run rustc -vV: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "host: "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("rustc -vV output has no host line")
}
