// Package cargo drives `cargo build` with stack-usage instrumentation
// injected, and locates the resulting ELF artifact. It injects the
// `-Z emit-stack-sizes` codegen flag plus a temporary linker script that
// keeps the .stack_sizes section out of loadable memory.
package cargo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"
)

// Project is a located Cargo package.
type Project struct {
	// Root is the directory containing Cargo.toml.
	Root string
	// Name is the package name from Cargo.toml.
	Name string
	// Target is the default build triple from .cargo/config.toml, empty
	// when the project builds for the host.
	Target string
}

// Locate walks upward from dir looking for a Cargo.toml and reads the
// package name and any configured default target triple.
func Locate(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	for cur := abs; ; cur = filepath.Dir(cur) {
		manifest := filepath.Join(cur, "Cargo.toml")
		if _, err := os.Stat(manifest); err == nil {
			return loadProject(cur, manifest)
		}
		if filepath.Dir(cur) == cur {
			return nil, fmt.Errorf("no Cargo.toml found in %s or any parent directory", abs)
		}
	}
}

func loadProject(root, manifest string) (*Project, error) {
	tree, err := toml.LoadFile(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifest, err)
	}

	p := &Project{Root: root}
	if name, ok := tree.GetPath([]string{"package", "name"}).(string); ok {
		p.Name = name
	}

	// build.target in .cargo/config.toml decides which target directory
	// cargo writes to, so it matters for artifact location too.
	if cfg, err := toml.LoadFile(filepath.Join(root, ".cargo", "config.toml")); err == nil {
		if target, ok := cfg.GetPath([]string{"build", "target"}).(string); ok {
			p.Target = target
		}
	}

	return p, nil
}

// configRustflags returns the project's pre-existing build.rustflags from
// .cargo/config.toml, rendered as a comma-terminated list of quoted strings
// ready to be prepended inside a --config rustflags array. Missing file or
// key yields the empty string.
func configRustflags(root string) string {
	cfg, err := toml.LoadFile(filepath.Join(root, ".cargo", "config.toml"))
	if err != nil {
		return ""
	}
	raw, ok := cfg.GetPath([]string{"build", "rustflags"}).([]interface{})
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, v := range raw {
		flag, ok := v.(string)
		if !ok {
			continue
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(flag, `"`, `\"`))
		sb.WriteString(`",`)
	}
	return sb.String()
}

// Artifact returns the expected path of the built ELF. If the conventional
// path does not exist it applies the workspace repair heuristic: cargo
// places workspace member artifacts in the workspace-level target
// directory, so the component just before "target" is dropped and the path
// retried.
func (p *Project) Artifact(opts BuildOptions) string {
	name := opts.Bin
	parts := []string{p.Root, "target"}
	if p.Target != "" {
		parts = append(parts, p.Target)
	}
	parts = append(parts, "release")
	if opts.Example != "" {
		name = opts.Example
		parts = append(parts, "examples")
	}
	parts = append(parts, name)

	path := filepath.Join(parts...)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return repairWorkspacePath(path)
}

// repairWorkspacePath drops the path component immediately preceding
// "target", turning <workspace>/<member>/target/... into
// <workspace>/target/....
func repairWorkspacePath(path string) string {
	sep := string(filepath.Separator)
	parts := strings.Split(filepath.Clean(path), sep)

	for i, part := range parts {
		if part == "target" && i > 0 && parts[i-1] != "" {
			repaired := append(append([]string{}, parts[:i-1]...), parts[i:]...)
			return strings.Join(repaired, sep)
		}
	}
	return path
}
