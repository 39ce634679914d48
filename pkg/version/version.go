// Package version carries the build provenance baked into stackaudit
// binaries. Release builds overwrite the variables through the linker:
//
//	go build -ldflags "-X github.com/stackaudit/stackaudit/pkg/version.Version=v1.2.3"
package version

import "runtime"

// Linker-injected build metadata. The defaults identify a from-source
// development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GoVersion reports the toolchain that compiled the running binary.
var GoVersion = runtime.Version()
