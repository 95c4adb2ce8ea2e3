// Package version holds the build-time version string and the
// registry prefix used for the companion image, both overridable at
// runtime for testing.
package version

import "os"

// Version is the tool's own version string, set via ldflags during
// build. It is also the version the resolver expects the companion
// container to be tagged with.
var Version = "dev"

// DefaultRegistry is the vendor's public registry prefix used when
// TELEPRESENCE_REGISTRY is unset.
const DefaultRegistry = "docker.io/telepresence"

// Effective returns the version string to use for this run:
// TELEPRESENCE_VERSION if set, otherwise the build-time Version.
func Effective() string {
	if v := os.Getenv("TELEPRESENCE_VERSION"); v != "" {
		return v
	}
	return Version
}

// Registry returns the container registry prefix to use for this run:
// TELEPRESENCE_REGISTRY if set, otherwise DefaultRegistry.
func Registry() string {
	if r := os.Getenv("TELEPRESENCE_REGISTRY"); r != "" {
		return r
	}
	return DefaultRegistry
}
