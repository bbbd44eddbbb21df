// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time.
package buildvars

// Version, GitCommit and BuildDate are set at link time, e.g.
// `-ldflags "-X github.com/toeirei/keyless/buildvars.Version=1.2.3"`.
// They are empty for local or development builds.
var (
	Version   string
	GitCommit string
	BuildDate string
)

// VersionOrDefault returns Version if set, otherwise def.
func VersionOrDefault(def string) string {
	if len(Version) > 0 {
		return Version
	}
	return def
}

// String renders the version line shown by --version.
func String() string {
	s := VersionOrDefault("dev")
	if GitCommit != "" {
		s += " (" + GitCommit + ")"
	}
	if BuildDate != "" {
		s += " built " + BuildDate
	}
	return s
}
