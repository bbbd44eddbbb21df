// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging is the application-wide structured logger.
package logging

import (
	"io"
	"strings"

	clog "github.com/charmbracelet/log"
)

// SetLevel parses a level name ("debug", "info", "warn", "error") and applies
// it. Unknown names leave the level unchanged and return the parse error.
func SetLevel(level string) error {
	lvl, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	L.SetLevel(lvl)
	return nil
}

// SetDebug toggles between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// DebugEnabled reports whether debug messages are emitted.
func DebugEnabled() bool {
	return L.GetLevel() <= clog.DebugLevel
}

// SetOutput redirects log output, e.g. to a file next to the database.
func SetOutput(w io.Writer) {
	L.SetOutput(w)
}
