// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"bytes"
	"os"
	"regexp"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer drives the package-level logger `L` as
// configured at startup: every line carries a timestamp and the keyless
// prefix.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prevLevel := L.GetLevel()
	SetOutput(&buf)
	SetDebug(true)
	defer func() {
		SetOutput(os.Stderr)
		L.SetLevel(prevLevel)
	}()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 log lines, got %d: %s", len(lines), buf.String())
	}
	line := regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} \S+ keyless: `)
	for i, want := range []string{"hello dbg", "info 1", "warn", "err E"} {
		if !line.MatchString(lines[i]) {
			t.Fatalf("line %d lacks timestamp or prefix: %q", i, lines[i])
		}
		if !strings.HasSuffix(lines[i], want) {
			t.Fatalf("line %d: want message %q, got %q", i, want, lines[i])
		}
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	defer func() { L = prev }()

	if err := SetLevel("WARN"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	Infof("hidden")
	Warnf("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info message should be filtered at warn level; got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn message missing; got: %s", buf.String())
	}

	if err := SetLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetDebug(t *testing.T) {
	prev := L
	L = clog.New(&bytes.Buffer{})
	defer func() { L = prev }()

	SetDebug(true)
	if !DebugEnabled() {
		t.Fatalf("expected debug enabled")
	}
	SetDebug(false)
	if DebugEnabled() {
		t.Fatalf("expected debug disabled")
	}
}
