// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package clock

import (
	"testing"
	"time"
)

func TestFixed_Advance(t *testing.T) {
	start := time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)
	c := NewFixed(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, c.Now())
	}
}

func TestOrSystem(t *testing.T) {
	fixed := NewFixed(time.Unix(0, 0))
	if OrSystem(fixed) != Clock(fixed) {
		t.Fatalf("expected the given clock back")
	}
	before := time.Now()
	if got := OrSystem(nil).Now(); got.Before(before) {
		t.Fatalf("system clock went backwards: %v < %v", got, before)
	}
}
