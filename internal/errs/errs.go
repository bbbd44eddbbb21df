// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errs holds the error taxonomy shared by the store, the remote
// client and the operations built on top of them. Callers match with
// errors.Is / errors.As; every layer wraps with %w.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSession is returned before any network call when no bearer token is available.
	ErrNoSession = errors.New("no session")
	// ErrRemoteRejected matches any *RemoteError.
	ErrRemoteRejected = errors.New("remote rejected")
	// ErrNotFound is returned when a device, key or template is absent in the tenant.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned on a template (tenant, name, version) collision.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrValidation is returned for malformed input such as an empty serial.
	ErrValidation = errors.New("validation failure")
)

// DetailLimit caps the remote body stored in audit entries.
const DetailLimit = 200

// RemoteError carries the raw outcome of a failed remote call. StatusCode is
// zero when the request never produced an HTTP response.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: remote unreachable: %s", e.Op, e.Body)
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: remote returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.StatusCode, body)
}

// Is makes errors.Is(err, ErrRemoteRejected) true for every RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// Detail returns the body truncated to DetailLimit bytes.
func (e *RemoteError) Detail() string {
	return Truncate(e.Body, DetailLimit)
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with a formatted subject.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// StatusOf returns the remote status code carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// DetailOf returns a short, audit-friendly description of err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Detail()
	}
	return Truncate(err.Error(), DetailLimit)
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
