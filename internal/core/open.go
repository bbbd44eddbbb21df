// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"fmt"
	"time"

	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/keyless"
)

// Options selects the backends Open wires together.
type Options struct {
	DBType  string
	DSN     string
	BaseURL string
	Timeout time.Duration
}

// Open connects the store (running schema upgrades), builds the remote
// client and returns a Service using the wall clock. Close releases the
// store.
func Open(opts Options) (*Service, error) {
	client, err := keyless.New(keyless.Config{BaseURL: opts.BaseURL, Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	store, err := db.NewStoreFromDSN(opts.DBType, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.DBType, err)
	}
	svc := New(store, client, nil)
	svc.closer = store
	return svc, nil
}
