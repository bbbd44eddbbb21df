// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// debug_export seeds an in-memory store with a small demo fleet and prints
// the device listing and the audit log report. It never contacts the remote
// service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/templates"
)

const demoTenant = "demo_fleet"

func main() {
	if err := run(context.Background(), os.Stdout, "file:debprobe?mode=memory&cache=shared"); err != nil {
		fmt.Fprintf(os.Stderr, "debug_export: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, dsn string) error {
	store, err := db.NewStoreFromDSN(db.TypeSQLite, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc := core.New(store, nil, nil)
	s := model.Session{Tenant: demoTenant, User: "debug@keyless.local"}

	for _, d := range []model.DeviceInput{
		{SerialNumber: "G9A1000001", Description: "Van 1"},
		{SerialNumber: "G9A1000002", Description: "Van 2"},
		{SerialNumber: "G9A1000003"},
	} {
		if _, err := svc.AddDevice(ctx, s, d.SerialNumber, d.Description); err != nil {
			return err
		}
	}
	ref := "driver-1"
	if err := store.RecordKey(ctx, model.VirtualKey{ID: "vk-demo-1", SerialNumber: "G9A1000001", Tenant: demoTenant, UserRef: &ref}); err != nil {
		return err
	}
	if _, err := svc.CreateTemplate(ctx, s, templates.Draft{
		Name:     "standard",
		VKConfig: json.RawMessage(`{"permissions":"all"}`),
	}); err != nil {
		return err
	}

	devices, err := svc.ListDevices(ctx, demoTenant)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "devices: %d\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(w, "device: %s (%s) keys=%d\n", d.SerialNumber, d.Description, len(d.Keys))
	}
	fmt.Fprintln(w)
	return svc.ExportAuditLog(ctx, demoTenant, w, false)
}
