// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tenant's audit log",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the newest log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				entries, err := svc.AuditLog(cmd.Context(), s.Tenant, limit)
				if err != nil {
					return err
				}
				return printAudit(out(cmd), entries)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "number of entries to show")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear the log, leaving a single RESET_LOGS entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				n, err := svc.ResetAuditLog(cmd.Context(), s)
				if err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), i18n.T("audit.reset", n))
				return nil
			})
		},
	}

	var (
		output string
		zstd   bool
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the full log as a text report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				var w io.Writer = out(cmd)
				if output != "" && output != "-" {
					f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				if err := svc.ExportAuditLog(cmd.Context(), s.Tenant, w, zstd); err != nil {
					return err
				}
				if w != out(cmd) {
					fmt.Fprintln(out(cmd), i18n.T("audit.exported", output))
				}
				return nil
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	export.Flags().BoolVar(&zstd, "zstd", false, "compress the report with zstd")

	cmd.AddCommand(list, reset, export)
	return cmd
}
