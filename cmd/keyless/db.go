// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/i18n"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database administration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "maintain",
		Short: "Run engine-specific maintenance (VACUUM, OPTIMIZE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.RunDBMaintenance(a.cfg.Database.Type, a.cfg.Database.Dsn); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), i18n.T("db.maintenance_done"))
			return nil
		},
	})
	return cmd
}
