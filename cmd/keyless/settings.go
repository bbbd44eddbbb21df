// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write per-tenant settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show all settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					values, err := svc.Settings(cmd.Context(), s.Tenant)
					if err != nil {
						return err
					}
					if len(values) == 0 {
						fmt.Fprintln(out(cmd), i18n.T("settings.none"))
						return nil
					}
					keys := make([]string, 0, len(values))
					for k := range values {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					tw := newTable(out(cmd))
					for _, k := range keys {
						fmt.Fprintf(tw, "%s\t%s\n", k, values[k])
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "set KEY=VALUE...",
			Short: "Save settings",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				values := make(map[string]string, len(args))
				for _, arg := range args {
					k, v, ok := strings.Cut(arg, "=")
					if !ok || strings.TrimSpace(k) == "" {
						return errs.Validationf("expected KEY=VALUE, got %q", arg)
					}
					values[strings.TrimSpace(k)] = v
				}
				return a.withSession(func(svc *core.Service, s model.Session) error {
					if err := svc.SaveSettings(cmd.Context(), s, values); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("settings.saved"))
					return nil
				})
			},
		},
	)
	return cmd
}
