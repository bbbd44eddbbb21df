// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/templates"
)

func newTemplateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"tpl"},
		Short:   "Manage versioned key templates",
	}
	cmd.AddCommand(
		newTemplateCreateCmd(a),
		newTemplateUpdateCmd(a),
		&cobra.Command{
			Use:   "archive ID",
			Short: "Deactivate one template version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					if err := svc.ArchiveTemplate(cmd.Context(), s, args[0]); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("template.archived", args[0]))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Remove one template version permanently",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					if err := svc.DeleteTemplate(cmd.Context(), s, args[0]); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("template.deleted", args[0]))
					return nil
				})
			},
		},
		newTemplateListCmd(a),
		&cobra.Command{
			Use:   "get ID",
			Short: "Show one template version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					t, err := svc.GetTemplate(cmd.Context(), s.Tenant, args[0])
					if err != nil {
						return err
					}
					return printTemplate(out(cmd), t)
				})
			},
		},
		&cobra.Command{
			Use:   "history ID",
			Short: "List every version of a template's name, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					list, err := svc.TemplateHistory(cmd.Context(), s.Tenant, args[0])
					if err != nil {
						return err
					}
					return printTemplates(out(cmd), list)
				})
			},
		},
	)
	return cmd
}

func newTemplateCreateCmd(a *app) *cobra.Command {
	var (
		configJSON string
		tags       []string
		months     int
		userRef    string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create version 1 of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := templates.Draft{
				Name:           args[0],
				VKConfig:       json.RawMessage(configJSON),
				NFCTags:        tags,
				DurationMonths: months,
			}
			if cmd.Flags().Changed("user-ref") {
				d.UserRef = &userRef
			}
			return a.withSession(func(svc *core.Service, s model.Session) error {
				t, err := svc.CreateTemplate(cmd.Context(), s, d)
				if err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), i18n.T("template.created", t.Name, t.Version, t.ID))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&configJSON, "config", "{}", "key configuration as a JSON object")
	f.StringSliceVar(&tags, "tags", nil, "NFC tag identifiers")
	f.IntVar(&months, "months", 0, "key validity in months (default 12)")
	f.StringVar(&userRef, "user-ref", "", "user reference stored with the template")
	return cmd
}

func newTemplateUpdateCmd(a *app) *cobra.Command {
	var (
		name       string
		configJSON string
		tags       []string
		months     int
		userRef    string
	)
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Create the next version of a template",
		Long: `Writes a new active version linked to ID. Only the flags given change;
everything else carries over from ID, which is deactivated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p templates.Patch
			f := cmd.Flags()
			if f.Changed("name") {
				p.Name = &name
			}
			if f.Changed("config") {
				p.VKConfig = json.RawMessage(configJSON)
			}
			if f.Changed("tags") {
				p.NFCTags = append([]string{}, tags...)
			}
			if f.Changed("months") {
				p.DurationMonths = &months
			}
			if f.Changed("user-ref") {
				p.UserRef = &userRef
			}
			return a.withSession(func(svc *core.Service, s model.Session) error {
				t, err := svc.UpdateTemplate(cmd.Context(), s, args[0], p)
				if err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), i18n.T("template.updated", t.Name, t.Version, t.ID, args[0]))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "new template name")
	f.StringVar(&configJSON, "config", "", "key configuration as a JSON object")
	f.StringSliceVar(&tags, "tags", nil, "NFC tag identifiers")
	f.IntVar(&months, "months", 0, "key validity in months")
	f.StringVar(&userRef, "user-ref", "", "user reference stored with the template")
	return cmd
}

func newTemplateListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				list, err := svc.ListTemplates(cmd.Context(), s.Tenant, all)
				if err != nil {
					return err
				}
				return printTemplates(out(cmd), list)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include archived versions")
	return cmd
}
