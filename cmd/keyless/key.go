// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/bulk"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Sync, issue and revoke virtual keys",
	}
	cmd.AddCommand(
		newKeySyncCmd(a),
		newKeyCreateCmd(a),
		newKeyDeleteCmd(a),
		newKeyDeleteAllCmd(a),
	)
	return cmd
}

func newKeySyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync SERIAL...",
		Short: "Replace the local keys of devices with the remote list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				if len(args) == 1 {
					keys, err := svc.SyncDevice(cmd.Context(), s, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("key.synced", args[0], len(keys)))
					for _, k := range keys {
						printKey(out(cmd), k)
					}
					return nil
				}
				sum, err := svc.SyncDevices(cmd.Context(), s, args)
				if err != nil {
					return err
				}
				return printSummary(cmd, sum)
			})
		},
	}
}

func newKeyCreateCmd(a *app) *cobra.Command {
	var configJSON, templateID string
	cmd := &cobra.Command{
		Use:   "create SERIAL...",
		Short: "Issue a virtual key on each device",
		Long: `Issues one key per device, either from a raw JSON configuration
(--config) or from a stored template (--template). The template's duration
sets the key's validity window starting now.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (configJSON == "") == (templateID == "") {
				return errs.Validationf("exactly one of --config or --template is required")
			}
			return a.withSession(func(svc *core.Service, s model.Session) error {
				ctx := cmd.Context()
				if len(args) == 1 {
					var (
						key model.VirtualKey
						err error
					)
					if templateID != "" {
						key, err = svc.CreateKeyFromTemplate(ctx, s, args[0], templateID)
					} else {
						key, err = svc.CreateKey(ctx, s, args[0], json.RawMessage(configJSON))
					}
					if err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("key.created", key.ID, key.SerialNumber))
					printKey(out(cmd), key)
					return nil
				}

				var (
					sum bulk.Summary
					err error
				)
				if templateID != "" {
					sum, err = svc.CreateKeysFromTemplate(ctx, s, args, templateID)
				} else {
					sum, err = svc.CreateKeys(ctx, s, args, json.RawMessage(configJSON))
				}
				if err != nil {
					return err
				}
				return printSummary(cmd, sum)
			})
		},
	}
	cmd.Flags().StringVar(&configJSON, "config", "", "raw virtual key configuration as a JSON object")
	cmd.Flags().StringVar(&templateID, "template", "", "template id to build the configuration from")
	return cmd
}

func newKeyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SERIAL VKID",
		Short: "Revoke one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				if err := svc.DeleteKey(cmd.Context(), s, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), i18n.T("key.deleted", args[1], args[0]))
				return nil
			})
		},
	}
}

func newKeyDeleteAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all SERIAL...",
		Short: "Revoke every locally known key of each device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(svc *core.Service, s model.Session) error {
				if len(args) == 1 {
					res, err := svc.DeleteAllKeys(cmd.Context(), s, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), i18n.T("key.deleted_all", args[0], res.Deleted, len(res.Failed)))
					return res.Err()
				}
				sum, err := svc.DeleteKeysBulk(cmd.Context(), s, args)
				if err != nil {
					return err
				}
				return printSummary(cmd, sum)
			})
		},
	}
}
