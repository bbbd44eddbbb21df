// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
)

func newDeviceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the local device registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add SERIAL [DESCRIPTION]",
			Short: "Register a device or replace its description",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				desc := ""
				if len(args) == 2 {
					desc = args[1]
				}
				return a.withSession(func(svc *core.Service, s model.Session) error {
					created, err := svc.AddDevice(cmd.Context(), s, args[0], desc)
					if err != nil {
						return err
					}
					msg := "device.updated"
					if created {
						msg = "device.added"
					}
					fmt.Fprintln(out(cmd), i18n.T(msg, strings.TrimSpace(args[0])))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List devices with their locally known keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					devices, err := svc.ListDevices(cmd.Context(), s.Tenant)
					if err != nil {
						return err
					}
					return printDevices(out(cmd), devices)
				})
			},
		},
		&cobra.Command{
			Use:   "delete SERIAL",
			Short: "Remove a device and its keys from the local registry",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					existed, err := svc.DeleteDevice(cmd.Context(), s, args[0])
					if err != nil {
						return err
					}
					msg := "device.not_registered"
					if existed {
						msg = "device.deleted"
					}
					fmt.Fprintln(out(cmd), i18n.T(msg, args[0]))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete-bulk SERIAL...",
			Short: "Remove many devices from the local registry",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(func(svc *core.Service, s model.Session) error {
					sum, err := svc.DeleteDevices(cmd.Context(), s, args)
					if err != nil {
						return err
					}
					return printSummary(cmd, sum)
				})
			},
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Register devices from a file of serial,description rows",
			Long: `Reads one device per row: the serial, then an optional description,
separated by commas. Use - to read from stdin. Existing devices get the
new description.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rows, err := readDeviceRows(cmd, args[0])
				if err != nil {
					return err
				}
				return a.withSession(func(svc *core.Service, s model.Session) error {
					sum, err := svc.ImportDevices(cmd.Context(), s, rows)
					if err != nil {
						return err
					}
					return printSummary(cmd, sum)
				})
			},
		},
	)
	return cmd
}

// readDeviceRows reads serial[,description] rows. Blank lines are skipped;
// extra columns are ignored.
func readDeviceRows(cmd *cobra.Command, path string) ([]model.DeviceInput, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errs.Validationf("read %s: %v", path, err)
	}
	rows := make([]model.DeviceInput, 0, len(records))
	for _, rec := range records {
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		row := model.DeviceInput{SerialNumber: rec[0]}
		if len(rec) > 1 {
			row.Description = rec[1]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
