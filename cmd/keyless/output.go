// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/bulk"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/model"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printSummary prints a batch outcome. A batch with failed items returns an
// error so the process exits non-zero.
func printSummary(cmd *cobra.Command, sum bulk.Summary) error {
	w := out(cmd)
	fmt.Fprintln(w, i18n.T("bulk.summary", sum.Processed, sum.Succeeded, len(sum.Errors), sum.Affected))
	for _, e := range sum.Errors {
		fmt.Fprintln(w, i18n.T("bulk.item_error", e.Subject, e.Detail))
	}
	if sum.Failed() {
		return fmt.Errorf("%d of %d items failed", len(sum.Errors), sum.Processed)
	}
	return nil
}

func printKey(w io.Writer, k model.VirtualKey) {
	ref := "-"
	if k.UserRef != nil {
		ref = *k.UserRef
	}
	expires := i18n.T("key.never")
	if k.ExpiresAt != nil {
		expires = k.Expires().UTC().Format(time.DateTime)
	}
	fmt.Fprintln(w, i18n.T("device.key_line", k.ID, ref, expires))
}

func printDevices(w io.Writer, devices []model.DeviceWithKeys) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, i18n.T("device.none"))
		return nil
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", i18n.T("device.header_serial"), i18n.T("device.header_description"),
		i18n.T("device.header_keys"), i18n.T("device.header_status"))
	for _, d := range devices {
		status := i18n.T("device.status_ok")
		if d.Faulty {
			status = i18n.T("device.status_faulty")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.SerialNumber, d.Description, len(d.Keys), status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, d := range devices {
		if len(d.Keys) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", d.SerialNumber)
		for _, k := range d.Keys {
			printKey(w, k)
		}
	}
	return nil
}

func printTemplates(w io.Writer, list []model.Template) error {
	if len(list) == 0 {
		fmt.Fprintln(w, i18n.T("template.none"))
		return nil
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		i18n.T("template.header_id"), i18n.T("template.header_name"), i18n.T("template.header_version"),
		i18n.T("template.header_active"), i18n.T("template.header_duration"), i18n.T("template.header_created"))
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%s\n", t.ID, t.Name, t.Version, t.IsActive, t.DurationMonths, t.CreatedAt)
	}
	return tw.Flush()
}

func printTemplate(w io.Writer, t model.Template) error {
	tw := newTable(w)
	prev := "-"
	if t.PreviousVersionID != nil {
		prev = *t.PreviousVersionID
	}
	ref := "-"
	if t.UserRef != nil {
		ref = *t.UserRef
	}
	rows := [][2]string{
		{"id", t.ID},
		{"name", t.Name},
		{"version", fmt.Sprint(t.Version)},
		{"active", fmt.Sprint(t.IsActive)},
		{"previous", prev},
		{"user_ref", ref},
		{"duration_months", fmt.Sprint(t.DurationMonths)},
		{"nfc_tags", fmt.Sprint(t.NFCTags)},
		{"vk_config", string(t.VKConfig)},
		{"created", t.CreatedAt + " " + t.CreatedBy},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}

func printAudit(w io.Writer, entries []model.AuditLogEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, i18n.T("audit.none"))
		return nil
	}
	tw := newTable(w)
	for _, e := range entries {
		user := e.User
		if user == "" {
			user = "N/A"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Timestamp, user, e.Action, e.Subject,
			errs.Truncate(string(e.Parameters), errs.DetailLimit))
	}
	return tw.Flush()
}
