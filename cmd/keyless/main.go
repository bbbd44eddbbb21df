// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the keyless command-line interface with Cobra: the root
// command, its persistent flags and the shared state every subcommand uses.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/buildvars"
	"github.com/toeirei/keyless/internal/config"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/logging"
	"github.com/toeirei/keyless/internal/model"
)

func main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, i18n.T("cli.error", describeError(err)))
		os.Exit(1)
	}
}

// app is the state shared by one command invocation.
type app struct {
	cfgFile string
	cfg     config.Config
}

// NewRootCmd builds a fresh command tree. Tests build one per case.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "keyless",
		Short: "Keyless manages virtual keys across a vehicle fleet.",
		Long: `Keyless keeps a local mirror of devices and their virtual keys,
reconciles it against the remote keyless-access service and maintains
versioned key templates. Every change is written to an audit log.`,
		Version:       buildvars.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is <user config dir>/keyless/keyless.yaml)")
	pf.String("db-type", "", `database type ("sqlite", "postgres", "mysql")`)
	pf.String("db-dsn", "", "database connection string (DSN)")
	pf.String("base-url", "", "keyless service base URL")
	pf.Int("timeout", 0, "remote call timeout in seconds")
	pf.String("lang", "", `message language ("en", "es")`)
	pf.String("log-level", "", `log level ("debug", "info", "warn", "error")`)
	pf.String("tenant", "", "tenant database to act on")
	pf.String("user", "", "user recorded in the audit log")
	pf.String("token", "", "bearer token for the keyless service")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newDeviceCmd(a),
		newKeyCmd(a),
		newTemplateCmd(a),
		newAuditCmd(a),
		newSettingsCmd(a),
		newDBCmd(a),
	)
	return cmd
}

// load resolves the configuration and applies language and log level.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), &a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	i18n.Init(cfg.Language)
	logging.SetOutput(cmd.ErrOrStderr())
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		logging.Warnf("ignoring log level %q: %v", cfg.Log.Level, err)
	}
	db.SetDebug(logging.DebugEnabled())
	return nil
}

// withService opens the store and remote client, runs fn and closes the
// store again.
func (a *app) withService(fn func(svc *core.Service) error) error {
	svc, err := core.Open(core.Options{
		DBType:  a.cfg.Database.Type,
		DSN:     a.cfg.Database.Dsn,
		BaseURL: a.cfg.Remote.BaseURL,
		Timeout: time.Duration(a.cfg.Remote.Timeout) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logging.Warnf("close database: %v", cerr)
		}
	}()
	return fn(svc)
}

// withSession is withService for commands acting on the configured tenant.
func (a *app) withSession(fn func(svc *core.Service, s model.Session) error) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	return a.withService(func(svc *core.Service) error { return fn(svc, s) })
}

// session returns the configured session. Commands that reach the remote
// service get ErrNoSession from the core when the token is empty.
func (a *app) session() (model.Session, error) {
	s := model.Session{
		Tenant: strings.TrimSpace(a.cfg.Session.Tenant),
		User:   strings.TrimSpace(a.cfg.Session.User),
		Token:  strings.TrimSpace(a.cfg.Session.Token),
	}
	if s.Tenant == "" {
		return s, errs.Validationf("no tenant selected, use --tenant or log in")
	}
	return s, nil
}

// describeError turns an error into a translated, user-facing message.
func describeError(err error) string {
	switch {
	case errors.Is(err, errs.ErrNoSession):
		return i18n.T("error.no_session")
	case errors.Is(err, errs.ErrRemoteRejected):
		if status := errs.StatusOf(err); status != 0 {
			return i18n.T("error.remote", status, errs.DetailOf(err))
		}
		return i18n.T("error.remote_unreachable", errs.DetailOf(err))
	case errors.Is(err, errs.ErrNotFound):
		return i18n.T("error.not_found", err.Error())
	case errors.Is(err, errs.ErrDuplicateName):
		return i18n.T("error.duplicate", err.Error())
	case errors.Is(err, errs.ErrValidation):
		return i18n.T("error.validation", err.Error())
	}
	return err.Error()
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
