// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyless/internal/config"
	"github.com/toeirei/keyless/internal/core"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/i18n"
	"github.com/toeirei/keyless/internal/logging"
	"golang.org/x/term"
)

func newLoginCmd(a *app) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the keyless service and store the session",
		Long: `Exchanges a username and password for a bearer token on the tenant
given by --tenant, then saves tenant, user and token to the config file
so later commands can reuse them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := strings.TrimSpace(a.cfg.Session.Tenant)
			user := strings.TrimSpace(a.cfg.Session.User)
			if tenant == "" || user == "" {
				return errs.Validationf("--tenant and --user are required")
			}
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			return a.withService(func(svc *core.Service) error {
				s, err := svc.Login(cmd.Context(), tenant, user, password)
				if err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), i18n.T("login.success", s.Tenant, s.User))

				a.cfg.Session.Tenant, a.cfg.Session.User, a.cfg.Session.Token = s.Tenant, s.User, s.Token
				path, err := a.configPath()
				if err != nil {
					return err
				}
				if err := config.WriteConfigFileTo(&a.cfg, path); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				fmt.Fprintln(out(cmd), i18n.T("login.saved", path))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of prompting")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session()
			if err == nil {
				if err := a.withService(func(svc *core.Service) error {
					svc.Logout(cmd.Context(), s)
					return nil
				}); err != nil {
					logging.Warnf("logout: %v", err)
				}
			}
			a.cfg.Session.Token = ""
			path, err := a.configPath()
			if err != nil {
				return err
			}
			if err := config.WriteConfigFileTo(&a.cfg, path); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(out(cmd), i18n.T("logout.done"))
			return nil
		},
	}
}

// configPath is the --config file, or the user config file.
func (a *app) configPath() (string, error) {
	if a.cfgFile != "" {
		return a.cfgFile, nil
	}
	return config.GetConfigPath(false)
}

// readPassword prompts on a terminal without echo, otherwise reads one line
// from the command's input.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), i18n.T("login.password_prompt"))
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
