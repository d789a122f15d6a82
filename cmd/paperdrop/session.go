package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PaperDrop/internal/monitor"
	"github.com/dharsanguruparan/PaperDrop/internal/session"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var username, password, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if token == "" && password == "" {
				password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}
			state, err := a.session.Login(cmd.Context(), session.Credentials{
				Username: username,
				Password: password,
				Token:    token,
			})
			if err != nil {
				return err
			}
			who := username
			if c := a.session.Claims(); c != nil && c.Subject != "" {
				who = c.Subject
			}
			fmt.Fprintf(a.out, "Signed in as %s (%s)\n", who, state.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("USER"), "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	cmd.Flags().StringVar(&token, "token", "", "Use an existing access token instead of a password")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and API status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			state := a.session.CheckSession(cmd.Context())
			fmt.Fprintf(a.out, "Session:  %s\n", state.Status)
			if c := a.session.Claims(); c != nil {
				fmt.Fprintf(a.out, "User:     %s\n", c.Subject)
				if c.Role != "" {
					fmt.Fprintf(a.out, "Role:     %s\n", c.Role)
				}
				if !c.ExpiresAt.IsZero() {
					fmt.Fprintf(a.out, "Expires:  %s\n", c.ExpiresAt.Local().Format(time.RFC1123))
				}
			}

			mon := monitor.New(a.client, monitor.Options{
				Interval: a.cfg.Monitor.Interval,
				Timeout:  a.cfg.Monitor.Timeout,
				Logger:   a.logger,
			})
			defer mon.Close()
			fmt.Fprintf(a.out, "API:      %s (%s)\n", mon.CheckOnce(cmd.Context()), a.client.BaseURL())
			return nil
		},
	}
}
