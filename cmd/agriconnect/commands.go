package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/authclient"
	"github.com/akshithakatte/AgriConnect/internal/authflow"
	"github.com/akshithakatte/AgriConnect/internal/tui"
)

func newLoginCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with your phone number and a one-time code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := c.logger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			sess, err := tui.Run(cmd.Context(), c.client(), log)
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "login cancelled")
				return nil
			}
			path, err := c.sessionFile()
			if err != nil {
				return err
			}
			if err := saveSession(path, &storedSession{APIURL: c.apiURL(), Session: sess}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			log.Info("session saved", zap.String("path", path), zap.String("user_id", sess.UserID))
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", sess.UserID, sess.Role)
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.sessionFile()
			if err != nil {
				return err
			}
			stored, err := loadSession(path)
			if err != nil {
				return err
			}
			u, err := whoami(cmd.Context(), c.client(), stored, func(s *storedSession) error { return saveSession(path, s) })
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", u.ID)
			fmt.Fprintf(out, "Phone:    %s\n", u.PhoneNumber)
			if u.Name != "" {
				fmt.Fprintf(out, "Name:     %s\n", u.Name)
			}
			fmt.Fprintf(out, "Role:     %s\n", u.Role)
			fmt.Fprintf(out, "Language: %s\n", u.Language)
			return nil
		},
	}
}

// whoami reads the current user, refreshing the token pair once when the access token is rejected.
func whoami(ctx context.Context, api *authclient.Client, stored *storedSession, save func(*storedSession) error) (*authclient.User, error) {
	u, err := api.Me(ctx, stored.Session.AccessToken)
	if err == nil {
		return u, nil
	}
	var rej *authflow.RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusUnauthorized || stored.Session.RefreshToken == "" {
		return nil, err
	}
	sess, err := api.Refresh(ctx, stored.Session.RefreshToken)
	if err != nil {
		if authflow.Classify(err) == authflow.ClassRejected {
			return nil, errNotLoggedIn
		}
		return nil, err
	}
	stored.Session = sess
	if err := save(stored); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return api.Me(ctx, sess.AccessToken)
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.sessionFile()
			if err != nil {
				return err
			}
			stored, err := loadSession(path)
			if errors.Is(err, errNotLoggedIn) {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			if err := c.client().Logout(cmd.Context(), stored.Session.AccessToken, stored.Session.RefreshToken); err != nil &&
				authflow.Classify(err) != authflow.ClassRejected {
				return err
			}
			if err := removeSession(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API and its dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := c.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s: %w", c.apiURL(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (version %s)\n", c.apiURL(), h.Status, h.Version)
			names := make([]string, 0, len(h.Checks))
			for name := range h.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-10s %s\n", name, h.Checks[name])
			}
			return nil
		},
	}
}
