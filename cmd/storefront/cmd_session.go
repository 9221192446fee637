package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/session"
)

var (
	tokenUserID int64
	tokenEmail  string
	tokenRole   int
	tokenTTL    time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login <access-token> [refresh-token]",
	Short: "Sign in with an access token",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		refresh := ""
		if len(args) == 2 {
			refresh = args[1]
		}

		app, release := newApp()
		defer release()

		// Only persist and hydrate here; 'watch' keeps the channel open.
		s, err := app.Session.Login(ctx, args[0], refresh)
		if err != nil {
			return err
		}
		if err := app.Hydrate(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (user %d)\n", s.User.Email, s.User.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) in cart, %d unread notification(s)\n",
			len(app.Cart.Items()), app.Notifications.UnreadCount())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		app, release := newApp()
		defer release()

		if err := app.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		app, release := newApp()
		defer release()

		s, err := app.Session.Restore(ctx)
		if err != nil {
			return err
		}
		if s == nil {
			return domain.ErrAuthRequired
		}
		role := "shopper"
		if s.IsAdmin() {
			role = "admin"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (user %d, %s)\n", s.User.Email, s.User.ID, role)
		return nil
	},
}

// tokenCmd mints development tokens signed with JWT_SECRET, matching what
// the reference gateway verifies.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := session.Sign([]byte(cfg.JWTSecret), domain.User{
			ID:     tokenUserID,
			Email:  tokenEmail,
			RoleID: tokenRole,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 1, "User id claim")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "shopper@cellar.test", "Email claim")
	tokenCmd.Flags().IntVar(&tokenRole, "role", 2, "Role id claim (1 is admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
