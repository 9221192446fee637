package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/sse"
	"github.com/fjod/go_cellar/internal/storefront"
)

var notificationPages int

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		app, release := newApp()
		defer release()

		if err := resume(ctx, app, "/notifications"); err != nil {
			return err
		}
		for i := 1; i < notificationPages && app.Notifications.HasMore(); i++ {
			if err := app.Notifications.LoadMore(ctx); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for _, n := range app.Notifications.Items() {
			printNotification(out, n)
		}
		fmt.Fprintf(out, "%d unread\n", app.Notifications.UnreadCount())
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [notification-id]",
	Short: "Mark one notification, or all of them, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		app, release := newApp()
		defer release()

		if err := resume(ctx, app, "/notifications"); err != nil {
			return err
		}
		if len(args) == 0 {
			if err := app.Notifications.MarkAllAsRead(ctx); err != nil {
				return err
			}
		} else {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := app.Notifications.MarkAsRead(ctx, id); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", app.Notifications.UnreadCount())
		return nil
	},
}

// watchCmd keeps the push channel open and prints notifications as they
// arrive, until interrupted or the channel gives up.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fatal := make(chan error, 1)

		app, release := newApp(
			storefront.WithToast(func(n domain.Notification) { printNotification(out, n) }),
			storefront.WithStatus(func(st sse.Status) {
				fmt.Fprintf(out, "-- %s (attempts %d) %s\n", st.State, st.ReconnectAttempts, st.LastError)
			}),
			storefront.WithFatal(func(err error) { fatal <- err }),
		)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		s, err := app.Start(ctx)
		cancel()
		if err != nil {
			return err
		}
		if s == nil {
			return domain.ErrAuthRequired
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
			return nil
		case err := <-fatal:
			return err
		}
	},
}

func init() {
	notificationsCmd.Flags().IntVar(&notificationPages, "pages", 1, "Number of pages to load")
	notificationsCmd.AddCommand(notificationsReadCmd)
}

func printNotification(w io.Writer, n domain.Notification) {
	mark := " "
	if !n.IsRead {
		mark = "*"
	}
	fmt.Fprintf(w, "%s %5d [%s] %s: %s\n", mark, n.ID, n.Type, n.Title, n.Message)
}
