package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/config"
	"github.com/fjod/go_cellar/internal/session"
	"github.com/fjod/go_cellar/internal/storefront"
	"github.com/fjod/go_cellar/pkg/logger"
)

var (
	// Global flags
	verbose bool
	timeout time.Duration
	envFile string

	cfg *config.Storefront
	log *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "Storefront client for the cellar shop",
	Long: `storefront keeps a shopper's session, cart and notifications in sync
with the remote cart gateway.

Sign in with 'storefront login <token>', then manage the cart or watch
live notifications with 'storefront watch'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv(envFile)
		cfg = config.LoadStorefront()

		var err error
		log, err = logger.New(cfg.AppEnv, verbose || cfg.Debug)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp builds the app on the configured redis session store. The
// returned func releases it.
func newApp(opts ...storefront.Option) (*storefront.App, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	app := storefront.New(cfg, session.NewRedisStore(client), log, opts...)
	return app, func() {
		app.Close()
		_ = client.Close()
	}
}

// resume restores the session and loads the cart and notifications
// without opening the push channel.
func resume(ctx context.Context, app *storefront.App, path string) error {
	if _, err := app.Session.Restore(ctx); err != nil {
		return err
	}
	if err := app.Authorize(path); err != nil {
		return err
	}
	return app.Hydrate(ctx)
}
