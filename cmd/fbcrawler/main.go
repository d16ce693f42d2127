// Package main wires together the crawler service binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/fb-crawler/internal/config"
	"github.com/JakeFAU/fb-crawler/internal/credentials"
	"github.com/JakeFAU/fb-crawler/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command serves HTTP.
func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "fbcrawler",
		Short:         "Crawl Facebook profiles and posts through Apify with API key rotation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	})
	cmd.AddCommand(newKeysCmd(&cfgPath))
	return cmd
}

func newKeysCmd(cfgPath *string) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage Apify API keys in the OS keyring",
	}
	keys.AddCommand(&cobra.Command{
		Use:   "store KEYS",
		Short: "Save a comma or newline separated key list to the keyring entry from config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			n, err := storeKeys(cfg, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("stored %d keys in keyring %s/%s\n", n, cfg.Credentials.KeyringService, cfg.Credentials.KeyringUser)
			return nil
		},
	})
	return keys
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func storeKeys(cfg config.Config, list string) (int, error) {
	keys, err := credentials.Parse(list)
	if err != nil {
		return 0, err
	}
	kr, err := credentials.NewKeyring(cfg.Credentials.KeyringService, cfg.Credentials.KeyringUser)
	if err != nil {
		return 0, err
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	if err := kr.Store(raw); err != nil {
		return 0, err
	}
	return len(keys), nil
}
