// Command gateway is the enrichment gateway's entry point: a `serve`
// subcommand that runs the full pipeline and a `migrate` subcommand
// that applies the registry schema, following the teacher's single
// flag-driven main.go turned into the pack's more common cobra root
// command (spf13/cobra, already in the teacher's go.mod).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenstream/enrichment-gateway/internal/app"
	"github.com/tokenstream/enrichment-gateway/internal/config"
	"github.com/tokenstream/enrichment-gateway/internal/logging"
	"github.com/tokenstream/enrichment-gateway/internal/registry/postgres"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Token enrichment gateway",
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upstream session, enrichment engine, and subscriber dispatch hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)

			reg, err := postgres.Open(cfg.Registry.DSN)
			if err != nil {
				return fmt.Errorf("open registry: %w", err)
			}
			defer reg.Close()

			a, err := app.New(cfg, log, reg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			return a.Start()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the registry schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			reg, err := postgres.Open(cfg.Registry.DSN)
			if err != nil {
				return fmt.Errorf("open registry: %w", err)
			}
			defer reg.Close()

			if err := reg.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("registry schema applied")
			return nil
		},
	}
}
