package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-mpesa-checkout/internal/config"
	"github.com/tbourn/go-mpesa-checkout/internal/migrate"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

func migrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Manage the Postgres schema",
		Long: `Apply or roll back the SQL migrations against DATABASE_URL.
SQLite databases are created by the server on start (AUTO_MIGRATE) and are not handled here.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != repo.DriverPostgres {
				return errors.New("migrate requires DB_DRIVER=postgres")
			}
			if path == "" {
				path = cfg.Store.MigrationsPath
			}

			db, err := repo.OpenPostgres(cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			switch args[0] {
			case "up":
				return migrate.Run(db, path, migrate.Up)
			case "down":
				return migrate.Run(db, path, migrate.Down)
			case "version":
				v, dirty, err := migrate.Version(db, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %v\n", v, dirty)
				return nil
			default:
				return fmt.Errorf("unknown action %q (want up, down, or version)", args[0])
			}
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "migrations directory (defaults to MIGRATIONS_PATH)")
	return cmd
}
