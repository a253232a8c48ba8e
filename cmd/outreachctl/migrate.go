package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the campaigns, companies and usage tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(cmd.Context(), conn, db.DriverName(cfg.Store.Driver)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.sql>...",
	Short: "Execute SQL seed files in order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		for _, file := range args {
			if err := seedFile(cmd.Context(), conn, file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded: %s\n", file)
		}
		return nil
	},
}

// seedFile runs one file as a single transaction.
func seedFile(ctx context.Context, conn *sql.DB, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin seed transaction")
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		_ = tx.Rollback()
		return eris.Wrapf(err, "execute %s", path)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "commit %s", path)
	}
	zap.L().Info("seed applied", zap.String("file", path))
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd, seedCmd)
}
