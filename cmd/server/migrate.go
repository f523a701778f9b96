package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kinship/internal/platform/config"
	"kinship/internal/platform/postgres/migrate"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	for _, dir := range []migrate.Direction{migrate.Up, migrate.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Run all %s migrations against DATABASE_URL", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := migrate.Run(cfg.Postgres.URL, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: ok\n", dir)
				return nil
			},
		})
	}
	return cmd
}
