package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/taxpilot/config"
	srv "github.com/mohammad-safakhou/taxpilot/internal/server"
)

func migrateCMD() *cobra.Command {
	var cfgPath string
	var dir string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply database migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			cfg := config.LoadConfig(cfgPath)

			return srv.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}
