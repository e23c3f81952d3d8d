package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/migrations"
	"github.com/ekaya-inc/ekaya-ask/pkg/database"
)

var errNoDatabase = errors.New("no metadata database configured (set PGHOST or database.host)")

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the query history schema in the metadata database",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, opts, func(a *app, db *database.DB) error {
				return database.RunMigrations(db.StdDB(), migrations.FS, a.logger)
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, opts, func(a *app, db *database.DB) error {
				return database.RollbackMigrations(db.StdDB(), migrations.FS, steps, a.logger)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

func withDatabase(cmd *cobra.Command, opts *options, fn func(*app, *database.DB) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Database.Enabled() {
		return errNoDatabase
	}
	a := &app{cfg: cfg, logger: logger}
	db, err := a.openDatabase(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, db)
}
