package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dispatch/migrations"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	envFile    string
}

// config returns --config, then GRAYDISPATCH_CONFIG, then the default. It
// is resolved after the env file is loaded.
func (o *rootOptions) config() string {
	if o.configPath != "" {
		return o.configPath
	}
	return getConfigPath()
}

// newRootCommand builds the CLI. Without a subcommand it runs the daemon.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "graydispatch",
		Short: "Gray Logic Dispatch - action dispatch core for building automation",
		Long: `graydispatch loads PHI and LPI drivers, runs prioritised action queues
per item or group, arbitrates shared buses and publishes outcomes.

Configuration comes from a YAML file (--config, GRAYDISPATCH_CONFIG) with
GRAYDISPATCH_* environment overrides. An optional env file is loaded first.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadDotEnv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.config())
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $GRAYDISPATCH_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"file of KEY=value pairs loaded before the config; missing is ignored")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newCheckCommand(opts),
	)
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.config())
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openConfiguredDB(opts.config())
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only after migrate

			n, err := db.Migrate(cmd.Context(), migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", n, db.Path())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openConfiguredDB(opts.config())
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // see migrate

			if err := db.Rollback(cmd.Context(), migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openConfiguredDB(opts.config())
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // see migrate

			applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
			if err != nil {
				return err
			}
			return printMigrationStatus(cmd.OutOrStdout(), applied, pending)
		},
	})
	return cmd
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.config()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "config\t%s\n", path)
			fmt.Fprintf(w, "site\t%s\n", cfg.Site.ID)
			fmt.Fprintf(w, "routing\t%s (preemption %s)\n", cfg.Queue.Routing, cfg.Queue.Preemption)
			fmt.Fprintf(w, "buses\t%d\n", len(cfg.Buses))
			fmt.Fprintf(w, "phis\t%d\n", len(cfg.Drivers.PHI))
			fmt.Fprintf(w, "items\t%d\n", len(cfg.Items))
			fmt.Fprintf(w, "mqtt\t%t\n", cfg.MQTT.Enabled)
			fmt.Fprintf(w, "influxdb\t%t\n", cfg.InfluxDB.Enabled)
			fmt.Fprintf(w, "metrics\t%t\n", cfg.Metrics.Enabled)
			return w.Flush()
		},
	}
}

func openConfiguredDB(path string) (*database.DB, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func printMigrationStatus(out io.Writer, applied []database.MigrationRecord, pending []database.Migration) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tDETAIL")
	for _, r := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t%s\n", m.Version, m.Name)
	}
	return w.Flush()
}

// loadDotEnv loads KEY=value pairs from path without overriding variables
// already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
