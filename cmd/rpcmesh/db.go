package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/rpcmesh/internal/config"
	"github.com/morezero/rpcmesh/pkg/db"
)

// openPool loads config and connects to DATABASE_URL.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the token store schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run pending migrations from MIGRATION_PATH",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, pool, err := openPool(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()

				migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
				if err != nil {
					return fmt.Errorf("load migrations: %w", err)
				}
				if err := db.RunMigrations(cmd.Context(), pool, migrations); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, pool, err := openPool(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()

				states, err := db.MigrationStatus(cmd.Context(), pool, cfg.MigrationPath)
				if err != nil {
					return err
				}
				for _, st := range states {
					applied := "pending"
					if st.AppliedAt != nil {
						applied = st.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", st.Name, applied)
				}
				return nil
			},
		},
	)
	return cmd
}

func newEnsureDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db [name]",
		Short: "Create a database on the DATABASE_URL host if missing (default rpcmesh_test)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName := "rpcmesh_test"
			if len(args) > 0 && args[0] != "" {
				dbName = args[0]
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForDB(); err != nil {
				return err
			}
			targetURL, err := withDatabase(cfg.DatabaseURL, dbName)
			if err != nil {
				return err
			}
			created, err := db.EnsureDatabase(cmd.Context(), targetURL)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Database %q created.\n", dbName)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Database %q already exists.\n", dbName)
			}
			return nil
		},
	}
}

// withDatabase replaces the database in rawURL; the query (e.g. sslmode) is kept.
func withDatabase(rawURL, dbName string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage tokens of the postgres auth backend",
	}

	var ttl time.Duration
	add := &cobra.Command{
		Use:   "add <token> <identity>",
		Short: "Create or replace a token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			t := db.Token{Token: args[0], Identity: args[1]}
			if ttl > 0 {
				exp := time.Now().Add(ttl).UTC()
				t.ExpiresAt = &exp
			}
			if err := db.NewTokenStore(pool).PutToken(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token for %s stored\n", args[1])
			return nil
		},
	}
	add.Flags().DurationVar(&ttl, "ttl", 0, "expire the token after this duration (0 never expires)")

	revoke := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Delete a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			ok, err := db.NewTokenStore(pool).RevokeToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("token not found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return nil
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.NewTokenStore(pool).PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired tokens removed\n", n)
			return nil
		},
	}

	cmd.AddCommand(add, revoke, purge)
	return cmd
}
