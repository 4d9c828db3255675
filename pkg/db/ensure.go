package db

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// maintenanceDB is the database CREATE DATABASE runs from.
const maintenanceDB = "postgres"

// databaseName accepts unquoted Postgres identifiers up to NAMEDATALEN-1 bytes.
var databaseName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// EnsureDatabase creates the database named by databaseURL when it is missing
// and pings it. databaseURL may be a URL or a keyword/value DSN. created
// reports whether the database was created by this call.
func EnsureDatabase(ctx context.Context, databaseURL string) (created bool, err error) {
	target, err := targetConfig(databaseURL)
	if err != nil {
		return false, err
	}
	name := target.Database

	admin, err := pgx.ConnectConfig(ctx, adminConfig(target))
	if err != nil {
		return false, fmt.Errorf("%s - failed to connect to %s: %w", ensureLogPrefix, maintenanceDB, err)
	}
	created, err = createIfMissing(ctx, admin, name)
	admin.Close(ctx)
	if err != nil {
		return false, err
	}

	conn, err := pgx.ConnectConfig(ctx, target)
	if err != nil {
		return created, fmt.Errorf("%s - failed to connect to %q: %w", ensureLogPrefix, name, err)
	}
	defer conn.Close(ctx)
	if err := conn.Ping(ctx); err != nil {
		return created, fmt.Errorf("%s - ping %q: %w", ensureLogPrefix, name, err)
	}
	slog.Info(fmt.Sprintf("%s - Database %q ready (created: %t)", ensureLogPrefix, name, created))
	return created, nil
}

// targetConfig parses databaseURL and checks the database it names.
func targetConfig(databaseURL string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	switch {
	case cfg.Database == "":
		return nil, fmt.Errorf("%s - no database named in URL", ensureLogPrefix)
	case !databaseName.MatchString(cfg.Database):
		return nil, fmt.Errorf("%s - database name %q is not a plain identifier", ensureLogPrefix, cfg.Database)
	}
	return cfg, nil
}

// adminConfig points a copy of target at the maintenance database. CREATE
// DATABASE cannot run inside the implicit transaction of the extended
// protocol, so the copy uses the simple protocol.
func adminConfig(target *pgx.ConnConfig) *pgx.ConnConfig {
	cfg := target.Copy()
	cfg.Database = maintenanceDB
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	return cfg
}

func createIfMissing(ctx context.Context, conn *pgx.Conn, name string) (bool, error) {
	var exists bool
	err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to look up %q: %w", ensureLogPrefix, name, err)
	}
	if exists {
		return false, nil
	}
	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return false, fmt.Errorf("%s - CREATE DATABASE %q failed: %w", ensureLogPrefix, name, err)
	}
	return true, nil
}
