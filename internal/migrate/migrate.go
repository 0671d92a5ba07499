package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema file, named like 0001_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Run applies pending migrations to the MySQL measurement store. Each file is
// executed as a single statement batch.
func Run(ctx context.Context, dsn string, log *slog.Logger) error {
	dsn, err := migrationDSN(dsn)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		return err
	}
	return Apply(ctx, db, log)
}

// Apply runs every embedded migration not yet recorded in schema_migrations.
func Apply(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        applied_at DATETIME(6) NOT NULL
    ) ENGINE=InnoDB;`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return err
	}

	migrations, err := Load()
	if err != nil {
		return err
	}
	applied, err := loadApplied(ctx, db)
	if err != nil {
		return err
	}

	n := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug("migration already applied", slog.Int("version", m.Version), slog.String("file", m.Name))
			continue
		}
		log.Info("applying migration", slog.Int("version", m.Version), slog.String("file", m.Name))
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("applying %s: %w", m.Name, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_migrations(version, name, applied_at) VALUES(?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		); err != nil {
			return err
		}
		n++
	}
	log.Info("schema up to date", slog.Int("applied", n), slog.Int("total", len(migrations)))
	return nil
}

// Load returns the embedded migrations ordered by version.
func Load() ([]Migration, error) {
	files, err := fs.Glob(migrationsFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(files))
	seen := make(map[int]string, len(files))
	for _, f := range files {
		name := path.Base(f)
		ver, err := parseVersion(name)
		if err != nil {
			return nil, fmt.Errorf("invalid migration filename %q: %w", name, err)
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", prev, name, ver)
		}
		seen[ver] = name
		b, err := fs.ReadFile(migrationsFS, f)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: ver, Name: name, SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func loadApplied(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	m := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		m[v] = true
	}
	return m, rows.Err()
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok || prefix == "" {
		return 0, fmt.Errorf("missing prefix number")
	}
	return strconv.Atoi(prefix)
}

// migrationDSN enables multiStatements for multi-statement files and parseTime
// for applied_at.
func migrationDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	cfg.MultiStatements = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
