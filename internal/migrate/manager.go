// Package migrate applies the schema and seed scripts under ops/migrations.
// Migrations are plain SQL files named NNNN_description.up.sql with a matching
// .down.sql; seeds are idempotent .sql files applied at most once. Bookkeeping
// lives in two fleetwire-owned tables so the runner can share a database with
// other tooling.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fleetwire.org/internal/obs"
)

// Default script locations, relative to the working directory.
const (
	DefaultMigrationsDir = "ops/migrations/sql"
	DefaultSeedsDir      = "ops/migrations/seeds"
)

const (
	migrationsTable = "fleetwire_schema_migrations"
	seedsTable      = "fleetwire_schema_seeds"
)

const upSuffix = ".up.sql"

// Runner applies migrations and seeds against one database.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

// NewRunner constructs a Runner. Empty dirs fall back to the defaults.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	if migrationsDir == "" {
		migrationsDir = DefaultMigrationsDir
	}
	if seedsDir == "" {
		seedsDir = DefaultSeedsDir
	}
	return &Runner{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Applied is one bookkeeping row: which script ran and when.
type Applied struct {
	Name      string
	AppliedAt time.Time
}

// Up applies every pending .up.sql migration in filename order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, migrationsTable)
	if err != nil {
		return err
	}
	scripts, err := loadScripts(r.migrationsDir, upSuffix)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if done[script.name] {
			continue
		}
		if err := r.apply(ctx, script.path); err != nil {
			return fmt.Errorf("apply migration %s: %w", script.name, err)
		}
		if err := r.record(ctx, migrationsTable, script.name); err != nil {
			return err
		}
		obs.LogEvent("migration applied", map[string]any{"name": script.name})
	}
	return nil
}

// Down rolls back the most recently applied migration via its .down.sql twin.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	history, err := r.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1].Name
	downPath := filepath.Join(r.migrationsDir, strings.TrimSuffix(last, upSuffix)+".down.sql")
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.apply(ctx, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, migrationsTable), last); err != nil {
		return err
	}
	obs.LogEvent("migration rolled back", map[string]any{"name": last})
	return nil
}

// Status returns applied migrations in apply order.
func (r *Runner) Status(ctx context.Context) ([]Applied, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s order by applied_at asc`, migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		history = append(history, a)
	}
	return history, rows.Err()
}

// Seed applies each seed file at most once.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, seedsTable)
	if err != nil {
		return err
	}
	scripts, err := loadScripts(r.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if done[script.name] {
			continue
		}
		if err := r.apply(ctx, script.path); err != nil {
			return fmt.Errorf("apply seed %s: %w", script.name, err)
		}
		if err := r.record(ctx, seedsTable, script.name); err != nil {
			return err
		}
		obs.LogEvent("seed applied", map[string]any{"name": script.name})
	}
	return nil
}

func (r *Runner) ensureBookkeeping(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one script inside a single transaction: a half-applied
// migration never gets recorded.
func (r *Runner) apply(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (r *Runner) appliedSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

type script struct {
	name string
	path string
}

// loadScripts walks dir for files ending in suffix, sorted by base name so
// the NNNN_ prefix fixes the apply order. A missing dir is an empty set.
func loadScripts(dir string, suffix string) ([]script, error) {
	var scripts []script
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		scripts = append(scripts, script{name: d.Name(), path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].name < scripts[j].name })
	return scripts, nil
}

// splitStatements breaks a script on semicolons, honoring single-quoted
// strings and dropping "--" line comments and blank statements. Enough for
// the DDL and seeds this service ships; not a general SQL parser.
func splitStatements(raw string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	for _, line := range strings.Split(raw, "\n") {
		if !inString {
			if i := strings.Index(line, "--"); i >= 0 && !strings.Contains(line[:i], "'") {
				line = line[:i]
			}
		}
		for _, ch := range line {
			switch ch {
			case '\'':
				inString = !inString
				current.WriteRune(ch)
			case ';':
				current.WriteRune(ch)
				if !inString {
					flush()
				}
			default:
				current.WriteRune(ch)
			}
		}
		current.WriteRune('\n')
	}
	flush()
	return stmts
}
