// Package migrate applies the tradepost schema. Migrations are compiled into
// the binary; seeds are optional and read from any fs.FS.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// lockKey identifies the advisory lock held while a run is in progress.
	// API replicas started with auto-migrate queue on it.
	lockKey int64 = 0x7472_6164_6570
)

// Record is one migration as reported by Status.
type Record struct {
	Name      string
	AppliedAt time.Time
	Pending   bool
}

func (r Record) String() string {
	if r.Pending {
		return r.Name + "\tpending"
	}
	return r.Name + "\t" + r.AppliedAt.UTC().Format(time.RFC3339)
}

// Manager executes SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. seeds may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, m.migrations, ".up.sql", m.migrationsTable, "migration")
	})
}

// Seed applies seed files not yet recorded.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return errors.New("no seed files configured")
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, m.seeds, ".sql", m.seedsTable, "seed")
	})
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return errors.New("no migrations applied")
		}
		last := applied[len(applied)-1].Name
		downPath := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		body, err := fs.ReadFile(m.migrations, downPath)
		if err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
		if err := runInTx(ctx, conn, string(body), forget, last); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		return nil
	})
}

// Status lists applied migrations in order followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	var out []Record
	err := m.withConn(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(applied))
		for _, r := range applied {
			done[r.Name] = true
		}
		files, err := collectSQL(m.migrations, ".up.sql")
		if err != nil {
			return err
		}
		out = applied
		for _, f := range files {
			if !done[f.Base] {
				out = append(out, Record{Name: f.Base, Pending: true})
			}
		}
		return nil
	})
	return out, err
}

func (m *Manager) applyAll(ctx context.Context, conn *sql.Conn, fsys fs.FS, suffix, table, what string) error {
	applied, err := m.applied(ctx, conn, table)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Name] = true
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table)
	for _, f := range files {
		if done[f.Base] {
			continue
		}
		body, err := fs.ReadFile(fsys, f.Path)
		if err != nil {
			return err
		}
		if err := runInTx(ctx, conn, string(body), record, f.Base, m.now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", what, f.Base, err)
		}
	}
	return nil
}

// runInTx executes every statement of body and then the bookkeeping
// statement in one transaction.
func runInTx(ctx context.Context, conn *sql.Conn, body, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey)
		}()
		return fn(conn)
	})
}

func (m *Manager) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return fn(conn)
}

func (m *Manager) applied(ctx context.Context, conn *sql.Conn, table string) ([]Record, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: path.Base(p), Path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits a script on semicolons outside quotes and line
// comments. Comment-only and empty statements are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   rune
		comment bool
		prev    rune
	)
	flush := func() {
		if s := strings.TrimSpace(stripComments(cur.String())); s != "" {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
	}
	for _, r := range script {
		switch {
		case comment:
			if r == '\n' {
				comment = false
			}
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '-' && prev == '-':
			comment = true
		case r == ';':
			cur.WriteRune(r)
			flush()
			prev = 0
			continue
		}
		cur.WriteRune(r)
		prev = r
	}
	flush()
	return stmts
}

func stripComments(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
