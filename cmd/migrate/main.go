// Command migrate manages the tradepost PostgreSQL schema.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tradepost.app/internal/migrate"
	"tradepost.app/internal/obs"
)

const usage = "usage: migrate [flags] up|down|seed|status"

func main() {
	_ = godotenv.Load()
	log := obs.InitLogger(obs.LogConfig{Env: os.Getenv("TRADEPOST_LOG_ENV"), ServiceName: "tradepost-migrate"})
	defer func() { _ = log.Sync() }()

	dsn := flag.String("dsn", os.Getenv("TRADEPOST_DATABASE_URL"), "PostgreSQL DSN")
	seedsDir := flag.String("seeds", "", "directory of SQL seed files")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err := run(ctx, command, *dsn, *seedsDir, os.Stdout)
	cancel()
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", command), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", command))
}

func run(ctx context.Context, command, dsn, seedsDir string, out io.Writer) error {
	if dsn == "" {
		return errors.New("missing DSN: provide -dsn or TRADEPOST_DATABASE_URL")
	}
	var seeds fs.FS
	if seedsDir != "" {
		seeds = os.DirFS(seedsDir)
	}
	if command == "seed" && seeds == nil {
		return errors.New("seed requires -seeds")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	mgr := migrate.NewManager(db, migrate.Migrations(), seeds)

	switch command {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		records, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MIGRATION\tAPPLIED")
		for _, r := range records {
			fmt.Fprintln(tw, r.String())
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}
}
