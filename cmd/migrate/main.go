package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"pagehall.org/internal/config"
	"pagehall.org/internal/migrate"
	"pagehall.org/internal/obs"
	"pagehall.org/internal/store/pg"
	"pagehall.org/migrations"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional config file")
		dsn        = flag.String("dsn", "", "PostgreSQL DSN (default PAGEHALL_PG_DSN)")
		dir        = flag.String("dir", "", "migrations directory (default PAGEHALL_MIGRATIONS_DIR, else embedded files)")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] [-dir DIR] up|down|status")
		os.Exit(2)
	}
	if err := run(flag.Arg(0), *configPath, *dsn, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(cmd, configPath, dsn, dir string) error {
	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return err
	}
	if dsn == "" {
		dsn = cfg.PGDSN
	}
	if dsn == "" {
		return errors.New("missing DSN: provide -dsn or PAGEHALL_PG_DSN")
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if dir == "" {
		if st, err := os.Stat(cfg.MigrationsDir); err == nil && st.IsDir() {
			dir = cfg.MigrationsDir
		}
	}
	var files fs.FS = migrations.FS
	if dir != "" {
		files = os.DirFS(dir)
		logger.Info("using migrations directory", zap.String("dir", dir))
	}

	store, err := pg.Open(dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mgr := migrate.NewManager(store.DB(), files, migrate.WithLogger(logger))
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations complete", zap.Int("applied", len(applied)))
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Println(name)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, name := range history {
			fmt.Println(name)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
