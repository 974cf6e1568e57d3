package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gotodo/pkg/datastore"
	"github.com/NicolasHaas/gotodo/pkg/logging"
	"github.com/NicolasHaas/gotodo/pkg/server"
	"github.com/NicolasHaas/gotodo/pkg/version"
)

func main() {
	defaults := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML config file (flags override its values)")
	addr := flag.String("addr", defaults.Addr, "HTTP bind address")
	dbPath := flag.String("db", defaults.DBPath, "SQLite database file path")
	jwtSecret := flag.String("jwt-secret", "", "HS256 signing secret (generated if empty; also GOTODO_JWT_SECRET)")
	seedFile := flag.String("seed", "", "YAML file of users and todos to import, then exit")
	exportTodos := flag.String("export-todos", "", "Export this user's todos as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		info := version.Info()
		fmt.Printf("gotodo-server %s (commit %s, built %s)\n", info.Version, info.Commit, info.Date)
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg := defaults
	if *configFile != "" {
		loaded, err := server.LoadConfig(*configFile)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := os.Getenv("GOTODO_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "db":
			cfg.DBPath = *dbPath
		case "jwt-secret":
			cfg.JWTSecret = *jwtSecret
		}
	})
	cfg.SeedFile = *seedFile
	cfg.ExportTodos = *exportTodos

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// Handle seed and export commands (run and exit)
	if cfg.SeedFile != "" || cfg.ExportTodos != "" {
		defer st.Close()
		ctx := context.Background()

		if cfg.SeedFile != "" {
			res, err := server.LoadSeedFromYAML(ctx, cfg.SeedFile, st)
			if err != nil {
				slog.Error("seed", "file", cfg.SeedFile, "err", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "imported %d users and %d todos\n", res.Users, res.Todos)
		}
		if cfg.ExportTodos != "" {
			data, err := server.ExportTodosYAML(ctx, st, cfg.ExportTodos)
			if err != nil {
				slog.Error("export todos", "user", cfg.ExportTodos, "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		return
	}

	srv, err := server.New(cfg, server.Dependencies{Store: st})
	if err != nil {
		slog.Error("create server", "err", err)
		_ = st.Close()
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
