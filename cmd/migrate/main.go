package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"silentfeed/migrations"
)

type command struct {
	name  string
	usage string
	args  int
	run   func(db *sql.DB, args []string) error
}

var commands = []command{
	{"up", "migrate to the latest version", 0, func(db *sql.DB, _ []string) error { return goose.Up(db, ".") }},
	{"up-one", "migrate one version up", 0, func(db *sql.DB, _ []string) error { return goose.UpByOne(db, ".") }},
	{"up-to", "migrate up to VERSION", 1, func(db *sql.DB, args []string) error {
		v, err := parseVersion(args[0])
		if err != nil {
			return err
		}
		return goose.UpTo(db, ".", v)
	}},
	{"down", "roll back one version", 0, func(db *sql.DB, _ []string) error { return goose.Down(db, ".") }},
	{"down-to", "roll back to VERSION", 1, func(db *sql.DB, args []string) error {
		v, err := parseVersion(args[0])
		if err != nil {
			return err
		}
		return goose.DownTo(db, ".", v)
	}},
	{"redo", "roll back and reapply the latest migration", 0, func(db *sql.DB, _ []string) error { return goose.Redo(db, ".") }},
	{"reset", "roll back all migrations", 0, func(db *sql.DB, _ []string) error { return goose.Reset(db, ".") }},
	{"status", "show migration status", 0, func(db *sql.DB, _ []string) error { return goose.Status(db, ".") }},
	{"version", "show current version", 0, func(db *sql.DB, _ []string) error { return goose.Version(db, ".") }},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/silentfeed.db"), "path to the silentfeed sqlite database")
	flag.Usage = usage
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "migrate")

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, ok := lookup(args[0])
	if !ok {
		log.Error("unknown command", "command", args[0])
		usage()
		os.Exit(2)
	}
	if len(args)-1 != cmd.args {
		log.Error("wrong number of arguments", "command", cmd.name, "want", cmd.args, "got", len(args)-1)
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Error("create data directory", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Error("set dialect", "error", err)
		os.Exit(1)
	}

	if err := cmd.run(db, args[1:]); err != nil {
		log.Error("migration failed", "command", cmd.name, "path", *dbPath, "error", err)
		_ = db.Close()
		os.Exit(1)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintln(w, "Usage: migrate [-db path] <command> [VERSION]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(w)
	flag.PrintDefaults()
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
