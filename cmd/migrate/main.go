package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"guardian.org/internal/auth"
	"guardian.org/internal/config"
	"guardian.org/internal/migrate"
	"guardian.org/internal/store/pg"
)

const usage = "usage: migrate [--config file] [--dsn dsn] up|down|status|seed|bootstrap --username u --password p"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, dsn, username, password string
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("GUARDIAN_CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides GUARDIAN_PG_DSN)")
	flagSet.StringVar(&username, "username", "", "bootstrap: super admin username")
	flagSet.StringVar(&password, "password", "", "bootstrap: super admin password")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() == 0 {
		return errors.New(usage)
	}

	if dsn == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dsn = cfg.PostgresDSN
	}
	if dsn == "" {
		return errors.New("missing DSN: provide via --dsn or GUARDIAN_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrate.Migrations(), migrate.Seeds())

	switch cmd := flagSet.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		printList("applied", applied)
		return err
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Println("rolled back", name)
	case "seed":
		applied, err := mgr.Seed(ctx)
		printList("seeded", applied)
		return err
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
	case "bootstrap":
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		id, created, err := store.BootstrapSuperAdmin(ctx, username, hash)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("admin %q already exists\n", username)
			return nil
		}
		fmt.Printf("created super admin %q (%s)\n", username, id)
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	return nil
}

func printList(verb string, names []string) {
	for _, name := range names {
		fmt.Println(verb, name)
	}
}
