package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/migration"
)

// migrateAliases 把旧子命令名映射到 migration.CLI 的命令.
var migrateAliases = map[string]string{
	"reset": "down-all",
}

// runMigrate 执行 migrate 子命令. 位置参数 (版本号、步数) 在 flag 之前.
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	command, rest := splitMigrateArgs(args)
	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(rest.flags)

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), command, rest.positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

type migrateArgs struct {
	positional []string
	flags      []string
}

// splitMigrateArgs 解析子命令名, 并把 "--" 开头之前的参数当作位置参数.
func splitMigrateArgs(args []string) (string, migrateArgs) {
	command := args[0]
	if alias, ok := migrateAliases[command]; ok {
		command = alias
	}
	var out migrateArgs
	rest := args[1:]
	for i, a := range rest {
		if len(a) > 1 && a[0] == '-' && (a[1] < '0' || a[1] > '9') {
			out.flags = rest[i:]
			return command, out
		}
		out.positional = append(out.positional, a)
	}
	return command, out
}

func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, nil)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, initLogger(cfg.Log))
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  inkflow migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations (alias: reset)
  steps <n>   Apply n migrations, negative n rolls back
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  inkflow migrate up --config /etc/inkflow/config.yaml
  inkflow migrate steps -1
  inkflow migrate goto 1
  inkflow migrate status`)
}
