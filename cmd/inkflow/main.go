package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/storage"
)

// 构建时通过 -ldflags -X 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(args []string)
}

// commands 顺序即 help 输出顺序.
var commands = []command{
	{"serve", "Start the InkFlow server", runServe},
	{"migrate", "Database migration commands", runMigrate},
	{"cleanup", "Remove expired history records and their images", runCleanup},
	{"version", "Show version information", func([]string) { printVersion(os.Stdout) }},
	{"health", "Check server health", runHealthCheck},
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}
	for _, c := range commands {
		if c.name == name {
			c.run(os.Args[2:])
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

// configFlags serve 与 cleanup 共用的 --config.
func configFlags(name string, args []string) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)
	return loadConfig(*path)
}

func loadConfig(configPath string) *config.Config {
	cfg, err := config.NewLoader().
		WithConfigPath(configPath).
		WithValidator((*config.Config).Validate).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(args []string) {
	cfg := configFlags("serve", args)
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting InkFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	srv := NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()
	logger.Info("InkFlow stopped")
}

// runCleanup 清理一次过期历史后退出, 给 cron 用.
func runCleanup(args []string) {
	cfg := configFlags("cleanup", args)
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	pc := database.PoolConfigFromDatabase(cfg.Database)
	pc.HealthCheckInterval = 0
	pool, err := database.NewPoolManager(db, pc, logger)
	if err != nil {
		logger.Fatal("failed to init database pool", zap.Error(err))
	}
	defer pool.Close()

	images := storage.NewImageStore(db, cfg.Storage.ThumbnailSide, storage.WithLogger(logger))
	history := storage.NewHistoryService(pool, images, cfg.Storage.HistoryTTL, storage.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	n, err := history.CleanupExpired(ctx, time.Now())
	if err != nil {
		logger.Error("cleanup failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("Removed %d expired history records\n", n)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check /ready instead of /health")
	_ = fs.Parse(args)

	if err := probe(*addr, *ready); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func probe(addr string, ready bool) error {
	path := "/health"
	if ready {
		path = "/ready"
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "InkFlow %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "InkFlow - multi-provider image generation service\n\nUsage:\n  inkflow <command> [options]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprint(w, `  help      Show this help message

Options for 'serve' and 'cleanup':
  --config <path>   Path to configuration file (YAML)

Examples:
  inkflow serve --config /etc/inkflow/config.yaml
  inkflow migrate up
  inkflow migrate status
  inkflow health --addr http://localhost:8080 --ready
`)
}
