package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/core"
)

// getDefaultDBPath returns the default database path (~/.config/relay/relay.db)
func getDefaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "relay.db"
	}
	return filepath.Join(homeDir, ".config", "relay", "relay.db")
}

func main() {
	addr := flag.String("addr", ":9880", "Server address")
	dbPath := flag.String("db", getDefaultDBPath(), "SQLite database path, or DSN (mysql://..., postgres://...)")
	configPath := flag.String("config", "", "Config file path (JSON)")
	flag.Parse()

	if !strings.Contains(*dbPath, "://") {
		dbDir := filepath.Dir(*dbPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			log.Fatalf("Failed to create database directory %s: %v", dbDir, err)
		}
	}

	snap, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.NewHolder(snap)

	components, err := core.BuildComponents(cfg, *dbPath)
	if err != nil {
		log.Fatalf("Failed to build components: %v", err)
	}
	defer components.Close()

	server, err := core.NewManagedServer(&core.ServerConfig{
		Addr:       *addr,
		Components: components,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	core.StartBackgroundTasks(core.BackgroundTaskDeps{
		RequestLogs: components.RequestLogRepo,
	})

	// SIGHUP 热加载配置，SIGINT/SIGTERM 优雅退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reloaded, err := config.LoadFile(*configPath)
			if err != nil {
				log.Printf("Config reload failed: %v", err)
				continue
			}
			cfg.Swap(reloaded)
			core.SyncCredentials(reloaded, components.Store)
			log.Printf("Config reloaded from %s", *configPath)
			continue
		}
		log.Printf("Received signal %v, shutting down", sig)
		break
	}

	if err := server.Stop(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
