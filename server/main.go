package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/asadovsky/woot/server/hub"
	"github.com/asadovsky/woot/server/relay"
	"github.com/asadovsky/woot/server/store"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addr := flag.String("addr", envOr("WOOT_ADDR", "localhost:8080"), "address to serve on")
	storeKind := flag.String("store", envOr("WOOT_STORE", "memory"), "op log backend: memory, sqlite or bolt")
	dbPath := flag.String("db", envOr("WOOT_DB", "woot.db"), "op log path for sqlite and bolt")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "redis address for relaying changes between hubs; empty disables")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := store.Open(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	slog.Info("opened store", "kind", *storeKind, "path", *dbPath)

	cfg := hub.Config{Store: s}
	if *redisAddr != "" {
		r, err := relay.Dial(ctx, *redisAddr)
		if err != nil {
			return err
		}
		defer r.Close()
		cfg.Relay = r
	}
	return hub.Serve(ctx, *addr, cfg)
}
