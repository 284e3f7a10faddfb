// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Gmail Channel Service
//
// Entry point for the long-running channel service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to Redis and, when configured, PostgreSQL
//  3. Starts the reply router on the Redis reply queue
//  4. Starts a poll timer and optional Pub/Sub puller per Gmail account
//  5. Restarts accounts when the config file changes
//  6. Serves health, status and send endpoints
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailchannel/internal/api"
	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/channel"
	"github.com/bcem/mailchannel/internal/config"
	"github.com/bcem/mailchannel/internal/dispatch"
	"github.com/bcem/mailchannel/internal/gog"
	"github.com/bcem/mailchannel/internal/lock"
	"github.com/bcem/mailchannel/internal/mailparse"
	"github.com/bcem/mailchannel/internal/session"
	"github.com/bcem/mailchannel/internal/state"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	slog.Info("starting gmail channel service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"path", cfg.Path,
		"accounts", len(cfg.Gmail.AccountIDs()),
		"state_backend", cfg.StateBackend,
		"lock_backend", cfg.LockBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	dispatcher := dispatch.NewRedisDispatcher(rdb, dispatch.Config{
		InboundQueue: cfg.InboundQueue,
		ReplyQueue:   cfg.ReplyQueue,
	})
	if err := dispatcher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	checks := map[string]api.Check{"redis": dispatcher.Ping}

	deps := channel.Deps{
		StateDir:  cfg.StateDir,
		AgentID:   cfg.AgentID,
		Extractor: mailparse.NewReplyExtractor(cfg.ReplyParser),
		Runner:    gog.ExecRunner{Binary: cfg.GogBinary},
		Host:      dispatcher,
	}

	// --- Connect to PostgreSQL (optional) ---
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
		checks["postgres"] = pgPool.Ping

		sessions, err := session.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise session store", "error", err)
			os.Exit(1)
		}
		deps.Sessions = sessions

		if cfg.StateBackend == config.BackendPostgres {
			states, err := state.NewPostgresStore(ctx, pgPool)
			if err != nil {
				slog.Error("failed to initialise state store", "error", err)
				os.Exit(1)
			}
			deps.States = states.ForAccount
		}
	}

	if cfg.LockBackend == config.BackendRedis {
		ttl := cfg.LockTTL
		deps.Claimers = func(accountID string) lock.Claimer {
			return lock.NewRedisClaimer(rdb, accountID, ttl)
		}
	}

	// --- Reply Router ---
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			slog.Error("reply router stopped", "error", err)
		}
	}()

	// --- Accounts ---
	mgr := channel.NewManager(deps)
	mgr.Start(ctx, cfg.Gmail)

	go func() {
		err := config.Watch(ctx, cfg.Path, func(next *config.Config) {
			slog.Info("config changed, restarting gmail accounts", "path", next.Path)
			mgr.Reload(ctx, next.Gmail)
		})
		if err != nil {
			slog.Error("config watch stopped", "error", err)
		}
	}()

	// --- HTTP ---
	handler := api.NewHandler(channels{mgr}, checks)
	ready, err := api.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop all background goroutines

	mgr.Stop()

	rdb.Close()
	if pgPool != nil {
		pgPool.Close()
	}

	slog.Info("gmail channel service stopped")
}

// channels adapts the account manager to the api handler.
type channels struct {
	*channel.Manager
}

func (c channels) Sender(accountID string) (api.TextSender, error) {
	b, err := c.Bridge(accountID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

var _ api.TextSender = (*bridge.Bridge)(nil)

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
