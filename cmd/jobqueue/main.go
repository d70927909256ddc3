// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/admin"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/api"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/clock"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/reaper"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/redisclient"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/store"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/worker"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var adminCmd string
	var adminList string
	var adminN int
	var adminYes bool
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "api", "Role to run: api|worker|all|admin")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&adminCmd, "admin-cmd", "", "Admin command: stats|peek|purge-all")
	fs.StringVar(&adminList, "list", "waiting", "List alias or full key for admin peek")
	fs.IntVar(&adminN, "n", 10, "Number of items for admin peek")
	fs.BoolVar(&adminYes, "yes", false, "Automatic yes to prompts (dangerous operations)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	rdb, err := redisclient.New(cfg)
	if err != nil {
		logger.Fatal("redis client init failed", obs.Err(err))
	}
	defer rdb.Close()

	st := store.New(rdb)
	q := queue.New(cfg, st, clock.Real{}, logger)

	if role != "admin" {
		readyCheck := func(c context.Context) error { return st.Ping(c) }
		metricsSrv := obs.StartHTTPServer(cfg, readyCheck)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	if role != "admin" {
		obs.StartQueueLengthUpdater(ctx, cfg, rdb, logger)
	}

	switch role {
	case "api":
		if cfg.Worker.StartInAPI {
			startWorkers(ctx, cfg, q, logger)
		}
		if err := api.NewServer(cfg, q, logger).Run(ctx); err != nil {
			logger.Fatal("http server error", obs.Err(err))
		}
	case "worker":
		wrk := worker.New(cfg, q, logger, nil)
		rep := reaper.New(cfg, q, logger)
		go rep.Run(ctx)
		if err := wrk.Run(ctx); err != nil {
			logger.Fatal("worker error", obs.Err(err))
		}
	case "all":
		startWorkers(ctx, cfg, q, logger)
		if err := api.NewServer(cfg, q, logger).Run(ctx); err != nil {
			logger.Fatal("http server error", obs.Err(err))
		}
	case "admin":
		runAdmin(ctx, cfg, rdb, logger, adminCmd, adminList, adminN, adminYes)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

func startWorkers(ctx context.Context, cfg *config.Config, q *queue.Queue, logger *zap.Logger) {
	wrk := worker.New(cfg, q, logger, nil)
	rep := reaper.New(cfg, q, logger)
	go rep.Run(ctx)
	go func() {
		if err := wrk.Run(ctx); err != nil {
			logger.Error("worker error", obs.Err(err))
		}
	}()
}

func runAdmin(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger, cmd, list string, n int, yes bool) {
	switch cmd {
	case "stats":
		res, err := admin.Stats(ctx, cfg, rdb)
		if err != nil {
			logger.Fatal("admin stats error", obs.Err(err))
		}
		printJSON(res)
	case "peek":
		res, err := admin.Peek(ctx, cfg, rdb, list, int64(n))
		if err != nil {
			logger.Fatal("admin peek error", obs.Err(err))
		}
		printJSON(res)
	case "purge-all":
		if !yes {
			logger.Fatal("refusing to purge without --yes")
		}
		purged, err := admin.PurgeAll(ctx, cfg, rdb)
		if err != nil {
			logger.Fatal("admin purge-all error", obs.Err(err))
		}
		printJSON(struct {
			Purged int `json:"purged"`
		}{Purged: purged})
	default:
		logger.Fatal("unknown admin command", obs.String("cmd", cmd))
	}
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
