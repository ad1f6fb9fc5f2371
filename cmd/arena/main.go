package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.arena/internal/config"
	"sudooom.arena/internal/game"
	"sudooom.arena/internal/health"
	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/realtime"
	"sudooom.arena/internal/room"
	"sudooom.arena/internal/room/persist"
	"sudooom.arena/internal/server"
	"sudooom.arena/internal/session"
	"sudooom.arena/internal/settlement"
	"sudooom.arena/internal/task"
	"sudooom.arena/pkg/snowflake"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = connectRedis(cfg.Redis)
		defer redisClient.Close()
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())
	}

	// 连接数据库
	var db *pgxpool.Pool
	if cfg.Database.Enabled {
		db, err = connectDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)
	}

	// 连接 NATS
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = realtime.ConnectNATS(natsConfig(cfg.NATS))
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	ids, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logger.Error("Invalid node id", "nodeId", cfg.App.NodeID, "error", err)
		os.Exit(1)
	}

	// 账本
	accounts, err := newLedger(cfg, db)
	if err != nil {
		logger.Error("Failed to create ledger", "error", err)
		os.Exit(1)
	}

	// 房间存储与快照持久化
	store := room.NewStore(room.Options{
		LockTimeout: cfg.Room.LockTimeout,
		Retention:   cfg.Room.Retention,
		GCInterval:  cfg.Room.GCInterval,
	})
	flusher, err := newFlusher(ctx, cfg, store, redisClient, db)
	if err != nil {
		logger.Error("Failed to set up persistence", "backend", cfg.Persist.Backend, "error", err)
		os.Exit(1)
	}

	// 延迟任务
	scheduler := task.NewScheduler(cfg.Settlement.TaskTick, cfg.Settlement.TaskWorkers)
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// 推送
	var coord *session.Coordinator
	hub := realtime.NewHub(func(roomID string) (*model.Room, error) {
		return coord.Get(roomID)
	}, realtime.HubConfig{
		BufferSize:        cfg.Realtime.BufferSize,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Realtime.HeartbeatTimeout,
		NodeID:            fmt.Sprintf("%s-%d-%s", cfg.App.Name, cfg.App.NodeID, uuid.NewString()[:8]),
	})
	var bridge *realtime.NATSBridge
	if nc != nil {
		bridge = realtime.NewNATSBridge(nc, hub, natsConfig(cfg.NATS))
		if err := bridge.Start(ctx); err != nil {
			logger.Error("Failed to start NATS bridge", "error", err)
			os.Exit(1)
		}
	}

	// 多节点时本节点没有的房间从共享后端读取快照
	var remote session.RoomSource
	if nc != nil && flusher != nil {
		remote = flusher.Backend()
	}

	// 结算与会话
	settler := settlement.NewSettler(store, accounts, scheduler, settlement.Config{
		CreditTimeout: cfg.Settlement.CreditTimeout,
		BaseBackoff:   cfg.Settlement.BaseBackoff,
		MaxBackoff:    cfg.Settlement.MaxBackoff,
		SweepInterval: cfg.Settlement.SweepInterval,
	})
	coord = session.NewCoordinator(session.Deps{
		Store:     store,
		Engines:   game.DefaultRegistry(),
		Ledger:    accounts,
		Settler:   settler,
		Publisher: hub,
		Scheduler: scheduler,
		Remote:    remote,
		IDs:       ids,
	}, session.Config{
		LedgerTimeout:    cfg.Ledger.Timeout,
		RematchTimeout:   cfg.Room.RematchTimeout,
		DeclineNoticeTTL: cfg.Room.DeclineNoticeTTL,
		MaxBet:           cfg.Room.MaxBet,
	})

	// 重启恢复：中断的结算改回 pending 并重新驱动，恢复再来一局计时
	if n := settler.Recover(ctx); n > 0 {
		logger.Info("Recovered inflight settlements", "count", n)
	}
	settler.Sweep(ctx)
	coord.Resume()

	hub.Start()
	settler.Start()
	if flusher != nil {
		flusher.Start()
	}

	// HTTP
	checker := health.NewChecker(nc, redisClient, db, store.Count)
	router := server.SetupRouter(server.RouterConfig{
		Mode:           cfg.HTTP.Mode,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Verifier:       server.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}, server.NewRoomHandler(coord, hub), server.NewHealthHandler(checker))
	httpServer := server.New(cfg.HTTP.Port, cfg.HTTP.ReadTimeout, router)
	httpServer.Start()

	logger.Info("Arena service started",
		"name", cfg.App.Name,
		"nodeId", hub.NodeID(),
		"ledger", cfg.Ledger.Driver,
		"persist", cfg.Persist.Backend,
		"rooms", store.Count())

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// 先关闭推送，SSE 与 WebSocket 长连接随之结束
	hub.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if bridge != nil {
		bridge.Stop()
	}
	settler.Stop()
	scheduler.Stop()
	_ = store.Shutdown(shutdownCtx)
	if flusher != nil {
		flusher.Stop()
	}
	cancel()
	logger.Info("Arena service stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func natsConfig(c config.NATSConfig) realtime.NATSConfig {
	return realtime.NATSConfig{
		URL:           c.URL,
		MaxReconnects: c.MaxReconnects,
		ReconnectWait: c.ReconnectWait,
		WorkerCount:   c.WorkerCount,
		BufferSize:    c.BufferSize,
	}
}

// newLedger 按配置选择账本实现
func newLedger(cfg *config.Config, db *pgxpool.Pool) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		return ledger.NewPostgres(db, cfg.Ledger.StartingBalance), nil
	case "http":
		return ledger.NewHTTP(cfg.Ledger.Endpoint, cfg.Ledger.Timeout), nil
	case "memory":
		return ledger.NewMemory(cfg.Ledger.StartingBalance), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

// newFlusher 载入已持久化的房间并注册快照写入
func newFlusher(ctx context.Context, cfg *config.Config, store *room.Store, redisClient *redis.Client, db *pgxpool.Pool) (*persist.Flusher, error) {
	var backend persist.Backend
	switch cfg.Persist.Backend {
	case "none":
		return nil, nil
	case "file":
		fb, err := persist.NewFileBackend(cfg.Persist.Dir)
		if err != nil {
			return nil, err
		}
		backend = fb
	case "redis":
		backend = persist.NewRedisBackend(redisClient)
	case "postgres":
		backend = persist.NewPostgresBackend(db)
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.Persist.Backend)
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rooms, err := backend.LoadAll(loadCtx)
	if err != nil {
		return nil, fmt.Errorf("load rooms from %s: %w", backend.Name(), err)
	}
	restored := store.Restore(rooms)
	slog.Info("Restored rooms", "backend", backend.Name(), "loaded", len(rooms), "restored", restored)

	flusher := persist.NewFlusher(backend, persist.FlusherConfig{
		FlushInterval: cfg.Persist.FlushInterval,
		BatchSize:     cfg.Persist.BatchSize,
		WriteTimeout:  cfg.Persist.WriteTimeout,
	})
	store.AddListener(flusher)
	return flusher, nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
