package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateDisabled     = "disabled"
)

const probeTimeout = 2 * time.Second

// Status 健康状态
type Status struct {
	NATS     string `json:"nats"`
	Redis    string `json:"redis"`
	Database string `json:"database"`
	Rooms    int    `json:"rooms"`
}

// Healthy 已启用的依赖全部连通
func (s *Status) Healthy() bool {
	for _, v := range []string{s.NATS, s.Redis, s.Database} {
		if v == StateDisconnected {
			return false
		}
	}
	return true
}

// Checker 健康检查器，未启用的依赖传 nil
type Checker struct {
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
	rooms       func() int
}

// NewChecker 创建健康检查器
func NewChecker(nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool, rooms func() int) *Checker {
	return &Checker{
		nc:          nc,
		redisClient: redisClient,
		db:          db,
		rooms:       rooms,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		NATS:     StateDisabled,
		Redis:    StateDisabled,
		Database: StateDisabled,
	}

	if h.nc != nil {
		status.NATS = state(h.nc.IsConnected())
	}

	if h.redisClient != nil {
		redisCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		status.Redis = state(h.redisClient.Ping(redisCtx).Err() == nil)
		cancel()
	}

	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		status.Database = state(h.db.Ping(dbCtx) == nil)
		cancel()
	}

	if h.rooms != nil {
		status.Rooms = h.rooms()
	}
	return status
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

func state(ok bool) string {
	if ok {
		return StateConnected
	}
	return StateDisconnected
}
