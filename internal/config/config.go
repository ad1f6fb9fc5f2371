package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 ARENA_HTTP_PORT
const EnvPrefix = "ARENA"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Room       RoomConfig       `mapstructure:"room"`
	Persist    PersistConfig    `mapstructure:"persist"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	NodeID   int64  `mapstructure:"node_id"` // 雪花 ID 节点号
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type RoomConfig struct {
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	Retention        time.Duration `mapstructure:"retention"`
	GCInterval       time.Duration `mapstructure:"gc_interval"`
	RematchTimeout   time.Duration `mapstructure:"rematch_timeout"`
	DeclineNoticeTTL time.Duration `mapstructure:"decline_notice_ttl"`
	MaxBet           int64         `mapstructure:"max_bet"`
}

// PersistConfig 快照持久化，Backend 取 none / file / redis / postgres
type PersistConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// LedgerConfig 账本，Driver 取 memory / postgres / http
type LedgerConfig struct {
	Driver          string        `mapstructure:"driver"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	StartingBalance int64         `mapstructure:"starting_balance"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	WorkerCount   int           `mapstructure:"worker_count"`
	BufferSize    int           `mapstructure:"buffer_size"`
}

type RealtimeConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
}

type SettlementConfig struct {
	CreditTimeout time.Duration `mapstructure:"credit_timeout"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	TaskTick      time.Duration `mapstructure:"task_tick"`
	TaskWorkers   int           `mapstructure:"task_workers"`
}

// AuthConfig JWTSecret 为空时不校验令牌，玩家身份取请求体中的 player
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arena")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("app.log_level", "info")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("room.lock_timeout", 5*time.Second)
	v.SetDefault("room.retention", 24*time.Hour)
	v.SetDefault("room.gc_interval", time.Hour)
	v.SetDefault("room.rematch_timeout", time.Minute)
	v.SetDefault("room.decline_notice_ttl", 10*time.Second)
	v.SetDefault("room.max_bet", 0)

	v.SetDefault("persist.backend", "file")
	v.SetDefault("persist.dir", "data/rooms")
	v.SetDefault("persist.flush_interval", 0)
	v.SetDefault("persist.batch_size", 64)
	v.SetDefault("persist.write_timeout", 5*time.Second)

	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.endpoint", "")
	v.SetDefault("ledger.timeout", 5*time.Second)
	v.SetDefault("ledger.starting_balance", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.worker_count", 4)
	v.SetDefault("nats.buffer_size", 1024)

	v.SetDefault("realtime.buffer_size", 64)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.heartbeat_timeout", 90*time.Second)

	v.SetDefault("settlement.credit_timeout", 5*time.Second)
	v.SetDefault("settlement.base_backoff", time.Second)
	v.SetDefault("settlement.max_backoff", 5*time.Minute)
	v.SetDefault("settlement.sweep_interval", time.Minute)
	v.SetDefault("settlement.task_tick", time.Second)
	v.SetDefault("settlement.task_workers", 4)

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.jwt_secret", "")
}

// Load 加载配置：先读 .env，再读 YAML 文件，最后由 ARENA_* 环境变量覆盖。
// path 为空或文件不存在时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值
func (c *Config) Validate() error {
	switch c.Persist.Backend {
	case "none", "file", "redis", "postgres":
	default:
		return fmt.Errorf("unknown persist backend %q", c.Persist.Backend)
	}
	switch c.Ledger.Driver {
	case "memory", "postgres", "http":
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "http" && c.Ledger.Endpoint == "" {
		return errors.New("ledger.endpoint is required for http driver")
	}
	if (c.Persist.Backend == "postgres" || c.Ledger.Driver == "postgres") && !c.Database.Enabled {
		return errors.New("database.enabled must be true for postgres backends")
	}
	if c.Persist.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("redis.enabled must be true for redis backend")
	}
	// 多节点时其他节点的房间只能从共享后端读取快照
	if c.NATS.Enabled && c.Persist.Backend != "redis" && c.Persist.Backend != "postgres" {
		return errors.New("nats.enabled requires a shared persist backend (redis or postgres)")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id %d out of range", c.App.NodeID)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
