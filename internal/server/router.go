package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// RouterConfig 路由配置
type RouterConfig struct {
	Mode           string
	AllowedOrigins []string
	Verifier       *Verifier // nil 表示不启用认证
}

// SetupRouter 设置路由
func SetupRouter(cfg RouterConfig, rooms *RoomHandler, healthHandler *HealthHandler) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(RequestLogger(slog.Default().With("component", "HTTP")))
	r.Use(CORS(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	v1 := r.Group("/api/v1")
	{
		// 只读接口无需登录
		v1.GET("/rooms", rooms.ListRooms)
		v1.GET("/rooms/:roomId", rooms.GetRoom)
		v1.GET("/ledger/:address/balance", rooms.Balance)

		authenticated := v1.Group("")
		authenticated.Use(Auth(cfg.Verifier))
		{
			authenticated.POST("/rooms", rooms.CreateRoom)
			authenticated.POST("/rooms/:roomId/actions", rooms.Action)
			authenticated.GET("/rooms/:roomId/stream", rooms.Stream)
			authenticated.GET("/rooms/:roomId/ws", rooms.WebSocket)
		}
	}

	return r
}
