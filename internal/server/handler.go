package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.arena/internal/health"
	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/realtime"
	"sudooom.arena/internal/session"
	apperrors "sudooom.arena/pkg/errors"
	"sudooom.arena/pkg/response"
)

// RoomHandler 房间接口
type RoomHandler struct {
	coord  *session.Coordinator
	hub    *realtime.Hub
	logger *slog.Logger
}

// NewRoomHandler 创建房间接口处理器
func NewRoomHandler(coord *session.Coordinator, hub *realtime.Hub) *RoomHandler {
	return &RoomHandler{
		coord:  coord,
		hub:    hub,
		logger: slog.Default().With("component", "RoomHandler"),
	}
}

// CreateRoom 创建房间
// POST /api/v1/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req session.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ErrInvalidParams.Wrap(err))
		return
	}
	req.Creator = playerOf(c, req.Creator)

	r, err := h.coord.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, r)
}

// ListRooms 房间列表
// GET /api/v1/rooms?status=waiting
func (h *RoomHandler) ListRooms(c *gin.Context) {
	status := model.RoomStatus(c.Query("status"))
	switch status {
	case "", model.StatusWaiting, model.StatusPlaying, model.StatusFinished:
	default:
		response.Error(c, apperrors.ErrInvalidParams.WithReason("status"))
		return
	}
	response.Success(c, h.coord.List(status))
}

// GetRoom 当前快照
// GET /api/v1/rooms/:roomId
func (h *RoomHandler) GetRoom(c *gin.Context) {
	r, err := h.coord.Get(c.Param("roomId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, r)
}

// actionBody 房间操作请求体，roomId 取自路径
type actionBody struct {
	Action  session.Action  `json:"action" binding:"required"`
	Player  string          `json:"player"`
	Payload json.RawMessage `json:"payload"`
}

// Action 房间操作
// POST /api/v1/rooms/:roomId/actions
func (h *RoomHandler) Action(c *gin.Context) {
	var body actionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, apperrors.ErrInvalidParams.Wrap(err))
		return
	}

	res, err := h.coord.Handle(c.Request.Context(), session.ActionRequest{
		RoomID:  c.Param("roomId"),
		Action:  body.Action,
		Player:  playerOf(c, body.Player),
		Payload: body.Payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.SettlementErr != nil {
		response.SuccessWithError(c, res, res.SettlementErr)
		return
	}
	response.Success(c, res)
}

// Stream SSE 推送
// GET /api/v1/rooms/:roomId/stream?player=
func (h *RoomHandler) Stream(c *gin.Context) {
	player := playerOf(c, ledger.NormalizeAddress(c.Query("player")))
	sub, err := h.hub.Subscribe(c.Param("roomId"), player)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-sub.Events():
			c.SSEvent(string(ev.Type), ev)
			sub.Touch()
			return true
		case <-sub.Done():
			// 房间关闭前的最后一批事件
			for {
				select {
				case ev := <-sub.Events():
					c.SSEvent(string(ev.Type), ev)
				default:
					return false
				}
			}
		case <-ctx.Done():
			return false
		}
	})
}

// Balance 查询积分余额
// GET /api/v1/ledger/:address/balance
func (h *RoomHandler) Balance(c *gin.Context) {
	addr := ledger.NormalizeAddress(c.Param("address"))
	b, err := h.coord.Balance(c.Request.Context(), addr)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"address": addr, "balance": b})
}

// HealthHandler 健康检查
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Ready GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.checker.IsHealthy(c.Request.Context()) {
		c.String(http.StatusOK, "OK")
		return
	}
	c.String(http.StatusServiceUnavailable, "Not Ready")
}
