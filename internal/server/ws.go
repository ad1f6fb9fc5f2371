package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/realtime"
	"sudooom.arena/internal/session"
	apperrors "sudooom.arena/pkg/errors"
	"sudooom.arena/pkg/response"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4096
	wsSendBuffer = 64
)

var errConnClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由 CORS 配置把关
	CheckOrigin: func(r *http.Request) bool { return true },
}

// 客户端消息类型
const (
	msgAction = "action"
	msgPing   = "ping"
)

// inMessage 客户端消息
type inMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Action    session.Action  `json:"action,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// outMessage 操作结果或 pong
type outMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	response.Response
}

// wsConn 一个 WebSocket 连接，单独的写协程负责所有写入
type wsConn struct {
	conn      *websocket.Conn
	sub       *realtime.Subscriber
	writeChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (w *wsConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case w.writeChan <- data:
		return nil
	case <-w.closeChan:
		return errConnClosed
	}
}

func (w *wsConn) close() {
	w.closeOnce.Do(func() {
		close(w.closeChan)
		_ = w.conn.Close()
	})
}

// writeLoop 合并订阅事件与直接回复，并定时发送 ping
func (w *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		w.close()
	}()

	write := func(mt int, data []byte) bool {
		_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := w.conn.WriteMessage(mt, data); err != nil {
			w.logger.Debug("WebSocket write failed", "error", err)
			return false
		}
		return true
	}
	writeEvent := func(ev *realtime.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		return write(websocket.TextMessage, data)
	}

	for {
		select {
		case ev := <-w.sub.Events():
			if !writeEvent(ev) {
				return
			}
		case data := <-w.writeChan:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		case <-w.sub.Done():
			for {
				select {
				case ev := <-w.sub.Events():
					if !writeEvent(ev) {
						return
					}
				default:
					_ = w.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
						time.Now().Add(wsWriteWait))
					return
				}
			}
		case <-w.closeChan:
			return
		}
	}
}

// WebSocket 双向连接：推送房间事件，并接受房间操作
// GET /api/v1/rooms/:roomId/ws?player=
func (h *RoomHandler) WebSocket(c *gin.Context) {
	roomID := c.Param("roomId")
	player := playerOf(c, ledger.NormalizeAddress(c.Query("player")))

	// 先确认房间存在，再升级连接
	if _, err := h.coord.Get(roomID); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "roomId", roomID, "error", err)
		return
	}

	sub, err := h.hub.Subscribe(roomID, player)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, apperrors.GetMessage(err)),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	w := &wsConn{
		conn:      conn,
		sub:       sub,
		writeChan: make(chan []byte, wsSendBuffer),
		closeChan: make(chan struct{}),
		logger:    h.logger.With("roomId", roomID, "subscriberId", sub.ID()),
	}
	defer func() {
		h.hub.Unsubscribe(sub)
		w.close()
	}()
	go w.writeLoop()

	h.logger.Info("WebSocket connected", "roomId", roomID, "player", player, "subscriberId", sub.ID())
	h.readLoop(c, w, roomID, player)
	h.logger.Info("WebSocket disconnected", "roomId", roomID, "player", player, "subscriberId", sub.ID())
}

func (h *RoomHandler) readLoop(c *gin.Context, w *wsConn, roomID, player string) {
	conn := w.conn
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		w.sub.Touch()
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		w.sub.Touch()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var in inMessage
		if err := json.Unmarshal(data, &in); err != nil {
			h.reply(w, "", "error", nil, apperrors.ErrInvalidParams.WithReason("json"))
			continue
		}

		switch in.Type {
		case msgPing:
			h.reply(w, in.RequestID, "pong", nil, nil)
		case msgAction:
			if player == "" {
				h.reply(w, in.RequestID, "result", nil, apperrors.ErrInvalidParams.WithReason("player"))
				continue
			}
			res, err := h.coord.Handle(c.Request.Context(), session.ActionRequest{
				RoomID:  roomID,
				Action:  in.Action,
				Player:  player,
				Payload: in.Payload,
			})
			h.reply(w, in.RequestID, "result", res, err)
		default:
			h.reply(w, in.RequestID, "error", nil, apperrors.ErrInvalidParams.WithReason("type"))
		}
	}
}

func (h *RoomHandler) reply(w *wsConn, requestID, typ string, res *session.ActionResult, err error) {
	out := outMessage{Type: typ, RequestID: requestID}
	switch {
	case err != nil:
		appErr := apperrors.As(err)
		out.Response = response.Response{Code: appErr.Code, Message: appErr.Message, Reason: appErr.Reason}
	case res != nil && res.SettlementErr != nil:
		out.Response = response.Response{
			Success: true,
			Code:    res.SettlementErr.Code,
			Message: res.SettlementErr.Message,
			Reason:  res.SettlementErr.Reason,
			Data:    res,
		}
	default:
		out.Response = response.Response{Success: true, Code: apperrors.CodeSuccess, Message: "success"}
		if res != nil {
			out.Data = res
		}
	}
	if err := w.send(out); err != nil {
		w.logger.Debug("Dropped WebSocket reply", "error", err)
	}
}
