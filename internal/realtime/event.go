package realtime

import (
	"encoding/json"
	"time"

	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/model"
)

// EventType 事件类型
type EventType string

const (
	EventState     EventType = "state"     // 完整快照，订阅与重连时发送
	EventUpdate    EventType = "update"    // 一次提交后的新状态
	EventPresence  EventType = "presence"  // 在线玩家
	EventHeartbeat EventType = "heartbeat" // 保活
)

// Event 推送事件。Seq 取房间版本号，同一房间内单调不减
type Event struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"roomId"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"` // 发布节点，跨节点转发时用于去重
}

// ordered state/update 事件参与序号过滤
func (e *Event) ordered() bool {
	return e.Type == EventState || e.Type == EventUpdate
}

// StatePayload 完整快照
type StatePayload struct {
	Room *model.Room `json:"room"`
}

// UpdatePayload 状态变更
type UpdatePayload struct {
	Action      string          `json:"action"`
	Player      string          `json:"player,omitempty"`
	Room        *model.Room     `json:"room"`
	EvictedMove *tictactoe.Move `json:"evictedMove,omitempty"`
	Captured    int             `json:"captured,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
}

// PresencePayload 在线玩家
type PresencePayload struct {
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

// HeartbeatPayload 保活
type HeartbeatPayload struct {
	Time time.Time `json:"time"`
}

func newEvent(t EventType, roomID string, seq int64, payload any) *Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// 载荷均为内部类型，编码失败说明程序错误
		panic(err)
	}
	return &Event{Type: t, RoomID: roomID, Seq: seq, Payload: data}
}

// NewStateEvent 完整快照事件
func NewStateEvent(r *model.Room) *Event {
	return newEvent(EventState, r.ID, r.Version, StatePayload{Room: r})
}

// NewUpdateEvent 状态变更事件
func NewUpdateEvent(p UpdatePayload) *Event {
	return newEvent(EventUpdate, p.Room.ID, p.Room.Version, p)
}

// NewPresenceEvent 在线玩家事件
func NewPresenceEvent(roomID string, players []string) *Event {
	return newEvent(EventPresence, roomID, 0, PresencePayload{Count: len(players), Players: players})
}

// NewHeartbeatEvent 保活事件
func NewHeartbeatEvent(roomID string, now time.Time) *Event {
	return newEvent(EventHeartbeat, roomID, 0, HeartbeatPayload{Time: now})
}
