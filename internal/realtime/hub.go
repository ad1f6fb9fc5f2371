// Package realtime 按房间把已提交的状态推送给订阅者。
// 每个订阅者有独立的有界缓冲，慢订阅者只会丢自己的事件；
// 订阅时先收到完整快照，之后的 update 事件携带完整房间，丢失后下一条即可追平。
package realtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.arena/internal/model"
)

// SnapshotFunc 读取房间当前快照
type SnapshotFunc func(roomID string) (*model.Room, error)

// Bridge 跨节点转发
type Bridge interface {
	Publish(ev *Event) error
}

// HubConfig Hub 配置
type HubConfig struct {
	BufferSize        int           // 每个订阅者的缓冲
	HeartbeatInterval time.Duration // 保活与在线刷新间隔
	HeartbeatTimeout  time.Duration // 超过该时长未活跃的订阅被关闭
	NodeID            string
}

// Hub 房间事件分发中心
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Subscriber // roomId -> subscriberId -> sub

	config   HubConfig
	snapshot SnapshotFunc
	bridge   Bridge

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewHub 创建 Hub
func NewHub(snapshot SnapshotFunc, config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = 3 * config.HeartbeatInterval
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Subscriber),
		config:   config,
		snapshot: snapshot,
		stopChan: make(chan struct{}),
		logger:   slog.Default().With("component", "Hub"),
	}
}

// SetBridge 设置跨节点转发，须在启动前调用
func (h *Hub) SetBridge(b Bridge) {
	h.bridge = b
}

// NodeID 本节点标识
func (h *Hub) NodeID() string { return h.config.NodeID }

// Subscribe 订阅房间，首个事件为完整快照
func (h *Hub) Subscribe(roomID, player string) (*Subscriber, error) {
	room, err := h.snapshot(roomID)
	if err != nil {
		return nil, err
	}
	sub := newSubscriber(roomID, player, h.config.BufferSize)
	sub.deliver(NewStateEvent(room))

	h.mu.Lock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.rooms[roomID] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	// 订阅期间可能有新提交，补发一次最新快照
	if latest, err := h.snapshot(roomID); err == nil && latest.Version > room.Version {
		sub.deliver(NewStateEvent(latest))
	}

	h.logger.Debug("Subscribed", "roomId", roomID, "subscriberId", sub.id, "player", player)
	h.broadcastPresence(roomID)
	return sub, nil
}

// Unsubscribe 取消订阅
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	subs, ok := h.rooms[sub.roomID]
	if ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.rooms, sub.roomID)
		}
	}
	h.mu.Unlock()

	sub.close()
	if ok {
		h.logger.Debug("Unsubscribed", "roomId", sub.roomID, "subscriberId", sub.id, "dropped", sub.Dropped())
		h.broadcastPresence(sub.roomID)
	}
}

// Publish 分发到本节点订阅者并转发到其他节点
func (h *Hub) Publish(ev *Event) {
	ev.Origin = h.config.NodeID
	h.Deliver(ev)
	if h.bridge != nil {
		if err := h.bridge.Publish(ev); err != nil {
			h.logger.Warn("Failed to bridge event", "roomId", ev.RoomID, "seq", ev.Seq, "error", err)
		}
	}
}

// PublishRoom 以 update 事件发布房间最新状态
func (h *Hub) PublishRoom(r *model.Room, action string) {
	h.Publish(NewUpdateEvent(UpdatePayload{Action: action, Room: r}))
}

// Deliver 只分发到本节点订阅者
func (h *Hub) Deliver(ev *Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[ev.RoomID]))
	for _, s := range h.rooms[ev.RoomID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if s.deliver(ev) {
			h.logger.Warn("Subscriber buffer full, dropping event",
				"roomId", ev.RoomID,
				"subscriberId", s.id,
				"type", ev.Type,
				"seq", ev.Seq,
				"dropped", s.Dropped())
		}
	}
}

// Players 房间当前在线玩家（去重排序）
func (h *Hub) Players(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	players := []string{}
	for _, s := range h.rooms[roomID] {
		if s.player == "" {
			continue
		}
		if _, ok := seen[s.player]; ok {
			continue
		}
		seen[s.player] = struct{}{}
		players = append(players, s.player)
	}
	sort.Strings(players)
	return players
}

// SubscriberCount 房间订阅数
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseRoom 关闭房间的全部订阅（房间被删除时）
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	subs := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

func (h *Hub) broadcastPresence(roomID string) {
	h.Deliver(NewPresenceEvent(roomID, h.Players(roomID)))
}

// Start 启动心跳循环
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.heartbeatLoop()
	h.logger.Info("Hub started",
		"bufferSize", h.config.BufferSize,
		"heartbeatInterval", h.config.HeartbeatInterval,
		"heartbeatTimeout", h.config.HeartbeatTimeout)
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case now := <-ticker.C:
			h.Heartbeat(now)
		}
	}
}

// Heartbeat 关闭超时订阅，并向每个房间发送保活与在线列表
func (h *Hub) Heartbeat(now time.Time) {
	h.mu.RLock()
	var expired []*Subscriber
	roomIDs := make([]string, 0, len(h.rooms))
	for roomID, subs := range h.rooms {
		roomIDs = append(roomIDs, roomID)
		for _, s := range subs {
			if now.Sub(s.LastSeen()) > h.config.HeartbeatTimeout {
				expired = append(expired, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range expired {
		h.logger.Info("Subscriber heartbeat timeout", "roomId", s.roomID, "subscriberId", s.id, "lastSeen", s.LastSeen())
		h.Unsubscribe(s)
	}
	for _, roomID := range roomIDs {
		h.Deliver(NewHeartbeatEvent(roomID, now))
		h.broadcastPresence(roomID)
	}
}

// Stop 停止心跳并关闭所有订阅
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()

	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[string]*Subscriber)
	h.mu.Unlock()

	for _, subs := range rooms {
		for _, s := range subs {
			s.close()
		}
	}
	h.logger.Info("Hub stopped")
}
