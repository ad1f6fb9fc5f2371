package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix 房间事件主题前缀，完整主题为 arena.room.<roomId>
const SubjectPrefix = "arena.room."

// BuildRoomSubject 房间事件主题
func BuildRoomSubject(roomID string) string {
	return SubjectPrefix + roomID
}

// NATSConfig NATS 连接配置
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	WorkerCount   int
	BufferSize    int
}

// ConnectNATS 建立 NATS 连接
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name("arena"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.Timeout(10*time.Second),
	)
}

// NATSBridge 把本节点事件发布到 NATS，并把其他节点的事件交给本地 Hub。
// 同一房间的消息固定由同一个 worker 处理，保持到达顺序
type NATSBridge struct {
	nc     *nats.Conn
	hub    *Hub
	config NATSConfig

	subscription *nats.Subscription
	queues       []chan *nats.Msg
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	logger *slog.Logger
}

// NewNATSBridge 创建转发器并注册到 Hub
func NewNATSBridge(nc *nats.Conn, hub *Hub, config NATSConfig) *NATSBridge {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	b := &NATSBridge{
		nc:     nc,
		hub:    hub,
		config: config,
		logger: slog.Default().With("component", "NATSBridge"),
	}
	hub.SetBridge(b)
	return b
}

// Publish 实现 Bridge
func (b *NATSBridge) Publish(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.nc.Publish(BuildRoomSubject(ev.RoomID), data)
}

// Start 订阅所有房间主题
func (b *NATSBridge) Start(ctx context.Context) error {
	perWorker := b.config.BufferSize / b.config.WorkerCount
	if perWorker < 1 {
		perWorker = 1
	}
	b.queues = make([]chan *nats.Msg, b.config.WorkerCount)
	workerCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	for i := range b.queues {
		b.queues[i] = make(chan *nats.Msg, perWorker)
		b.wg.Add(1)
		go b.worker(workerCtx, b.queues[i])
	}

	sub, err := b.nc.Subscribe(SubjectPrefix+"*", func(msg *nats.Msg) {
		select {
		case b.queues[workerFor(msg.Subject, len(b.queues))] <- msg:
		default:
			b.logger.Warn("Bridge buffer full, dropping event", "subject", msg.Subject)
		}
	})
	if err != nil {
		cancel()
		return err
	}
	b.subscription = sub
	b.logger.Info("NATS bridge started",
		"subject", SubjectPrefix+"*",
		"nodeId", b.hub.NodeID(),
		"workerCount", b.config.WorkerCount)
	return nil
}

// workerFor 按主题选择 worker，同一房间总是落到同一个队列
func workerFor(subject string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(subject) % uint64(n))
}

func (b *NATSBridge) worker(ctx context.Context, queue <-chan *nats.Msg) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			b.handle(msg)
		}
	}
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Error("Failed to unmarshal bridged event", "subject", msg.Subject, "error", err)
		return
	}
	if ev.Origin == b.hub.NodeID() {
		return
	}
	if ev.RoomID == "" {
		ev.RoomID = strings.TrimPrefix(msg.Subject, SubjectPrefix)
	}
	b.hub.Deliver(&ev)
}

// Stop 取消订阅并等待 worker 退出
func (b *NATSBridge) Stop() {
	if b.subscription != nil {
		if err := b.subscription.Unsubscribe(); err != nil {
			b.logger.Error("Failed to unsubscribe", "error", err)
		}
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("NATS bridge stopped")
}
