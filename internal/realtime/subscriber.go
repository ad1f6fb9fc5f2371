package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscriber 一个房间订阅，缓冲满时丢弃新事件而不是阻塞发布方
type Subscriber struct {
	id     string
	roomID string
	player string

	events chan *Event
	done   chan struct{}

	mu      sync.Mutex
	lastSeq int64
	closed  bool

	dropped  atomic.Int64
	lastSeen atomic.Int64 // UnixNano
}

func newSubscriber(roomID, player string, buffer int) *Subscriber {
	s := &Subscriber{
		id:     uuid.NewString(),
		roomID: roomID,
		player: player,
		events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
	s.Touch()
	return s
}

func (s *Subscriber) ID() string     { return s.id }
func (s *Subscriber) RoomID() string { return s.roomID }
func (s *Subscriber) Player() string { return s.player }

// Events 事件通道
func (s *Subscriber) Events() <-chan *Event { return s.events }

// Done 订阅被关闭（取消订阅、心跳超时或服务关闭）
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped 因缓冲满被丢弃的事件数
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Touch 刷新活跃时间
func (s *Subscriber) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen 最近活跃时间
func (s *Subscriber) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// deliver 非阻塞投递，返回是否因缓冲满被丢弃。旧于已投递序号的状态事件直接跳过
func (s *Subscriber) deliver(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (ev.ordered() && ev.Seq < s.lastSeq) {
		return false
	}
	select {
	case s.events <- ev:
		if ev.ordered() {
			s.lastSeq = ev.Seq
		}
		return false
	default:
		s.dropped.Add(1)
		return true
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
