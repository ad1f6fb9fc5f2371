// Package persist 把房间快照写入持久化后端。
// 写入时机与房间锁解耦：Flusher 合并同一房间的多次提交，按间隔或批量阈值批量写入；
// 间隔为 0 时每次提交只唤醒后台写入，房间锁内从不做 I/O。
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sudooom.arena/internal/model"
)

// ErrNotFound 后端中没有该房间
var ErrNotFound = errors.New("room snapshot not found")

// Backend 快照存储后端
type Backend interface {
	Name() string
	Save(ctx context.Context, rooms []*model.Room) error
	Delete(ctx context.Context, ids []string) error
	Get(ctx context.Context, id string) (*model.Room, error)
	LoadAll(ctx context.Context) ([]*model.Room, error)
}

// FlusherConfig 写入策略
type FlusherConfig struct {
	FlushInterval time.Duration // 0 表示每次提交后立即写入
	BatchSize     int           // 积累到该数量立即写入
	WriteTimeout  time.Duration
}

// Flusher 实现 room.Listener
type Flusher struct {
	backend Backend
	config  FlusherConfig

	mu      sync.Mutex
	dirty   map[string]*model.Room
	deleted map[string]struct{}

	kick     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// Backend 写入的后端
func (f *Flusher) Backend() Backend { return f.backend }

// NewFlusher 创建写入器
func NewFlusher(backend Backend, config FlusherConfig) *Flusher {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	return &Flusher{
		backend:  backend,
		config:   config,
		dirty:    make(map[string]*model.Room),
		deleted:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		logger:   slog.Default().With("component", "Flusher", "backend", backend.Name()),
	}
}

// Start 启动后台写入
func (f *Flusher) Start() {
	interval := f.config.FlushInterval
	if interval <= 0 {
		// 立即写入由 kick 触发，定时器只负责重试失败的写入
		interval = time.Second
	}
	f.wg.Add(1)
	go f.worker(interval)
	f.logger.Info("Flusher started",
		"flushInterval", f.config.FlushInterval,
		"batchSize", f.config.BatchSize,
	)
}

// Stop 停止并写入剩余变更
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() { close(f.stopChan) })
	f.wg.Wait()
	f.logger.Info("Flusher stopped")
}

// RoomChanged 记录变更，同一房间只保留最新快照
func (f *Flusher) RoomChanged(room *model.Room) {
	f.mu.Lock()
	f.dirty[room.ID] = room
	delete(f.deleted, room.ID)
	full := len(f.dirty) >= f.config.BatchSize
	f.mu.Unlock()

	if full || f.config.FlushInterval <= 0 {
		f.wake()
	}
}

// RoomDeleted 记录删除
func (f *Flusher) RoomDeleted(id string) {
	f.mu.Lock()
	delete(f.dirty, id)
	f.deleted[id] = struct{}{}
	f.mu.Unlock()

	if f.config.FlushInterval <= 0 {
		f.wake()
	}
}

// wake 唤醒后台写入，不阻塞调用方
func (f *Flusher) wake() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Pending 待写入的数量（用于监控）
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty) + len(f.deleted)
}

func (f *Flusher) worker(interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopChan:
			f.Flush(context.Background())
			return
		case <-f.kick:
			f.Flush(context.Background())
		case <-ticker.C:
			f.Flush(context.Background())
		}
	}
}

// Flush 立即写入所有待写变更，失败的条目放回队列
func (f *Flusher) Flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.dirty) == 0 && len(f.deleted) == 0 {
		f.mu.Unlock()
		return
	}
	dirty, deleted := f.dirty, f.deleted
	f.dirty = make(map[string]*model.Room)
	f.deleted = make(map[string]struct{})
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.config.WriteTimeout)
	defer cancel()
	startTime := time.Now()

	var failedSave map[string]*model.Room
	if len(dirty) > 0 {
		rooms := make([]*model.Room, 0, len(dirty))
		for _, r := range dirty {
			rooms = append(rooms, r)
		}
		if err := f.backend.Save(ctx, rooms); err != nil {
			f.logger.Error("Failed to save room snapshots", "count", len(rooms), "error", err)
			failedSave = dirty
		}
	}

	var failedDelete map[string]struct{}
	if len(deleted) > 0 {
		ids := make([]string, 0, len(deleted))
		for id := range deleted {
			ids = append(ids, id)
		}
		if err := f.backend.Delete(ctx, ids); err != nil {
			f.logger.Error("Failed to delete room snapshots", "count", len(ids), "error", err)
			failedDelete = deleted
		}
	}

	if failedSave != nil || failedDelete != nil {
		f.requeue(failedSave, failedDelete)
		return
	}
	f.logger.Debug("Flush completed",
		"saved", len(dirty),
		"deleted", len(deleted),
		"elapsed", time.Since(startTime),
	)
}

// requeue 放回失败条目，期间产生的更新版本优先
func (f *Flusher) requeue(rooms map[string]*model.Room, deleted map[string]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range rooms {
		if _, gone := f.deleted[id]; gone {
			continue
		}
		if cur, ok := f.dirty[id]; ok && cur.Version >= r.Version {
			continue
		}
		f.dirty[id] = r
	}
	for id := range deleted {
		if _, revived := f.dirty[id]; revived {
			continue
		}
		f.deleted[id] = struct{}{}
	}
}
