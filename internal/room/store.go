// Package room 是房间的唯一数据源。
// 每个房间的修改串行执行：持锁读取快照，在副本上校验与修改，成功后整体替换快照。
// 读取不加锁，直接返回最近一次提交的不可变快照。
package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.arena/internal/model"
)

// Listener 接收已提交的变更，在房间锁内按提交顺序调用，实现方不得阻塞或回调 Store
type Listener interface {
	RoomChanged(room *model.Room)
	RoomDeleted(id string)
}

// EvictFunc 回收房间前调用，返回错误时保留房间。调用时持有房间锁
type EvictFunc func(ctx context.Context, room *model.Room) error

// Options Store 配置
type Options struct {
	LockTimeout time.Duration // 等待房间锁的上限，超时返回 ErrRoomBusy
	Retention   time.Duration // 未进行中的房间闲置多久后回收
	GCInterval  time.Duration // 回收扫描间隔，0 表示不启动
}

type entry struct {
	sem     chan struct{}
	snap    atomic.Pointer[model.Room]
	deleted bool // 持锁读写
}

func (e *entry) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrRoomBusy
	}
}

func (e *entry) unlock() { <-e.sem }

// Store 房间存储
type Store struct {
	rooms sync.Map // roomId -> *entry

	opts      Options
	listeners []Listener
	onEvict   EvictFunc
	now       func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewStore 创建房间存储，GCInterval > 0 时启动回收循环
func NewStore(opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	s := &Store{
		opts:     opts,
		now:      time.Now,
		stopChan: make(chan struct{}),
		logger:   slog.Default().With("component", "RoomStore"),
	}
	if opts.GCInterval > 0 {
		s.wg.Add(1)
		go s.gcLoop()
	}
	return s
}

// AddListener 注册变更监听，须在开始处理请求前调用
func (s *Store) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// SetEvictHandler 设置回收钩子，须在开始处理请求前调用
func (s *Store) SetEvictHandler(fn EvictFunc) {
	s.onEvict = fn
}

// Create 插入新房间，版本号从 1 开始
func (s *Store) Create(ctx context.Context, r *model.Room) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := r.Clone()
	now := s.now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	snap.Version = 1

	e := &entry{sem: make(chan struct{}, 1)}
	e.snap.Store(snap)
	e.sem <- struct{}{}
	defer e.unlock()

	if _, loaded := s.rooms.LoadOrStore(snap.ID, e); loaded {
		return nil, ErrRoomExists
	}
	s.notifyChanged(snap)
	return snap, nil
}

// Restore 载入持久化的快照，跳过不满足不变量或已存在的房间
func (s *Store) Restore(rooms []*model.Room) int {
	n := 0
	for _, r := range rooms {
		if err := r.Validate(); err != nil {
			s.logger.Warn("Skipping invalid room snapshot", "roomId", r.ID, "error", err)
			continue
		}
		e := &entry{sem: make(chan struct{}, 1)}
		e.snap.Store(r.Clone())
		if _, loaded := s.rooms.LoadOrStore(r.ID, e); loaded {
			continue
		}
		n++
	}
	s.logger.Info("Restored rooms", "count", n)
	return n
}

// Get 返回最近提交的快照，调用方只读
func (s *Store) Get(id string) (*model.Room, error) {
	val, ok := s.rooms.Load(id)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return val.(*entry).snap.Load(), nil
}

// List 返回满足条件的房间快照，按创建时间倒序
func (s *Store) List(filter func(r *model.Room) bool) []*model.Room {
	out := []*model.Room{}
	s.rooms.Range(func(_, value any) bool {
		r := value.(*entry).snap.Load()
		if filter == nil || filter(r) {
			out = append(out, r)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Count 房间数
func (s *Store) Count() int {
	n := 0
	s.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CommitFunc 在房间锁内、新快照生效后调用，调用顺序即提交顺序。不得阻塞或回调 Store
type CommitFunc func(r *model.Room)

// Mutate 持房间锁执行 fn。fn 修改的是副本，返回 nil 时副本成为新快照
// （版本号加一），返回错误时快照保持不变。
func (s *Store) Mutate(ctx context.Context, id string, fn func(r *model.Room) error) (*model.Room, error) {
	return s.MutateWith(ctx, id, fn, nil)
}

// MutateWith 同 Mutate，提交成功后在释放锁之前调用 onCommit
func (s *Store) MutateWith(ctx context.Context, id string, fn func(r *model.Room) error, onCommit CommitFunc) (*model.Room, error) {
	e, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.unlock()

	prev := e.snap.Load()
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = prev.ID
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now()
	e.snap.Store(next)
	s.notifyChanged(next)
	if onCommit != nil {
		onCommit(next)
	}
	return next, nil
}

// DeleteIf 持房间锁执行 fn，fn 返回 nil 时删除房间并返回删除前的快照
func (s *Store) DeleteIf(ctx context.Context, id string, fn func(r *model.Room) error) (*model.Room, error) {
	return s.DeleteIfWith(ctx, id, fn, nil)
}

// DeleteIfWith 同 DeleteIf，删除后在释放锁之前以删除前的快照调用 onCommit
func (s *Store) DeleteIfWith(ctx context.Context, id string, fn func(r *model.Room) error, onCommit CommitFunc) (*model.Room, error) {
	e, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.unlock()

	snap := e.snap.Load()
	if fn != nil {
		if err := fn(snap.Clone()); err != nil {
			return nil, err
		}
	}
	s.remove(id, e)
	if onCommit != nil {
		onCommit(snap)
	}
	return snap, nil
}

// Delete 无条件删除房间
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.DeleteIf(ctx, id, nil)
	return err
}

func (s *Store) acquire(ctx context.Context, id string) (*entry, error) {
	val, ok := s.rooms.Load(id)
	if !ok {
		return nil, ErrRoomNotFound
	}
	e := val.(*entry)

	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	if e.deleted {
		e.unlock()
		return nil, ErrRoomNotFound
	}
	return e, nil
}

func (s *Store) remove(id string, e *entry) {
	e.deleted = true
	s.rooms.CompareAndDelete(id, e)
	for _, l := range s.listeners {
		l.RoomDeleted(id)
	}
}

func (s *Store) notifyChanged(r *model.Room) {
	for _, l := range s.listeners {
		l.RoomChanged(r)
	}
}

// gcLoop 回收循环
func (s *Store) gcLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CollectGarbage(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// Collectable 房间是否可以回收：未在对局中、闲置超过保留期、奖金已到账
func (s *Store) Collectable(r *model.Room, now time.Time) bool {
	if r.Status == model.StatusPlaying || r.SettlementOutstanding() {
		return false
	}
	return now.Sub(r.UpdatedAt) > s.opts.Retention
}

// CollectGarbage 回收过期房间，返回回收数量
func (s *Store) CollectGarbage(ctx context.Context) int {
	now := s.now()
	candidates := s.List(func(r *model.Room) bool { return s.Collectable(r, now) })

	n := 0
	for _, c := range candidates {
		_, err := s.DeleteIf(ctx, c.ID, func(r *model.Room) error {
			// 持锁后重新判断，期间可能已有新操作
			if !s.Collectable(r, now) {
				return errSkip
			}
			if s.onEvict != nil {
				return s.onEvict(ctx, r)
			}
			return nil
		})
		switch {
		case err == nil:
			n++
			s.logger.Info("Evicted stale room", "roomId", c.ID, "status", c.Status, "updatedAt", c.UpdatedAt)
		case errors.Is(err, errSkip), errors.Is(err, ErrRoomNotFound):
		default:
			s.logger.Warn("Failed to evict room", "roomId", c.ID, "error", err)
		}
	}
	return n
}

// Shutdown 停止回收循环
func (s *Store) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("RoomStore shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
