package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/internal/model"
)

type memBackend struct {
	mu      sync.Mutex
	rooms   map[string]*model.Room
	saves   int
	failing bool
	gate    chan struct{} // 非 nil 时 Save 等待放行
}

func newMemBackend() *memBackend {
	return &memBackend{rooms: make(map[string]*model.Room)}
}

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) Save(ctx context.Context, rooms []*model.Room) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("backend down")
	}
	m.saves++
	for _, r := range rooms {
		m.rooms[r.ID] = r
	}
	return nil
}

func (m *memBackend) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("backend down")
	}
	for _, id := range ids {
		delete(m.rooms, id)
	}
	return nil
}

func (m *memBackend) Get(ctx context.Context, id string) (*model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *memBackend) LoadAll(ctx context.Context) ([]*model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (m *memBackend) get(id string) *model.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

func (m *memBackend) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = v
}

func snapshot(id string, version int64) *model.Room {
	return &model.Room{
		ID: id, Creator: "0xa", GameType: model.GameGo, BetAmount: 5,
		Status: model.StatusWaiting, Version: version,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFlusher_CoalescesUntilFlush(t *testing.T) {
	mem := newMemBackend()
	f := NewFlusher(mem, FlusherConfig{FlushInterval: time.Hour})

	f.RoomChanged(snapshot("r1", 1))
	f.RoomChanged(snapshot("r1", 2))
	f.RoomChanged(snapshot("r2", 1))
	assert.Equal(t, 2, f.Pending())
	assert.Nil(t, mem.get("r1"))

	f.Flush(context.Background())
	assert.Equal(t, 0, f.Pending())
	assert.Equal(t, int64(2), mem.get("r1").Version)
	assert.Equal(t, 1, mem.saves)
}

func TestFlusher_ImmediateModeWritesInBackground(t *testing.T) {
	mem := newMemBackend()
	f := NewFlusher(mem, FlusherConfig{})
	f.Start()
	defer f.Stop()

	f.RoomChanged(snapshot("r1", 1))
	assert.Eventually(t, func() bool { return mem.get("r1") != nil }, time.Second, 5*time.Millisecond)

	f.RoomDeleted("r1")
	assert.Eventually(t, func() bool { return mem.get("r1") == nil && f.Pending() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestFlusher_SlowBackendDoesNotBlockCommit(t *testing.T) {
	mem := newMemBackend()
	mem.gate = make(chan struct{})
	f := NewFlusher(mem, FlusherConfig{})
	f.Start()

	returned := make(chan struct{})
	go func() {
		f.RoomChanged(snapshot("r1", 1))
		f.RoomChanged(snapshot("r1", 2))
		f.RoomDeleted("r2")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("RoomChanged blocked on a slow backend")
	}

	close(mem.gate)
	f.Stop()
	require.NotNil(t, mem.get("r1"))
	assert.Equal(t, int64(2), mem.get("r1").Version)
}

func TestFileBackend_Get(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []*model.Room{snapshot("r1", 7)}))
	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlusher_FailedWritesRequeued(t *testing.T) {
	mem := newMemBackend()
	mem.setFailing(true)
	f := NewFlusher(mem, FlusherConfig{FlushInterval: time.Hour})

	f.RoomChanged(snapshot("r1", 1))
	f.Flush(context.Background())
	assert.Equal(t, 1, f.Pending())

	// 失败期间产生的新版本不被旧版本覆盖
	f.RoomChanged(snapshot("r1", 3))
	f.requeue(map[string]*model.Room{"r1": snapshot("r1", 2)}, nil)

	mem.setFailing(false)
	f.Flush(context.Background())
	assert.Equal(t, int64(3), mem.get("r1").Version)
	assert.Equal(t, 0, f.Pending())
}

func TestFlusher_BatchSizeKicksWorker(t *testing.T) {
	mem := newMemBackend()
	f := NewFlusher(mem, FlusherConfig{FlushInterval: time.Hour, BatchSize: 2})
	f.Start()
	defer f.Stop()

	f.RoomChanged(snapshot("r1", 1))
	f.RoomChanged(snapshot("r2", 1))

	assert.Eventually(t, func() bool {
		return mem.get("r1") != nil && mem.get("r2") != nil
	}, time.Second, 5*time.Millisecond)
}

func TestFlusher_StopFlushesRemaining(t *testing.T) {
	mem := newMemBackend()
	f := NewFlusher(mem, FlusherConfig{FlushInterval: time.Hour})
	f.Start()

	f.RoomChanged(snapshot("r1", 4))
	f.Stop()

	require.NotNil(t, mem.get("r1"))
	assert.Equal(t, int64(4), mem.get("r1").Version)
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []*model.Room{snapshot("r1", 1), snapshot("r2", 1)}))
	require.NoError(t, b.Save(ctx, []*model.Room{snapshot("r1", 2)}))
	require.NoError(t, b.Delete(ctx, []string{"r2", "never-existed"}))

	rooms, err := b.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Equal(t, int64(2), rooms[0].Version)
}
