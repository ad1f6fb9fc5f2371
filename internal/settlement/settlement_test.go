package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/room"
	"sudooom.arena/internal/task"
)

// flakyLedger 前 failures 次入账失败
type flakyLedger struct {
	*ledger.Memory
	mu       sync.Mutex
	failures int
	credits  int
}

func (f *flakyLedger) Credit(ctx context.Context, addr string, amount int64, reason string) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("ledger unavailable")
	}
	f.credits++
	f.mu.Unlock()
	return f.Memory.Credit(ctx, addr, amount, reason)
}

func (f *flakyLedger) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits
}

type scheduled struct {
	id    string
	delay time.Duration
	fn    task.TaskFunc
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (f *fakeScheduler) Schedule(id, target string, delay time.Duration, fn task.TaskFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, scheduled{id: id, delay: delay, fn: fn})
	return nil
}

func finishedRoom(t *testing.T, store *room.Store) *model.Room {
	t.Helper()
	r := &model.Room{
		ID: "r1", Creator: "0xa", Opponent: "0xb",
		GameType: model.GameTicTacToe, BetAmount: 50,
		Status: model.StatusPlaying, GameNumber: 1,
	}
	_, err := store.Create(context.Background(), r)
	require.NoError(t, err)

	finished, err := store.Mutate(context.Background(), "r1", func(r *model.Room) error {
		r.Status = model.StatusFinished
		r.Winner = "0xa"
		require.True(t, Open(r, "0xa"))
		return nil
	})
	require.NoError(t, err)
	return finished
}

func TestOpen_OncePerGame(t *testing.T) {
	r := &model.Room{BetAmount: 40, GameNumber: 3}

	assert.True(t, Open(r, "0xa"))
	assert.Equal(t, int64(80), r.Settlement.Amount)
	assert.Equal(t, model.SettlementPending, r.Settlement.Status)

	assert.False(t, Open(r, "0xb"))
	assert.Equal(t, "0xa", r.Settlement.Winner)

	r.GameNumber = 4
	assert.True(t, Open(r, "0xb"))
	assert.Equal(t, 4, r.Settlement.GameNumber)
}

func TestSettle_ExactlyOnceUnderConcurrency(t *testing.T) {
	store := room.NewStore(room.Options{})
	l := &flakyLedger{Memory: ledger.NewMemory(0)}
	s := NewSettler(store, l, nil, Config{})
	finishedRoom(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Settle(context.Background(), "r1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.creditCount())
	b, _ := l.GetBalance(context.Background(), "0xa")
	assert.Equal(t, int64(100), b)

	r, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementSettled, r.Settlement.Status)
	assert.NotNil(t, r.Settlement.SettledAt)
	assert.Equal(t, 1, r.Settlement.Attempts)

	// 已结算后再次调用不会入账
	_, err = s.Settle(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.creditCount())
}

func TestSettle_FailureSchedulesRetry(t *testing.T) {
	store := room.NewStore(room.Options{})
	l := &flakyLedger{Memory: ledger.NewMemory(0), failures: 2}
	sched := &fakeScheduler{}
	s := NewSettler(store, l, sched, Config{BaseBackoff: time.Second, MaxBackoff: time.Minute})
	var notified []model.SettlementStatus
	s.OnChange(func(r *model.Room) { notified = append(notified, r.Settlement.Status) })
	finishedRoom(t, store)

	r, err := s.Settle(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrCreditFailed)
	require.NotNil(t, r)
	assert.Equal(t, model.SettlementPending, r.Settlement.Status)
	assert.Equal(t, 1, r.Settlement.Attempts)
	assert.Equal(t, "ledger unavailable", r.Settlement.LastError)

	require.Len(t, sched.tasks, 1)
	assert.Equal(t, "settle:r1", sched.tasks[0].id)
	assert.Equal(t, time.Second, sched.tasks[0].delay)

	// 第二次仍失败，退避翻倍
	assert.Error(t, sched.tasks[0].fn(context.Background(), "r1"))
	require.Len(t, sched.tasks, 2)
	assert.Equal(t, 2*time.Second, sched.tasks[1].delay)

	require.NoError(t, sched.tasks[1].fn(context.Background(), "r1"))
	final, _ := store.Get("r1")
	assert.Equal(t, model.SettlementSettled, final.Settlement.Status)
	assert.Equal(t, 3, final.Settlement.Attempts)
	assert.Empty(t, final.Settlement.LastError)
	assert.Equal(t, 1, l.creditCount())
	assert.Equal(t, model.SettlementSettled, notified[len(notified)-1])
}

func TestSettle_MissingRoom(t *testing.T) {
	s := NewSettler(room.NewStore(room.Options{}), ledger.NewMemory(0), nil, Config{})
	_, err := s.Settle(context.Background(), "nope")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestBackoff(t *testing.T) {
	s := NewSettler(room.NewStore(room.Options{}), ledger.NewMemory(0), nil,
		Config{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})

	assert.Equal(t, time.Second, s.Backoff(1))
	assert.Equal(t, 2*time.Second, s.Backoff(2))
	assert.Equal(t, 8*time.Second, s.Backoff(4))
	assert.Equal(t, 10*time.Second, s.Backoff(5))
	assert.Equal(t, 10*time.Second, s.Backoff(50))
}

func TestRecoverAndSweep(t *testing.T) {
	store := room.NewStore(room.Options{})
	l := &flakyLedger{Memory: ledger.NewMemory(0)}
	s := NewSettler(store, l, nil, Config{})
	finishedRoom(t, store)

	// 模拟进程在认领后退出
	_, err := store.Mutate(context.Background(), "r1", func(r *model.Room) error {
		r.Settlement.Status = model.SettlementInflight
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Equal(t, 1, s.Recover(context.Background()))
	assert.Equal(t, 1, s.Sweep(context.Background()))

	r, _ := store.Get("r1")
	assert.Equal(t, model.SettlementSettled, r.Settlement.Status)
	assert.Equal(t, 1, l.creditCount())
}
