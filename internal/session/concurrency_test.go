package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/realtime"
	"sudooom.arena/internal/room/persist"
	apperrors "sudooom.arena/pkg/errors"
)

func updateOf(ev *realtime.Event) (realtime.UpdatePayload, bool) {
	var p realtime.UpdatePayload
	if ev.Type != realtime.EventUpdate {
		return p, false
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, false
	}
	return p, true
}

// gatedHub 第一次发布落子事件时停住，直到 release 关闭
type gatedHub struct {
	*realtime.Hub
	blocked chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedHub) Publish(ev *realtime.Event) {
	if p, ok := updateOf(ev); ok && p.Action == string(ActionMove) {
		g.once.Do(func() {
			close(g.blocked)
			<-g.release
		})
	}
	g.Hub.Publish(ev)
}

func TestSlowMovePublishKeepsCommitOrder(t *testing.T) {
	var hub *gatedHub
	f := newFixtureWith(t, ledger.NewMemory(1000), func(d *Deps) {
		hub = &gatedHub{
			Hub:     realtime.NewHub(d.Store.Get, realtime.HubConfig{}),
			blocked: make(chan struct{}),
			release: make(chan struct{}),
		}
		d.Publisher = hub
	})
	r := startedRoom(t, f, model.GameTicTacToe, 100)

	watcher, err := hub.Subscribe(r.ID, carol)
	require.NoError(t, err)

	moveDone := make(chan error, 1)
	go func() {
		_, err := move(f, r.ID, alice, 0, 0)
		moveDone <- err
	}()
	select {
	case <-hub.blocked:
	case <-time.After(time.Second):
		t.Fatal("move was never published")
	}

	surrenderDone := make(chan error, 1)
	go func() {
		_, err := act(f, r.ID, ActionSurrender, bob, nil)
		surrenderDone <- err
	}()

	// 落子事件发出前认输拿不到房间锁
	select {
	case <-surrenderDone:
		t.Fatal("surrender committed before the move was published")
	case <-time.After(100 * time.Millisecond):
	}
	close(hub.release)
	require.NoError(t, <-moveDone)
	require.NoError(t, <-surrenderDone)

	var actions []string
	var lastSeq int64
	deadline := time.After(time.Second)
	for len(actions) < 2 {
		select {
		case ev := <-watcher.Events():
			p, ok := updateOf(ev)
			if !ok {
				continue
			}
			require.GreaterOrEqual(t, ev.Seq, lastSeq)
			lastSeq = ev.Seq
			if p.Action == string(ActionMove) || p.Action == string(ActionSurrender) {
				actions = append(actions, p.Action)
			}
		case <-deadline:
			t.Fatalf("missing updates, got %v", actions)
		}
	}
	assert.Equal(t, []string{string(ActionMove), string(ActionSurrender)}, actions)
	assert.Zero(t, watcher.Dropped())
}

// cancelOnFinish 看到终局推送时取消请求上下文
type cancelOnFinish struct {
	*fakePublisher
	cancel context.CancelFunc
}

func (p *cancelOnFinish) Publish(ev *realtime.Event) {
	p.fakePublisher.Publish(ev)
	if up, ok := updateOf(ev); ok && up.Room != nil && up.Room.Status == model.StatusFinished {
		p.cancel()
	}
}

func TestSettlementSurvivesCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWith(t, ledger.NewMemory(1000), func(d *Deps) {
		d.Publisher = &cancelOnFinish{fakePublisher: &fakePublisher{}, cancel: cancel}
	})
	r := startedRoom(t, f, model.GameTicTacToe, 100)

	for _, s := range []struct {
		player   string
		row, col int
	}{{alice, 0, 0}, {bob, 1, 0}, {alice, 0, 1}, {bob, 1, 1}} {
		_, err := move(f, r.ID, s.player, s.row, s.col)
		require.NoError(t, err)
	}

	raw, _ := json.Marshal(map[string]int{"row": 0, "col": 2})
	res, err := f.c.Handle(ctx, ActionRequest{RoomID: r.ID, Action: ActionMove, Player: alice, Payload: raw})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, alice, res.Room.Winner)
	assert.Nil(t, res.SettlementErr)
	assert.False(t, res.SettlementPending)
	require.NotNil(t, res.Room.Settlement)
	assert.Equal(t, model.SettlementSettled, res.Room.Settlement.Status)
	assert.Equal(t, int64(1100), balance(t, f.ledger, alice))
}

func TestCancelRacingJoin(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(1000))

	for i := 0; i < 30; i++ {
		f.ledger.(*ledger.Memory).Set(alice, 1000)
		f.ledger.(*ledger.Memory).Set(bob, 1000)
		r, err := f.c.Create(context.Background(), CreateRequest{Creator: alice, GameType: model.GameTicTacToe, BetAmount: 100})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var cancelErr, joinErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = act(f, r.ID, ActionCancel, alice, nil)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, joinErr = act(f, r.ID, ActionJoin, bob, nil)
		}()
		close(start)
		wg.Wait()

		if cancelErr == nil {
			require.Error(t, joinErr)
			assert.Equal(t, apperrors.CodeNotFound, appErr(t, joinErr).Code)
			assert.Equal(t, int64(1000), balance(t, f.ledger, alice))
			assert.Equal(t, int64(1000), balance(t, f.ledger, bob))
			_, err := f.store.Get(r.ID)
			assert.Error(t, err)
			continue
		}
		require.NoError(t, joinErr)
		assert.Equal(t, apperrors.CodeInvalidState, appErr(t, cancelErr).Code)
		assert.Equal(t, int64(900), balance(t, f.ledger, alice))
		assert.Equal(t, int64(900), balance(t, f.ledger, bob))
		after, err := f.store.Get(r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPlaying, after.Status)
		assert.Equal(t, bob, after.Opponent)
	}
}

type fakeRemote struct {
	rooms map[string]*model.Room
	err   error
}

func (f *fakeRemote) Get(_ context.Context, id string) (*model.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rooms[id]
	if !ok {
		return nil, persist.ErrNotFound
	}
	return r, nil
}

func TestGetFallsBackToSharedSnapshot(t *testing.T) {
	remote := &fakeRemote{rooms: map[string]*model.Room{
		"elsewhere": {ID: "elsewhere", Creator: carol, Status: model.StatusWaiting, Version: 7},
	}}
	f := newFixtureWith(t, ledger.NewMemory(1000), func(d *Deps) { d.Remote = remote })

	local, err := f.c.Create(context.Background(), CreateRequest{Creator: alice, GameType: model.GameTicTacToe, BetAmount: 10})
	require.NoError(t, err)
	got, err := f.c.Get(local.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got.Creator)

	got, err = f.c.Get("elsewhere")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)

	_, err = f.c.Get("nowhere")
	assert.Equal(t, apperrors.CodeNotFound, appErr(t, err).Code)

	remote.err = errors.New("redis: connection refused")
	_, err = f.c.Get("elsewhere")
	assert.Equal(t, apperrors.CodeServerError, appErr(t, err).Code)

	// 没有共享快照时仍只查本节点
	plain := newFixture(t, ledger.NewMemory(1000))
	_, err = plain.c.Get("elsewhere")
	assert.Equal(t, apperrors.CodeNotFound, appErr(t, err).Code)
}
