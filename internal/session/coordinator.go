// Package session 把玩家操作转换为房间状态迁移。
// 所有校验与修改都在房间锁内的副本上完成，押注扣款也在锁内进行，扣款失败时房间不变；
// 推送在提交后、释放锁之前发出，订阅者看到的顺序即提交顺序；结算在释放锁之后进行。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/game"
	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/realtime"
	"sudooom.arena/internal/room"
	"sudooom.arena/internal/room/persist"
	"sudooom.arena/internal/settlement"
	"sudooom.arena/internal/task"
	apperrors "sudooom.arena/pkg/errors"
	"sudooom.arena/pkg/snowflake"
)

// Publisher 推送
type Publisher interface {
	Publish(ev *realtime.Event)
	CloseRoom(roomID string)
}

// Scheduler 延迟任务
type Scheduler interface {
	Schedule(id, target string, delay time.Duration, fn task.TaskFunc) error
	RemoveTask(taskID string) bool
}

// RoomSource 本节点之外的房间快照，通常是多节点共享的持久化后端
type RoomSource interface {
	Get(ctx context.Context, id string) (*model.Room, error)
}

// Config 会话配置
type Config struct {
	LedgerTimeout    time.Duration // 单次扣款/退款超时
	RemoteTimeout    time.Duration // 读取共享快照超时
	RematchTimeout   time.Duration // 再来一局请求的有效期
	DeclineNoticeTTL time.Duration // 拒绝通知保留时长
	MaxBet           int64         // 0 表示不限
}

// Coordinator 会话协调器
type Coordinator struct {
	store     *room.Store
	engines   *game.Registry
	ledger    ledger.Ledger
	settler   *settlement.Settler
	publisher Publisher
	scheduler Scheduler
	remote    RoomSource
	ids       *snowflake.Node
	config    Config
	now       func() time.Time

	logger *slog.Logger
}

// Deps 协调器依赖
type Deps struct {
	Store     *room.Store
	Engines   *game.Registry
	Ledger    ledger.Ledger
	Settler   *settlement.Settler
	Publisher Publisher
	Scheduler Scheduler
	Remote    RoomSource // 可选
	IDs       *snowflake.Node
}

// NewCoordinator 创建协调器，并注册房间回收钩子与结算推送
func NewCoordinator(deps Deps, config Config) *Coordinator {
	if config.LedgerTimeout <= 0 {
		config.LedgerTimeout = 5 * time.Second
	}
	if config.RematchTimeout <= 0 {
		config.RematchTimeout = 60 * time.Second
	}
	if config.DeclineNoticeTTL <= 0 {
		config.DeclineNoticeTTL = 10 * time.Second
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 3 * time.Second
	}
	if deps.Engines == nil {
		deps.Engines = game.DefaultRegistry()
	}
	c := &Coordinator{
		store:     deps.Store,
		engines:   deps.Engines,
		ledger:    deps.Ledger,
		settler:   deps.Settler,
		publisher: deps.Publisher,
		scheduler: deps.Scheduler,
		remote:    deps.Remote,
		ids:       deps.IDs,
		config:    config,
		now:       time.Now,
		logger:    slog.Default().With("component", "Coordinator"),
	}
	c.store.SetEvictHandler(c.refundOnEvict)
	if c.settler != nil {
		c.settler.OnChange(func(r *model.Room) { c.publish(r, "settlement", "", nil) })
	}
	return c
}

// Get 房间快照。本节点没有该房间时回退到共享快照，房间的操作仍需发往持有它的节点
func (c *Coordinator) Get(roomID string) (*model.Room, error) {
	r, err := c.store.Get(roomID)
	if err == nil {
		return r, nil
	}
	if c.remote == nil || !isNotFound(err) {
		return nil, toAppError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RemoteTimeout)
	defer cancel()
	r, rerr := c.remote.Get(ctx, roomID)
	switch {
	case rerr == nil:
		return r, nil
	case errors.Is(rerr, persist.ErrNotFound):
		return nil, toAppError(err)
	default:
		c.logger.Warn("Failed to read shared room snapshot", "roomId", roomID, "error", rerr)
		return nil, apperrors.ErrServerError.Wrap(rerr)
	}
}

// List 房间列表，status 为空时返回全部
func (c *Coordinator) List(status model.RoomStatus) []*model.Room {
	return c.store.List(func(r *model.Room) bool {
		return status == "" || r.Status == status
	})
}

// Balance 查询账本余额
func (c *Coordinator) Balance(ctx context.Context, addr string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.LedgerTimeout)
	defer cancel()
	b, err := c.ledger.GetBalance(ctx, addr)
	if err != nil {
		return 0, toAppError(ledgerError(err))
	}
	return b, nil
}

// Create 扣除房主押注后创建等待中的房间
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*model.Room, error) {
	creator := ledger.NormalizeAddress(req.Creator)
	if creator == "" {
		return nil, apperrors.ErrInvalidParams.WithReason(reasonPlayer)
	}
	if err := c.checkBet(req.BetAmount); err != nil {
		return nil, err
	}
	if !c.engines.Supports(req.GameType) {
		return nil, apperrors.ErrInvalidParams.WithReason(reasonUnsupportedGame)
	}

	id := c.ids.Generate().String()
	if err := c.debit(ctx, creator, req.BetAmount, fmt.Sprintf("arena room %s stake", id)); err != nil {
		return nil, toAppError(err)
	}

	created, err := c.store.Create(ctx, &model.Room{
		ID:          id,
		Creator:     creator,
		CreatorName: displayName(req.CreatorName, creator),
		GameType:    req.GameType,
		BetAmount:   req.BetAmount,
		Status:      model.StatusWaiting,
		CreatedAt:   c.now(),
	})
	if err != nil {
		c.refund(creator, req.BetAmount, fmt.Sprintf("arena room %s create failed", id))
		return nil, toAppError(err)
	}

	c.logger.Info("Room created", "roomId", id, "creator", creator, "gameType", req.GameType, "bet", req.BetAmount)
	return created, nil
}

// Handle 执行房间操作
func (c *Coordinator) Handle(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	req.Player = ledger.NormalizeAddress(req.Player)
	if req.Player == "" {
		return nil, apperrors.ErrInvalidParams.WithReason(reasonPlayer)
	}
	if req.RoomID == "" {
		return nil, apperrors.ErrInvalidParams.WithReason("roomId")
	}

	var (
		res *ActionResult
		err error
	)
	switch req.Action {
	case ActionJoin:
		var p JoinPayload
		if err = decodePayload(req.Payload, &p); err == nil {
			res, err = c.join(ctx, req.RoomID, req.Player, p.PlayerName)
		}
	case ActionMove:
		var p MovePayload
		if err = decodePayload(req.Payload, &p); err == nil {
			if p.Row == nil || p.Col == nil {
				err = apperrors.ErrInvalidParams.WithReason("row/col")
			} else {
				res, err = c.move(ctx, req.RoomID, req.Player, board.Position{Row: *p.Row, Col: *p.Col})
			}
		}
	case ActionSurrender:
		res, err = c.surrender(ctx, req.RoomID, req.Player)
	case ActionCancel:
		res, err = c.cancel(ctx, req.RoomID, req.Player)
	case ActionRequestNewGame:
		var p RematchPayload
		if err = decodePayload(req.Payload, &p); err == nil {
			res, err = c.requestNewGame(ctx, req.RoomID, req.Player, p.BetAmount)
		}
	case ActionConfirmNewGame:
		res, err = c.confirmNewGame(ctx, req.RoomID, req.Player)
	case ActionDeclineNewGame:
		res, err = c.declineNewGame(ctx, req.RoomID, req.Player)
	default:
		err = apperrors.ErrInvalidParams.WithReason("action")
	}

	if err != nil {
		appErr := toAppError(err)
		c.logger.Debug("Action rejected",
			"roomId", req.RoomID, "action", req.Action, "player", req.Player,
			"code", appErr.Code, "reason", appErr.Reason)
		return nil, appErr
	}
	return res, nil
}

func (c *Coordinator) join(ctx context.Context, roomID, player, name string) (*ActionResult, error) {
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if r.Status != model.StatusWaiting {
			return apperrors.ErrInvalidState
		}
		if player == r.Creator {
			return apperrors.ErrInvalidParams.WithReason(reasonOwnRoom)
		}
		engine, err := c.engines.Get(r.GameType)
		if err != nil {
			return err
		}
		if err := c.debit(ctx, player, r.BetAmount, fmt.Sprintf("arena room %s stake", r.ID)); err != nil {
			return err
		}
		r.Opponent = player
		r.OpponentName = displayName(name, player)
		c.startGame(r, engine)
		return nil
	}, c.announce(string(ActionJoin), player))
	if err != nil {
		return nil, err
	}

	c.logger.Info("Player joined", "roomId", roomID, "opponent", player, "gameNumber", updated.GameNumber)
	return &ActionResult{Room: updated, GameState: updated.Game}, nil
}

// startGame 开新局：房主先手，局号加一
func (c *Coordinator) startGame(r *model.Room, engine game.Engine) {
	r.Status = model.StatusPlaying
	r.Game = engine.NewState()
	r.Winner = ""
	r.GameNumber++
	r.Rematch = nil
	r.DeclineNotice = nil
}

func (c *Coordinator) move(ctx context.Context, roomID, player string, pos board.Position) (*ActionResult, error) {
	var moved *game.MoveResult
	var opened bool
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if !r.IsParticipant(player) {
			return apperrors.ErrNotAParticipant
		}
		switch r.Status {
		case model.StatusPlaying:
		case model.StatusFinished:
			return board.ErrGameFinished
		default:
			return apperrors.ErrInvalidState
		}
		engine, err := c.engines.Get(r.GameType)
		if err != nil {
			return err
		}
		res, err := engine.ApplyMove(r, player, pos, c.now())
		if err != nil {
			return err
		}
		r.Game = res.State
		if res.Winner != "" {
			opened = c.finish(r, res.Winner)
		}
		moved = res
		return nil
	}, func(r *model.Room) {
		c.publish(r, string(ActionMove), player, moved)
	})
	if err != nil {
		return nil, err
	}

	res := &ActionResult{
		Room:        updated,
		GameState:   updated.Game,
		EvictedMove: moved.Evicted,
		Captured:    moved.Captured,
	}
	if opened {
		c.logger.Info("Game finished", "roomId", roomID, "winner", updated.Winner, "gameNumber", updated.GameNumber)
		c.settle(ctx, res)
	}
	return res, nil
}

// finish 终局：设置获胜方并在同一次修改中登记结算
func (c *Coordinator) finish(r *model.Room, winner string) bool {
	r.Status = model.StatusFinished
	r.Winner = winner
	r.Rematch = nil
	return settlement.Open(r, winner)
}

func (c *Coordinator) surrender(ctx context.Context, roomID, player string) (*ActionResult, error) {
	var opened bool
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if !r.IsParticipant(player) {
			return apperrors.ErrNotAParticipant
		}
		if r.Status != model.StatusPlaying {
			return apperrors.ErrInvalidState
		}
		winner := r.OtherPlayer(player)
		if r.Game != nil && r.Game.TicTacToe != nil {
			g := r.Game.TicTacToe
			g.Status = tictactoe.StatusFinished
			g.Winner = r.TicTacToeSymbol(winner)
		}
		opened = c.finish(r, winner)
		return nil
	}, c.announce(string(ActionSurrender), player))
	if err != nil {
		return nil, err
	}

	c.logger.Info("Player surrendered", "roomId", roomID, "player", player, "winner", updated.Winner)
	res := &ActionResult{Room: updated, GameState: updated.Game}
	if opened {
		c.settle(ctx, res)
	}
	return res, nil
}

// settle 提交后立即尝试结算，失败时结果中带上结算错误。
// 终局已提交，请求被取消也要完成认领与入账
func (c *Coordinator) settle(ctx context.Context, res *ActionResult) {
	if c.settler == nil {
		res.SettlementPending = true
		return
	}
	settled, err := c.settler.Settle(context.WithoutCancel(ctx), res.Room.ID)
	if settled != nil {
		res.Room = settled
		res.GameState = settled.Game
	}
	if err != nil {
		res.SettlementPending = true
		res.SettlementErr = apperrors.ErrSettlementFailure.Wrap(err)
		return
	}
	res.SettlementPending = settled != nil && settled.SettlementOutstanding()
}

func (c *Coordinator) cancel(ctx context.Context, roomID, player string) (*ActionResult, error) {
	deleted, err := c.store.DeleteIfWith(ctx, roomID, func(r *model.Room) error {
		if r.Status != model.StatusWaiting {
			return apperrors.ErrInvalidState
		}
		if player != r.Creator {
			return apperrors.ErrUnauthorized
		}
		return c.credit(ctx, r.Creator, r.BetAmount, fmt.Sprintf("arena room %s cancelled", r.ID))
	}, func(r *model.Room) {
		if c.publisher == nil {
			return
		}
		c.publisher.Publish(realtime.NewUpdateEvent(realtime.UpdatePayload{
			Action: string(ActionCancel), Player: player, Room: r, Deleted: true,
		}))
		c.publisher.CloseRoom(r.ID)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Room cancelled", "roomId", roomID, "creator", player, "refund", deleted.BetAmount)
	return &ActionResult{Room: deleted, Deleted: true}, nil
}

// announce 提交钩子：在房间锁内发布 update 事件
func (c *Coordinator) announce(action, player string) room.CommitFunc {
	return func(r *model.Room) {
		c.publish(r, action, player, nil)
	}
}

// publish 只在提交钩子内调用，Publisher 不得阻塞
func (c *Coordinator) publish(r *model.Room, action, player string, moved *game.MoveResult) {
	if c.publisher == nil || r == nil {
		return
	}
	p := realtime.UpdatePayload{Action: action, Player: player, Room: r}
	if moved != nil {
		p.EvictedMove = moved.Evicted
		p.Captured = moved.Captured
	}
	c.publisher.Publish(realtime.NewUpdateEvent(p))
}

func (c *Coordinator) checkBet(bet int64) error {
	if bet <= 0 || (c.config.MaxBet > 0 && bet > c.config.MaxBet) {
		return apperrors.ErrInvalidParams.WithReason(reasonBet)
	}
	return nil
}

func (c *Coordinator) debit(ctx context.Context, addr string, amount int64, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.LedgerTimeout)
	defer cancel()
	if err := c.ledger.Debit(ctx, addr, amount, reason); err != nil {
		return ledgerError(err)
	}
	return nil
}

func (c *Coordinator) credit(ctx context.Context, addr string, amount int64, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.LedgerTimeout)
	defer cancel()
	if err := c.ledger.Credit(ctx, addr, amount, reason); err != nil {
		return ledgerError(err)
	}
	return nil
}

// refund 尽力退款，失败只记录日志
func (c *Coordinator) refund(addr string, amount int64, reason string) {
	if err := c.credit(context.Background(), addr, amount, reason); err != nil {
		c.logger.Error("Refund failed", "address", addr, "amount", amount, "reason", reason, "error", err)
	}
}

// refundOnEvict 回收前退还未开局房主的押注与未处理的再来一局押注
func (c *Coordinator) refundOnEvict(ctx context.Context, r *model.Room) error {
	if r.Status == model.StatusWaiting {
		if err := c.credit(ctx, r.Creator, r.BetAmount, fmt.Sprintf("arena room %s expired", r.ID)); err != nil {
			return err
		}
	}
	if r.Rematch != nil {
		if err := c.credit(ctx, r.Rematch.RequestingPlayer, r.Rematch.ProposedBet,
			fmt.Sprintf("arena room %s rematch expired", r.ID)); err != nil {
			return err
		}
	}
	return nil
}

// displayName 未提供昵称时使用缩写地址
func displayName(name, addr string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if len(addr) > 10 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}
