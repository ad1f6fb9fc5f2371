package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sudooom.arena/internal/model"
	apperrors "sudooom.arena/pkg/errors"
)

// 再来一局相关的延迟任务前缀
const (
	rematchTaskPrefix = "rematch:"
	declineTaskPrefix = "decline:"
)

// requestNewGame 发起再来一局，锁内扣除发起方的新押注
func (c *Coordinator) requestNewGame(ctx context.Context, roomID, player string, bet int64) (*ActionResult, error) {
	if err := c.checkBet(bet); err != nil {
		return nil, err
	}
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if !r.IsParticipant(player) {
			return apperrors.ErrNotAParticipant
		}
		if r.Status != model.StatusFinished {
			return apperrors.ErrInvalidState
		}
		engine, err := c.engines.Get(r.GameType)
		if err != nil {
			return err
		}
		if !engine.SupportsRematch() {
			return apperrors.ErrInvalidState.WithReason(reasonRematchUnsupport)
		}
		if r.Rematch != nil {
			return apperrors.ErrAlreadyRequested
		}
		if err := c.debit(ctx, player, bet, fmt.Sprintf("arena room %s rematch stake", r.ID)); err != nil {
			return err
		}
		r.Rematch = &model.RematchRequest{
			RequestingPlayer: player,
			ProposedBet:      bet,
			RequestedAt:      c.now(),
		}
		r.DeclineNotice = nil
		return nil
	}, c.announce(string(ActionRequestNewGame), player))
	if err != nil {
		return nil, err
	}

	c.removeTask(declineTaskPrefix + roomID)
	c.schedule(rematchTaskPrefix+roomID, roomID, c.config.RematchTimeout, c.expireRematch)
	c.logger.Info("Rematch requested", "roomId", roomID, "player", player, "bet", bet)
	return &ActionResult{Room: updated, GameState: updated.Game}, nil
}

// confirmNewGame 对方接受，锁内扣除接受方押注并开新局
func (c *Coordinator) confirmNewGame(ctx context.Context, roomID, player string) (*ActionResult, error) {
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if !r.IsParticipant(player) {
			return apperrors.ErrNotAParticipant
		}
		if r.Rematch == nil {
			return apperrors.ErrInvalidState.WithReason(reasonNoRequest)
		}
		if r.Rematch.RequestingPlayer == player {
			return apperrors.ErrUnauthorized.WithReason(reasonOwnRequest)
		}
		if r.SettlementOutstanding() {
			return apperrors.ErrInvalidState.WithReason(reasonSettlementPending)
		}
		engine, err := c.engines.Get(r.GameType)
		if err != nil {
			return err
		}
		bet := r.Rematch.ProposedBet
		if err := c.debit(ctx, player, bet, fmt.Sprintf("arena room %s rematch stake", r.ID)); err != nil {
			return err
		}
		r.BetAmount = bet
		c.startGame(r, engine)
		return nil
	}, c.announce(string(ActionConfirmNewGame), player))
	if err != nil {
		return nil, err
	}

	c.removeTask(rematchTaskPrefix + roomID)
	c.logger.Info("Rematch confirmed", "roomId", roomID, "player", player,
		"gameNumber", updated.GameNumber, "bet", updated.BetAmount)
	return &ActionResult{Room: updated, GameState: updated.Game}, nil
}

// declineNewGame 对方拒绝，锁内退还发起方押注并留下拒绝通知
func (c *Coordinator) declineNewGame(ctx context.Context, roomID, player string) (*ActionResult, error) {
	updated, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if !r.IsParticipant(player) {
			return apperrors.ErrNotAParticipant
		}
		if r.Rematch == nil {
			return apperrors.ErrInvalidState.WithReason(reasonNoRequest)
		}
		if r.Rematch.RequestingPlayer == player {
			return apperrors.ErrUnauthorized.WithReason(reasonOwnRequest)
		}
		requester := r.Rematch.RequestingPlayer
		if err := c.credit(ctx, requester, r.Rematch.ProposedBet,
			fmt.Sprintf("arena room %s rematch declined", r.ID)); err != nil {
			return err
		}
		r.Rematch = nil
		r.DeclineNotice = &model.DeclineNotice{Player: requester, At: c.now()}
		return nil
	}, c.announce(string(ActionDeclineNewGame), player))
	if err != nil {
		return nil, err
	}

	c.removeTask(rematchTaskPrefix + roomID)
	c.schedule(declineTaskPrefix+roomID, roomID, c.config.DeclineNoticeTTL, c.clearDecline)
	c.logger.Info("Rematch declined", "roomId", roomID, "player", player)
	return &ActionResult{Room: updated, GameState: updated.Game}, nil
}

// expireRematch 请求超时无人应答，退还发起方押注
func (c *Coordinator) expireRematch(ctx context.Context, roomID string) error {
	var remaining time.Duration
	_, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if r.Rematch == nil {
			return errNoop
		}
		// 时间轮按刻度触发，可能略早于到期时间
		if remaining = c.config.RematchTimeout - c.now().Sub(r.Rematch.RequestedAt); remaining > 0 {
			return errNoop
		}
		if err := c.credit(ctx, r.Rematch.RequestingPlayer, r.Rematch.ProposedBet,
			fmt.Sprintf("arena room %s rematch expired", r.ID)); err != nil {
			return err
		}
		r.Rematch = nil
		return nil
	}, c.announce("rematchExpired", ""))
	switch {
	case err == nil:
		c.logger.Info("Rematch request expired", "roomId", roomID)
		return nil
	case errors.Is(err, errNoop):
		if remaining > 0 {
			c.schedule(rematchTaskPrefix+roomID, roomID, remaining, c.expireRematch)
		}
		return nil
	case isNotFound(err):
		return nil
	default:
		// 退款失败，稍后再试
		c.logger.Warn("Failed to expire rematch, retrying", "roomId", roomID, "error", err)
		c.schedule(rematchTaskPrefix+roomID, roomID, c.config.RematchTimeout/4+time.Second, c.expireRematch)
		return err
	}
}

// clearDecline 拒绝通知到期后清除
func (c *Coordinator) clearDecline(ctx context.Context, roomID string) error {
	var remaining time.Duration
	_, err := c.store.MutateWith(ctx, roomID, func(r *model.Room) error {
		if r.DeclineNotice == nil {
			return errNoop
		}
		if remaining = c.config.DeclineNoticeTTL - c.now().Sub(r.DeclineNotice.At); remaining > 0 {
			return errNoop
		}
		r.DeclineNotice = nil
		return nil
	}, c.announce("declineCleared", ""))
	if err != nil {
		if errors.Is(err, errNoop) && remaining > 0 {
			c.schedule(declineTaskPrefix+roomID, roomID, remaining, c.clearDecline)
			return nil
		}
		if errors.Is(err, errNoop) || isNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Resume 重启后按剩余时间重新安排再来一局超时与拒绝通知清理
func (c *Coordinator) Resume() int {
	now := c.now()
	n := 0
	for _, r := range c.store.List(nil) {
		if r.Rematch != nil {
			delay := c.config.RematchTimeout - now.Sub(r.Rematch.RequestedAt)
			c.schedule(rematchTaskPrefix+r.ID, r.ID, max(delay, 0), c.expireRematch)
			n++
		}
		if r.DeclineNotice != nil {
			delay := c.config.DeclineNoticeTTL - now.Sub(r.DeclineNotice.At)
			c.schedule(declineTaskPrefix+r.ID, r.ID, max(delay, 0), c.clearDecline)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("Resumed room timers", "count", n)
	}
	return n
}

func (c *Coordinator) schedule(id, roomID string, delay time.Duration, fn func(ctx context.Context, roomID string) error) {
	if c.scheduler == nil {
		return
	}
	if err := c.scheduler.Schedule(id, roomID, delay, fn); err != nil {
		c.logger.Error("Failed to schedule room task", "taskId", id, "roomId", roomID, "error", err)
	}
}

func (c *Coordinator) removeTask(id string) {
	if c.scheduler != nil {
		c.scheduler.RemoveTask(id)
	}
}

func isNotFound(err error) bool {
	return apperrors.Is(toAppError(err), apperrors.ErrRoomNotFound)
}
