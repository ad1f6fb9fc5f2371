package session

import (
	"context"
	"errors"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/game"
	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/room"
	apperrors "sudooom.arena/pkg/errors"
)

// 细分原因
const (
	reasonUnsupportedGame   = "unsupported_game_type"
	reasonRematchUnsupport  = "rematch_unsupported"
	reasonOwnRoom           = "cannot_join_own_room"
	reasonOwnRequest        = "cannot_answer_own_request"
	reasonNoRequest         = "no_pending_request"
	reasonSettlementPending = "settlement_pending"
	reasonLedgerUnavailable = "ledger_unavailable"
	reasonBet               = "bet_amount"
	reasonPlayer            = "player"
)

// errNoop 定时任务发现无需处理
var errNoop = errors.New("noop")

// toAppError 把内部错误映射为对外错误码
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return apperrors.ErrRoomNotFound
	case errors.Is(err, room.ErrRoomBusy), errors.Is(err, room.ErrRoomExists):
		return apperrors.ErrConflict.Wrap(err)
	case errors.Is(err, board.ErrOccupied):
		return apperrors.ErrInvalidMove.WithReason(apperrors.ReasonOccupied)
	case errors.Is(err, board.ErrOutOfBounds):
		return apperrors.ErrInvalidMove.WithReason(apperrors.ReasonOutOfBounds)
	case errors.Is(err, board.ErrNotYourTurn):
		return apperrors.ErrNotYourTurn
	case errors.Is(err, board.ErrGameFinished):
		return apperrors.ErrInvalidMove.WithReason(apperrors.ReasonGameFinished)
	case errors.Is(err, game.ErrEngineNotSupported):
		return apperrors.ErrInvalidParams.WithReason(reasonUnsupportedGame)
	case errors.Is(err, game.ErrInvalidGameState):
		return apperrors.ErrInvalidState.Wrap(err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return apperrors.ErrInsufficientFunds
	case errors.Is(err, ledger.ErrInvalidAmount):
		return apperrors.ErrInvalidParams.WithReason(reasonBet)
	case errors.Is(err, ledger.ErrInvalidAddress):
		return apperrors.ErrInvalidParams.WithReason(reasonPlayer)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.ErrConflict.Wrap(err)
	default:
		return apperrors.ErrServerError.Wrap(err)
	}
}

// ledgerError 账本调用失败：余额不足单独映射，其余视为账本不可用
func ledgerError(err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInvalidAddress) {
		return err
	}
	return apperrors.ErrServerError.WithReason(reasonLedgerUnavailable).Wrap(err)
}
