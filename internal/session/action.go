package session

import (
	"encoding/json"

	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/model"
	apperrors "sudooom.arena/pkg/errors"
)

// Action 房间操作
type Action string

const (
	ActionJoin           Action = "join"
	ActionMove           Action = "move"
	ActionSurrender      Action = "surrender"
	ActionCancel         Action = "cancel"
	ActionRequestNewGame Action = "requestNewGame"
	ActionConfirmNewGame Action = "confirmNewGame"
	ActionDeclineNewGame Action = "declineNewGame"
)

// ActionRequest 房间操作请求
type ActionRequest struct {
	RoomID  string          `json:"roomId"`
	Action  Action          `json:"action"`
	Player  string          `json:"player"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload join 载荷
type JoinPayload struct {
	PlayerName string `json:"playerName"`
}

// MovePayload move 载荷
type MovePayload struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

// RematchPayload requestNewGame 载荷
type RematchPayload struct {
	BetAmount int64 `json:"betAmount"`
}

// ActionResult 操作结果
type ActionResult struct {
	Room              *model.Room      `json:"room,omitempty"`
	GameState         *model.GameState `json:"gameState,omitempty"`
	EvictedMove       *tictactoe.Move  `json:"evictedMove,omitempty"`
	Captured          int              `json:"captured,omitempty"`
	SettlementPending bool             `json:"settlementPending,omitempty"`
	Deleted           bool             `json:"deleted,omitempty"`

	// SettlementErr 操作本身已成功，但奖金入账失败（已安排重试）
	SettlementErr *apperrors.AppError `json:"-"`
}

// CreateRequest 创建房间
type CreateRequest struct {
	Creator     string         `json:"creator"`
	CreatorName string         `json:"creatorName"`
	GameType    model.GameType `json:"gameType"`
	BetAmount   int64          `json:"betAmount"`
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.ErrInvalidParams.WithReason("payload").Wrap(err)
	}
	return nil
}
