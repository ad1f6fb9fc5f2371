package model

import (
	"errors"
	"time"

	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/board/weiqi"
)

// GameType 游戏类型
type GameType string

const (
	GameTicTacToe GameType = "tictactoe"
	GameGo        GameType = "go"
	GameChess     GameType = "chess" // 预留，暂不支持创建
)

// RoomStatus 房间状态
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// Room 对局房间
type Room struct {
	ID           string     `json:"id"`
	Creator      string     `json:"creator"`
	CreatorName  string     `json:"creatorName"`
	Opponent     string     `json:"opponent,omitempty"`
	OpponentName string     `json:"opponentName,omitempty"`
	GameType     GameType   `json:"gameType"`
	BetAmount    int64      `json:"betAmount"`
	Status       RoomStatus `json:"status"`
	Game         *GameState `json:"gameState,omitempty"`
	Winner       string     `json:"winner,omitempty"`

	// GameNumber 每次开局加一，结算按它去重
	GameNumber    int             `json:"gameNumber"`
	Settlement    *Settlement     `json:"settlement,omitempty"`
	Rematch       *RematchRequest `json:"newGameRequest,omitempty"`
	DeclineNotice *DeclineNotice  `json:"declineNotification,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version 每次提交加一，同时作为推送事件的序号
	Version int64 `json:"version"`
}

// GameState 按游戏类型区分的棋局状态，同一时刻只有一个字段非空
type GameState struct {
	TicTacToe *tictactoe.State `json:"tictactoe,omitempty"`
	Go        *weiqi.State     `json:"go,omitempty"`
}

// Clone 深拷贝
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	return &GameState{
		TicTacToe: g.TicTacToe.Clone(),
		Go:        g.Go.Clone(),
	}
}

// SettlementStatus 结算状态
type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "pending"
	SettlementInflight SettlementStatus = "inflight"
	SettlementSettled  SettlementStatus = "settled"
)

// Settlement 一局的奖金结算记录
type Settlement struct {
	GameNumber int              `json:"gameNumber"`
	Winner     string           `json:"winner"`
	Amount     int64            `json:"amount"`
	Status     SettlementStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"lastError,omitempty"`
	SettledAt  *time.Time       `json:"settledAt,omitempty"`
}

// RematchRequest 再来一局请求，发起方的新押注已扣除
type RematchRequest struct {
	RequestingPlayer string    `json:"requestingPlayer"`
	ProposedBet      int64     `json:"proposedBet"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// DeclineNotice 拒绝通知，提示给发起方
type DeclineNotice struct {
	Player string    `json:"player"`
	At     time.Time `json:"at"`
}

// Clone 深拷贝，Mutate 在副本上修改
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Game = r.Game.Clone()
	if r.Settlement != nil {
		s := *r.Settlement
		if r.Settlement.SettledAt != nil {
			at := *r.Settlement.SettledAt
			s.SettledAt = &at
		}
		c.Settlement = &s
	}
	if r.Rematch != nil {
		m := *r.Rematch
		c.Rematch = &m
	}
	if r.DeclineNotice != nil {
		d := *r.DeclineNotice
		c.DeclineNotice = &d
	}
	return &c
}

// IsParticipant 是否为房间内的玩家
func (r *Room) IsParticipant(addr string) bool {
	return addr != "" && (addr == r.Creator || addr == r.Opponent)
}

// OtherPlayer 返回另一名玩家
func (r *Room) OtherPlayer(addr string) string {
	if addr == r.Creator {
		return r.Opponent
	}
	return r.Creator
}

// TicTacToeSymbol 房主执 X，对手执 O
func (r *Room) TicTacToeSymbol(addr string) tictactoe.Symbol {
	if addr == r.Creator {
		return tictactoe.X
	}
	return tictactoe.O
}

// GoStone 房主执黑，对手执白
func (r *Room) GoStone(addr string) weiqi.Stone {
	if addr == r.Creator {
		return weiqi.Black
	}
	return weiqi.White
}

// PlayerForTicTacToe 由符号反查玩家地址
func (r *Room) PlayerForTicTacToe(s tictactoe.Symbol) string {
	if s == tictactoe.X {
		return r.Creator
	}
	return r.Opponent
}

// SettlementOutstanding 当前局的奖金是否尚未到账
func (r *Room) SettlementOutstanding() bool {
	return r.Settlement != nil && r.Settlement.Status != SettlementSettled
}

// 房间数据一致性错误
var (
	ErrMissingID        = errors.New("room id is empty")
	ErrMissingCreator   = errors.New("room creator is empty")
	ErrBadBet           = errors.New("bet amount must be positive")
	ErrOpponentMismatch = errors.New("opponent presence does not match status")
	ErrWinnerNotFinal   = errors.New("winner set on unfinished room")
	ErrUnknownStatus    = errors.New("unknown room status")
)

// Validate 检查房间不变量，用于加载持久化快照
func (r *Room) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Creator == "" {
		return ErrMissingCreator
	}
	if r.BetAmount <= 0 {
		return ErrBadBet
	}
	switch r.Status {
	case StatusWaiting:
		if r.Opponent != "" {
			return ErrOpponentMismatch
		}
	case StatusPlaying, StatusFinished:
		if r.Opponent == "" {
			return ErrOpponentMismatch
		}
	default:
		return ErrUnknownStatus
	}
	if r.Winner != "" && r.Status != StatusFinished {
		return ErrWinnerNotFinal
	}
	return nil
}
