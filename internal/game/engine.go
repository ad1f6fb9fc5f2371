// Package game 按游戏类型分派棋盘引擎，屏蔽井字棋与围棋的状态差异
package game

import (
	"errors"
	"time"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/model"
)

var (
	// ErrInvalidGameState 房间缺少对应类型的棋局状态
	ErrInvalidGameState = errors.New("invalid game state")

	// ErrEngineNotSupported 不支持的游戏类型
	ErrEngineNotSupported = errors.New("game type not supported")
)

// MoveResult 一次落子的结果
type MoveResult struct {
	State    *model.GameState
	Evicted  *tictactoe.Move // 井字棋被移除的最早一手
	Captured int             // 围棋本手提子数
	Winner   string          // 本手结束对局时的获胜玩家地址
}

// Engine 棋盘引擎能力接口，座位由房间决定：房主先手
type Engine interface {
	Type() model.GameType
	Size() int
	NewState() *model.GameState
	ValidateMove(room *model.Room, player string, pos board.Position) error
	// ApplyMove 不修改 room，返回新的棋局状态
	ApplyMove(room *model.Room, player string, pos board.Position, now time.Time) (*MoveResult, error)
	// IsTerminal 棋面是否已分出胜负，返回获胜玩家地址
	IsTerminal(room *model.Room) (string, bool)
	// SupportsRematch 是否支持再来一局
	SupportsRematch() bool
}

// Registry 游戏类型到引擎的映射
type Registry struct {
	engines map[model.GameType]Engine
}

// NewRegistry 创建注册表
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[model.GameType]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Type()] = e
	}
	return r
}

// DefaultRegistry 注册井字棋与围棋
func DefaultRegistry() *Registry {
	return NewRegistry(TicTacToe{}, Weiqi{})
}

// Get 获取引擎
func (r *Registry) Get(t model.GameType) (Engine, error) {
	e, ok := r.engines[t]
	if !ok {
		return nil, ErrEngineNotSupported
	}
	return e, nil
}

// Supports 是否支持该游戏类型
func (r *Registry) Supports(t model.GameType) bool {
	_, ok := r.engines[t]
	return ok
}
