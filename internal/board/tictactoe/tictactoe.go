// Package tictactoe 实现带滑动窗口的井字棋：棋盘上最多保留 6 枚棋子，
// 第 7 手落子前移除最早的一手，因此不存在平局。
package tictactoe

import (
	"encoding/json"
	"time"

	"sudooom.arena/internal/board"
)

// Size 棋盘边长
const Size = 3

// MaxPieces 落子后棋盘上最多保留的棋子数
const MaxPieces = 6

// Symbol 棋子符号，空格为 ""
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Other 返回对手符号
func (s Symbol) Other() Symbol {
	if s == X {
		return O
	}
	return X
}

// MarshalJSON 空格编码为 null
func (s Symbol) MarshalJSON() ([]byte, error) {
	if s == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON 接受 null 与 "X"/"O"
func (s *Symbol) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Empty
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Symbol(v)
	return nil
}

// Status 对局状态
type Status string

const (
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Move 一手棋
type Move struct {
	Player     Symbol         `json:"player"`
	Position   board.Position `json:"position"`
	MoveNumber int            `json:"moveNumber"`
	Timestamp  time.Time      `json:"timestamp"`
}

// State 对局状态，History 按落子先后排列且只包含仍在棋盘上的棋子
type State struct {
	Board         [Size][Size]Symbol `json:"board"`
	CurrentPlayer Symbol             `json:"currentPlayer"`
	History       []Move             `json:"moveHistory"`
	MoveNumber    int                `json:"moveNumber"`
	Status        Status             `json:"gameStatus"`
	Winner        Symbol             `json:"winner,omitempty"`
}

// NewState 空棋盘，X 先行
func NewState() *State {
	return &State{
		CurrentPlayer: X,
		History:       []Move{},
		Status:        StatusPlaying,
	}
}

// Clone 深拷贝
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]Move(nil), s.History...)
	return &c
}

// Occupied 当前棋盘上的棋子数
func (s *State) Occupied() int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if s.Board[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

// ValidateMove 校验落子。轮次先于坐标检查，非当前玩家的落子一律返回 ErrNotYourTurn
func ValidateMove(s *State, player Symbol, pos board.Position) error {
	if s.Status == StatusFinished {
		return board.ErrGameFinished
	}
	if player != s.CurrentPlayer {
		return board.ErrNotYourTurn
	}
	if !pos.In(Size) {
		return board.ErrOutOfBounds
	}
	if s.Board[pos.Row][pos.Col] != Empty {
		return board.ErrOccupied
	}
	return nil
}

// ApplyMove 返回落子后的新状态以及被移除的最早一手（若有），不修改入参
func ApplyMove(s *State, player Symbol, pos board.Position, now time.Time) (*State, *Move, error) {
	if err := ValidateMove(s, player, pos); err != nil {
		return nil, nil, err
	}

	next := s.Clone()

	var evicted *Move
	// 按落子前的棋子数判断
	if next.Occupied() >= MaxPieces && len(next.History) > 0 {
		oldest := next.History[0]
		next.History = next.History[1:]
		next.Board[oldest.Position.Row][oldest.Position.Col] = Empty
		evicted = &oldest
	}

	next.Board[pos.Row][pos.Col] = player
	next.MoveNumber++
	next.History = append(next.History, Move{
		Player:     player,
		Position:   pos,
		MoveNumber: next.MoveNumber,
		Timestamp:  now,
	})
	next.CurrentPlayer = player.Other()

	if w := CheckWin(&next.Board); w != Empty {
		next.Status = StatusFinished
		next.Winner = w
	}
	return next, evicted, nil
}

var lines = [8][3]board.Position{
	{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 0, Col: 2}},
	{{Row: 1, Col: 0}, {Row: 1, Col: 1}, {Row: 1, Col: 2}},
	{{Row: 2, Col: 0}, {Row: 2, Col: 1}, {Row: 2, Col: 2}},
	{{Row: 0, Col: 0}, {Row: 1, Col: 0}, {Row: 2, Col: 0}},
	{{Row: 0, Col: 1}, {Row: 1, Col: 1}, {Row: 2, Col: 1}},
	{{Row: 0, Col: 2}, {Row: 1, Col: 2}, {Row: 2, Col: 2}},
	{{Row: 0, Col: 0}, {Row: 1, Col: 1}, {Row: 2, Col: 2}},
	{{Row: 0, Col: 2}, {Row: 1, Col: 1}, {Row: 2, Col: 0}},
}

// CheckWin 检查 8 条连线，返回获胜符号或 Empty
func CheckWin(b *[Size][Size]Symbol) Symbol {
	for _, line := range lines {
		a := b[line[0].Row][line[0].Col]
		if a != Empty && a == b[line[1].Row][line[1].Col] && a == b[line[2].Row][line[2].Col] {
			return a
		}
	}
	return Empty
}
