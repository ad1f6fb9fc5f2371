// Package weiqi 实现 19 路围棋的落子与提子。
// 不判禁着点、不判打劫、不支持停一手，对局只能以认输结束。
package weiqi

import (
	"encoding/json"
	"time"

	"sudooom.arena/internal/board"
)

// Size 棋盘边长
const Size = 19

// Stone 棋子颜色，空点为 ""
type Stone string

const (
	Empty Stone = ""
	Black Stone = "black"
	White Stone = "white"
)

// Other 返回对方颜色
func (s Stone) Other() Stone {
	if s == Black {
		return White
	}
	return Black
}

// MarshalJSON 空点编码为 null
func (s Stone) MarshalJSON() ([]byte, error) {
	if s == Empty {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON 接受 null 与颜色字符串
func (s *Stone) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Empty
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Stone(v)
	return nil
}

// Move 一手棋及其提子数
type Move struct {
	Player    Stone          `json:"player"`
	Position  board.Position `json:"position"`
	Captured  int            `json:"captured"`
	Timestamp time.Time      `json:"timestamp"`
}

// State 对局状态
type State struct {
	Board         [Size][Size]Stone `json:"board"`
	CurrentPlayer Stone             `json:"currentPlayer"`
	BlackCaptures int               `json:"blackCaptures"`
	WhiteCaptures int               `json:"whiteCaptures"`
	Moves         []Move            `json:"moves"`
}

// NewState 空棋盘，黑先
func NewState() *State {
	return &State{
		CurrentPlayer: Black,
		Moves:         []Move{},
	}
}

// Clone 深拷贝
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Moves = append([]Move(nil), s.Moves...)
	return &c
}

// ValidateMove 校验落子
func ValidateMove(s *State, player Stone, pos board.Position) error {
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

// ApplyMove 落子并提走所有无气的对方棋块，返回新状态，不修改入参
func ApplyMove(s *State, player Stone, pos board.Position, now time.Time) (*State, error) {
	if err := ValidateMove(s, player, pos); err != nil {
		return nil, err
	}

	next := s.Clone()
	next.Board[pos.Row][pos.Col] = player

	captured := 0
	visited := make(map[board.Position]bool)
	for _, n := range neighbors(pos) {
		if next.Board[n.Row][n.Col] != player.Other() || visited[n] {
			continue
		}
		group := FindGroup(next, n)
		for _, p := range group {
			visited[p] = true
		}
		if !HasLiberties(next, group) {
			for _, p := range group {
				next.Board[p.Row][p.Col] = Empty
			}
			captured += len(group)
		}
	}

	if player == Black {
		next.BlackCaptures += captured
	} else {
		next.WhiteCaptures += captured
	}
	next.Moves = append(next.Moves, Move{
		Player:    player,
		Position:  pos,
		Captured:  captured,
		Timestamp: now,
	})
	next.CurrentPlayer = player.Other()
	return next, nil
}

// FindGroup 广度优先找出与 pos 同色且四向相连的棋块，pos 为空点时返回 nil
func FindGroup(s *State, pos board.Position) []board.Position {
	if !pos.In(Size) {
		return nil
	}
	color := s.Board[pos.Row][pos.Col]
	if color == Empty {
		return nil
	}

	seen := map[board.Position]bool{pos: true}
	group := []board.Position{pos}
	for i := 0; i < len(group); i++ {
		for _, n := range neighbors(group[i]) {
			if !seen[n] && s.Board[n.Row][n.Col] == color {
				seen[n] = true
				group = append(group, n)
			}
		}
	}
	return group
}

// HasLiberties 棋块是否至少有一口气
func HasLiberties(s *State, group []board.Position) bool {
	for _, p := range group {
		for _, n := range neighbors(p) {
			if s.Board[n.Row][n.Col] == Empty {
				return true
			}
		}
	}
	return false
}

func neighbors(p board.Position) []board.Position {
	out := make([]board.Position, 0, 4)
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		n := board.Position{Row: p.Row + d[0], Col: p.Col + d[1]}
		if n.In(Size) {
			out = append(out, n)
		}
	}
	return out
}
