package game

import (
	"time"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/model"
)

// TicTacToe 井字棋引擎，房主执 X
type TicTacToe struct{}

func (TicTacToe) Type() model.GameType { return model.GameTicTacToe }

func (TicTacToe) Size() int { return tictactoe.Size }

func (TicTacToe) NewState() *model.GameState {
	return &model.GameState{TicTacToe: tictactoe.NewState()}
}

func (TicTacToe) ValidateMove(room *model.Room, player string, pos board.Position) error {
	if room.Game == nil || room.Game.TicTacToe == nil {
		return ErrInvalidGameState
	}
	return tictactoe.ValidateMove(room.Game.TicTacToe, room.TicTacToeSymbol(player), pos)
}

func (TicTacToe) ApplyMove(room *model.Room, player string, pos board.Position, now time.Time) (*MoveResult, error) {
	if room.Game == nil || room.Game.TicTacToe == nil {
		return nil, ErrInvalidGameState
	}
	next, evicted, err := tictactoe.ApplyMove(room.Game.TicTacToe, room.TicTacToeSymbol(player), pos, now)
	if err != nil {
		return nil, err
	}
	res := &MoveResult{
		State:   &model.GameState{TicTacToe: next},
		Evicted: evicted,
	}
	if next.Status == tictactoe.StatusFinished {
		res.Winner = room.PlayerForTicTacToe(next.Winner)
	}
	return res, nil
}

func (TicTacToe) IsTerminal(room *model.Room) (string, bool) {
	if room.Game == nil || room.Game.TicTacToe == nil {
		return "", false
	}
	s := room.Game.TicTacToe
	if s.Status != tictactoe.StatusFinished {
		return "", false
	}
	return room.PlayerForTicTacToe(s.Winner), true
}

func (TicTacToe) SupportsRematch() bool { return true }
