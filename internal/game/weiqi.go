package game

import (
	"time"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/board/weiqi"
	"sudooom.arena/internal/model"
)

// Weiqi 围棋引擎，房主执黑。棋面本身不会终局，只能认输
type Weiqi struct{}

func (Weiqi) Type() model.GameType { return model.GameGo }

func (Weiqi) Size() int { return weiqi.Size }

func (Weiqi) NewState() *model.GameState {
	return &model.GameState{Go: weiqi.NewState()}
}

func (Weiqi) ValidateMove(room *model.Room, player string, pos board.Position) error {
	if room.Game == nil || room.Game.Go == nil {
		return ErrInvalidGameState
	}
	return weiqi.ValidateMove(room.Game.Go, room.GoStone(player), pos)
}

func (Weiqi) ApplyMove(room *model.Room, player string, pos board.Position, now time.Time) (*MoveResult, error) {
	if room.Game == nil || room.Game.Go == nil {
		return nil, ErrInvalidGameState
	}
	next, err := weiqi.ApplyMove(room.Game.Go, room.GoStone(player), pos, now)
	if err != nil {
		return nil, err
	}
	return &MoveResult{
		State:    &model.GameState{Go: next},
		Captured: next.Moves[len(next.Moves)-1].Captured,
	}, nil
}

func (Weiqi) IsTerminal(*model.Room) (string, bool) { return "", false }

func (Weiqi) SupportsRematch() bool { return false }
