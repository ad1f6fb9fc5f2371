package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/internal/board"
	"sudooom.arena/internal/board/tictactoe"
	"sudooom.arena/internal/board/weiqi"
)

func sampleRoom(t *testing.T) *Room {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state, _, err := tictactoe.ApplyMove(tictactoe.NewState(), tictactoe.X, board.Position{Row: 1, Col: 1}, now)
	require.NoError(t, err)
	settledAt := now.Add(time.Minute)

	return &Room{
		ID:           "1234567890",
		Creator:      "0xaaa",
		CreatorName:  "alice",
		Opponent:     "0xbbb",
		OpponentName: "bob",
		GameType:     GameTicTacToe,
		BetAmount:    50,
		Status:       StatusFinished,
		Game:         &GameState{TicTacToe: state},
		Winner:       "0xaaa",
		GameNumber:   2,
		Settlement: &Settlement{
			GameNumber: 2, Winner: "0xaaa", Amount: 100,
			Status: SettlementSettled, Attempts: 1, SettledAt: &settledAt,
		},
		Rematch:       &RematchRequest{RequestingPlayer: "0xbbb", ProposedBet: 75, RequestedAt: now},
		DeclineNotice: &DeclineNotice{Player: "0xaaa", At: now},
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       9,
	}
}

func TestRoom_JSONRoundTrip(t *testing.T) {
	room := sampleRoom(t)

	data, err := json.Marshal(room)
	require.NoError(t, err)

	var decoded Room
	require.NoError(t, json.Unmarshal(data, &decoded))

	// 时间字段比较语义相等，其余字段逐一相等
	assert.True(t, room.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, room.Settlement.SettledAt.Equal(*decoded.Settlement.SettledAt))
	decoded.CreatedAt, decoded.UpdatedAt = room.CreatedAt, room.UpdatedAt
	decoded.Settlement.SettledAt = room.Settlement.SettledAt
	decoded.Rematch.RequestedAt = room.Rematch.RequestedAt
	decoded.DeclineNotice.At = room.DeclineNotice.At
	decoded.Game.TicTacToe.History[0].Timestamp = room.Game.TicTacToe.History[0].Timestamp
	assert.Equal(t, room, &decoded)
}

func TestRoom_JSONRoundTripGo(t *testing.T) {
	room := sampleRoom(t)
	room.GameType = GameGo
	room.Rematch, room.DeclineNotice = nil, nil
	state, err := weiqi.ApplyMove(weiqi.NewState(), weiqi.Black, board.Position{Row: 3, Col: 3}, room.CreatedAt)
	require.NoError(t, err)
	room.Game = &GameState{Go: state}

	data, err := json.Marshal(room)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"tictactoe"`)

	var decoded Room
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Game.Go)
	assert.Nil(t, decoded.Game.TicTacToe)
	assert.Equal(t, weiqi.Black, decoded.Game.Go.Board[3][3])
	assert.Nil(t, decoded.Rematch)
}

func TestRoom_CloneIsDeep(t *testing.T) {
	room := sampleRoom(t)
	c := room.Clone()

	c.Game.TicTacToe.Board[0][0] = tictactoe.O
	c.Game.TicTacToe.History[0].MoveNumber = 99
	c.Settlement.Status = SettlementPending
	*c.Settlement.SettledAt = time.Time{}
	c.Rematch.ProposedBet = 1
	c.DeclineNotice.Player = "x"

	assert.Equal(t, tictactoe.Empty, room.Game.TicTacToe.Board[0][0])
	assert.Equal(t, 1, room.Game.TicTacToe.History[0].MoveNumber)
	assert.Equal(t, SettlementSettled, room.Settlement.Status)
	assert.False(t, room.Settlement.SettledAt.IsZero())
	assert.Equal(t, int64(75), room.Rematch.ProposedBet)
	assert.Equal(t, "0xaaa", room.DeclineNotice.Player)
}

func TestRoom_Seats(t *testing.T) {
	room := sampleRoom(t)

	assert.True(t, room.IsParticipant("0xaaa"))
	assert.True(t, room.IsParticipant("0xbbb"))
	assert.False(t, room.IsParticipant("0xccc"))
	assert.False(t, (&Room{Creator: "0xaaa"}).IsParticipant(""))

	assert.Equal(t, "0xbbb", room.OtherPlayer("0xaaa"))
	assert.Equal(t, tictactoe.X, room.TicTacToeSymbol("0xaaa"))
	assert.Equal(t, tictactoe.O, room.TicTacToeSymbol("0xbbb"))
	assert.Equal(t, weiqi.Black, room.GoStone("0xaaa"))
	assert.Equal(t, "0xbbb", room.PlayerForTicTacToe(tictactoe.O))
}

func TestRoom_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Room)
		want   error
	}{
		{"valid", func(r *Room) {}, nil},
		{"missing id", func(r *Room) { r.ID = "" }, ErrMissingID},
		{"zero bet", func(r *Room) { r.BetAmount = 0 }, ErrBadBet},
		{"waiting with opponent", func(r *Room) { r.Status = StatusWaiting; r.Winner = "" }, ErrOpponentMismatch},
		{"playing without opponent", func(r *Room) { r.Status = StatusPlaying; r.Opponent = "" }, ErrOpponentMismatch},
		{"winner while playing", func(r *Room) { r.Status = StatusPlaying }, ErrWinnerNotFinal},
		{"unknown status", func(r *Room) { r.Status = "paused" }, ErrUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := sampleRoom(t)
			tt.mutate(room)
			assert.Equal(t, tt.want, room.Validate())
		})
	}
}
