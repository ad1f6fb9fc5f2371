package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.arena/internal/model"
)

// PostgresBackend 快照存入 game_rooms 表（见 migrations）
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend 创建 Postgres 后端
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// 只接受版本不低于已存版本的快照
const upsertRoomSQL = `
	INSERT INTO game_rooms (id, payload, status, version, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET payload = EXCLUDED.payload,
	    status = EXCLUDED.status,
	    version = EXCLUDED.version,
	    updated_at = EXCLUDED.updated_at
	WHERE game_rooms.version <= EXCLUDED.version
`

func (b *PostgresBackend) Save(ctx context.Context, rooms []*model.Room) error {
	batch := &pgx.Batch{}
	for _, r := range rooms {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode room %s: %w", r.ID, err)
		}
		batch.Queue(upsertRoomSQL, r.ID, data, string(r.Status), r.Version, r.UpdatedAt)
	}

	br := b.db.SendBatch(ctx, batch)
	for _, r := range rooms {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert room %s: %w", r.ID, err)
		}
	}
	return br.Close()
}

func (b *PostgresBackend) Delete(ctx context.Context, ids []string) error {
	_, err := b.db.Exec(ctx, `DELETE FROM game_rooms WHERE id = ANY($1)`, ids)
	return err
}

func (b *PostgresBackend) Get(ctx context.Context, id string) (*model.Room, error) {
	var data []byte
	err := b.db.QueryRow(ctx, `SELECT payload FROM game_rooms WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}

func (b *PostgresBackend) LoadAll(ctx context.Context) ([]*model.Room, error) {
	rows, err := b.db.Query(ctx, `SELECT payload FROM game_rooms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []*model.Room{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.Room
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode room: %w", err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}
