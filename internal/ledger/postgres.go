package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres 基于 ledger_balances / ledger_entries 表的账本
type Postgres struct {
	db       *pgxpool.Pool
	starting int64
}

// NewPostgres 创建 Postgres 账本
func NewPostgres(db *pgxpool.Pool, starting int64) *Postgres {
	return &Postgres{db: db, starting: starting}
}

const ensureBalanceSQL = `
	INSERT INTO ledger_balances (address, balance) VALUES ($1, $2)
	ON CONFLICT (address) DO NOTHING
`

func (p *Postgres) Debit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	return p.apply(ctx, addr, -amount, reason)
}

func (p *Postgres) Credit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	return p.apply(ctx, addr, amount, reason)
}

// apply 在一个事务内更新余额并记流水，余额不能为负
func (p *Postgres) apply(ctx context.Context, addr string, delta int64, reason string) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureBalanceSQL, addr, p.starting); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_balances
			SET balance = balance + $2, updated_at = now()
			WHERE address = $1 AND balance + $2 >= 0
		`, addr, delta)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientBalance
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (address, delta, reason) VALUES ($1, $2, $3)`,
			addr, delta, reason,
		); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetBalance(ctx context.Context, addr string) (int64, error) {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return 0, ErrInvalidAddress
	}
	var balance int64
	err := p.db.QueryRow(ctx, `SELECT balance FROM ledger_balances WHERE address = $1`, addr).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.starting, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}
