package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.arena/migrations"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	dsn := os.Getenv("ARENA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("跳过测试：未设置 ARENA_TEST_DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("跳过测试：无法连接 Postgres: %v", err)
	}

	ddl, err := migrations.FS.ReadFile("000002_create_ledger.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(ddl))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "TRUNCATE ledger_balances, ledger_entries")
	require.NoError(t, err)
	return pool
}

func TestPostgres_DebitCredit(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	p := NewPostgres(pool, 100)
	ctx := context.Background()

	b, err := p.GetBalance(ctx, "0xnew")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b)

	require.NoError(t, p.Debit(ctx, "0xA", 60, "stake"))
	assert.ErrorIs(t, p.Debit(ctx, "0xa", 41, "stake"), ErrInsufficientBalance)
	require.NoError(t, p.Credit(ctx, "0xa", 120, "prize"))

	b, err = p.GetBalance(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, int64(160), b)

	var entries int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM ledger_entries WHERE address = '0xa'`).Scan(&entries))
	assert.Equal(t, 2, entries)
}
