package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// Entry 一条流水
type Entry struct {
	Address string
	Delta   int64
	Reason  string
}

// Memory 进程内账本，用于单机部署与测试
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []Entry
	starting int64
	logger   *slog.Logger
}

// NewMemory 创建内存账本，新地址以 starting 为初始余额
func NewMemory(starting int64) *Memory {
	return &Memory{
		balances: make(map[string]int64),
		starting: starting,
		logger:   slog.Default().With("component", "MemoryLedger"),
	}
}

func (m *Memory) balanceLocked(addr string) int64 {
	b, ok := m.balances[addr]
	if !ok {
		b = m.starting
		m.balances[addr] = b
	}
	return b
}

func (m *Memory) Debit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(addr)
	if b < amount {
		return ErrInsufficientBalance
	}
	m.balances[addr] = b - amount
	m.entries = append(m.entries, Entry{Address: addr, Delta: -amount, Reason: reason})
	m.logger.Debug("Debited", "address", addr, "amount", amount, "reason", reason, "balance", b-amount)
	return nil
}

func (m *Memory) Credit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(addr) + amount
	m.balances[addr] = b
	m.entries = append(m.entries, Entry{Address: addr, Delta: amount, Reason: reason})
	m.logger.Debug("Credited", "address", addr, "amount", amount, "reason", reason, "balance", b)
	return nil
}

func (m *Memory) GetBalance(ctx context.Context, addr string) (int64, error) {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return 0, ErrInvalidAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(addr), nil
}

// Set 直接设置余额
func (m *Memory) Set(addr string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[NormalizeAddress(addr)] = balance
}

// Entries 返回流水副本
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
