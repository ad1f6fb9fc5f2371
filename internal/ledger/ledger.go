// Package ledger 封装外部积分账本（shells）的扣款、入账与余额查询
package ledger

import (
	"context"
	"errors"
	"strings"
)

// DefaultStartingBalance 新地址的初始余额
const DefaultStartingBalance int64 = 1000

var (
	// ErrInsufficientBalance 余额不足
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount 金额必须为正
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidAddress 地址为空
	ErrInvalidAddress = errors.New("address is empty")
)

// Ledger 积分账本
type Ledger interface {
	Debit(ctx context.Context, addr string, amount int64, reason string) error
	Credit(ctx context.Context, addr string, amount int64, reason string) error
	GetBalance(ctx context.Context, addr string) (int64, error)
}

// NormalizeAddress 钱包地址不区分大小写
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func validate(addr string, amount int64) (string, error) {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return "", ErrInvalidAddress
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	return addr, nil
}
