package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP 调用门户的 shells 接口
//
//	GET  {base}?address=0x..                     -> {"success":true,"balance":1000}
//	POST {base} {"address","amount","operation":"add|subtract","reason"}
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP 创建 HTTP 账本，timeout 为单次请求上限
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	return &HTTP{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type shellsRequest struct {
	Address   string `json:"address"`
	Amount    int64  `json:"amount"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

type shellsResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	Error   string `json:"error"`
}

func (h *HTTP) Debit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	return h.post(ctx, shellsRequest{Address: addr, Amount: amount, Operation: "subtract", Reason: reason})
}

func (h *HTTP) Credit(ctx context.Context, addr string, amount int64, reason string) error {
	addr, err := validate(addr, amount)
	if err != nil {
		return err
	}
	return h.post(ctx, shellsRequest{Address: addr, Amount: amount, Operation: "add", Reason: reason})
}

func (h *HTTP) GetBalance(ctx context.Context, addr string) (int64, error) {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return 0, ErrInvalidAddress
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?address="+url.QueryEscape(addr), nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.do(req)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (h *HTTP) post(ctx context.Context, body shellsRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = h.do(req)
	return err
}

func (h *HTTP) do(req *http.Request) (*shellsResponse, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("ledger response: %w", err)
	}
	var out shellsResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode ledger response (status %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 300 {
		if strings.Contains(strings.ToLower(out.Error), "insufficient") {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("ledger status %d: %s", resp.StatusCode, out.Error)
	}
	return &out, nil
}
