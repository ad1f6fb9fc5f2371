// Package settlement 负责把一局的奖金（2 倍押注）恰好一次地打给获胜方。
//
// 终局时在同一临界区内写入 pending 记录；结算时先在房间锁内把 pending 改为 inflight
// （只有一个调用方能认领成功），锁外调用账本入账，再回到锁内标记 settled。
// 入账失败时记录改回 pending 并按指数退避重试，另有定时扫描兜底。
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.arena/internal/ledger"
	"sudooom.arena/internal/model"
	"sudooom.arena/internal/room"
	"sudooom.arena/internal/task"
)

// ErrCreditFailed 入账失败，已安排重试
var ErrCreditFailed = errors.New("settlement credit failed")

var errNothingToClaim = errors.New("nothing to claim")

// Open 在终局的同一次修改中登记待结算记录，同一局只登记一次。须在 Mutate 的 fn 内调用
func Open(r *model.Room, winner string) bool {
	if r.Settlement != nil && r.Settlement.GameNumber == r.GameNumber {
		return false
	}
	r.Settlement = &model.Settlement{
		GameNumber: r.GameNumber,
		Winner:     winner,
		Amount:     r.BetAmount * 2,
		Status:     model.SettlementPending,
	}
	return true
}

// Scheduler 延迟任务
type Scheduler interface {
	Schedule(id, target string, delay time.Duration, fn task.TaskFunc) error
}

// Config 结算配置
type Config struct {
	CreditTimeout time.Duration // 单次入账超时
	BaseBackoff   time.Duration // 首次重试延迟
	MaxBackoff    time.Duration // 重试延迟上限
	SweepInterval time.Duration // 扫描 pending 的间隔，0 表示不扫描
}

// Settler 结算器
type Settler struct {
	store     *room.Store
	ledger    ledger.Ledger
	scheduler Scheduler
	config    Config
	onChange  func(r *model.Room)
	now       func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewSettler 创建结算器，scheduler 可为 nil（不做延迟重试）
func NewSettler(store *room.Store, l ledger.Ledger, scheduler Scheduler, config Config) *Settler {
	if config.CreditTimeout <= 0 {
		config.CreditTimeout = 5 * time.Second
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = 5 * time.Minute
	}
	return &Settler{
		store:     store,
		ledger:    l,
		scheduler: scheduler,
		config:    config,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		logger:    slog.Default().With("component", "Settler"),
	}
}

// OnChange 结算状态变化后的回调（用于推送），在房间锁内按提交顺序调用，不得阻塞。须在启动前设置
func (s *Settler) OnChange(fn func(r *model.Room)) {
	s.onChange = fn
}

// Settle 结算房间当前局。没有待结算记录或已被其他调用方认领时直接返回当前快照
func (s *Settler) Settle(ctx context.Context, roomID string) (*model.Room, error) {
	var claimed model.Settlement
	_, err := s.store.Mutate(ctx, roomID, func(r *model.Room) error {
		if r.Settlement == nil || r.Settlement.Status != model.SettlementPending {
			return errNothingToClaim
		}
		r.Settlement.Status = model.SettlementInflight
		r.Settlement.Attempts++
		claimed = *r.Settlement
		return nil
	})
	if errors.Is(err, errNothingToClaim) {
		return s.store.Get(roomID)
	}
	if err != nil {
		return nil, err
	}

	creditCtx, cancel := context.WithTimeout(context.Background(), s.config.CreditTimeout)
	creditErr := s.ledger.Credit(creditCtx, claimed.Winner, claimed.Amount, Reason(roomID, claimed.GameNumber))
	cancel()

	if creditErr != nil {
		return s.fail(roomID, claimed, creditErr)
	}
	return s.complete(roomID, claimed)
}

// Reason 入账备注，带上房间与局号便于对账去重
func Reason(roomID string, gameNumber int) string {
	return fmt.Sprintf("arena room %s game #%d prize", roomID, gameNumber)
}

func (s *Settler) complete(roomID string, claimed model.Settlement) (*model.Room, error) {
	mark := func(ctx context.Context) (*model.Room, error) {
		return s.store.MutateWith(ctx, roomID, func(r *model.Room) error {
			if r.Settlement == nil || r.Settlement.GameNumber != claimed.GameNumber {
				return errNothingToClaim
			}
			at := s.now()
			r.Settlement.Status = model.SettlementSettled
			r.Settlement.SettledAt = &at
			r.Settlement.LastError = ""
			return nil
		}, s.notify)
	}

	updated, err := mark(context.Background())
	if err != nil {
		// 钱已入账，只差标记；不能改回 pending，否则会重复入账
		s.logger.Error("Credited but failed to mark settled",
			"roomId", roomID, "gameNumber", claimed.GameNumber, "error", err)
		if s.scheduler != nil && !errors.Is(err, errNothingToClaim) {
			_ = s.scheduler.Schedule("settle-mark:"+roomID, roomID, s.config.BaseBackoff,
				func(ctx context.Context, _ string) error {
					_, err := mark(ctx)
					return err
				})
		}
		return nil, err
	}

	s.logger.Info("Settlement completed",
		"roomId", roomID,
		"gameNumber", claimed.GameNumber,
		"winner", claimed.Winner,
		"amount", claimed.Amount,
		"attempts", claimed.Attempts)
	return updated, nil
}

func (s *Settler) fail(roomID string, claimed model.Settlement, cause error) (*model.Room, error) {
	s.logger.Warn("Settlement credit failed",
		"roomId", roomID,
		"gameNumber", claimed.GameNumber,
		"attempts", claimed.Attempts,
		"error", cause)

	updated, err := s.store.MutateWith(context.Background(), roomID, func(r *model.Room) error {
		if r.Settlement == nil || r.Settlement.GameNumber != claimed.GameNumber ||
			r.Settlement.Status != model.SettlementInflight {
			return errNothingToClaim
		}
		r.Settlement.Status = model.SettlementPending
		r.Settlement.LastError = cause.Error()
		return nil
	}, s.notify)
	if err != nil {
		s.logger.Error("Failed to release settlement claim", "roomId", roomID, "error", err)
	}

	s.scheduleRetry(roomID, claimed.Attempts)
	return updated, fmt.Errorf("%w: %v", ErrCreditFailed, cause)
}

// Backoff 第 attempts 次失败后的重试延迟
func (s *Settler) Backoff(attempts int) time.Duration {
	d := s.config.BaseBackoff
	for i := 1; i < attempts && d < s.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > s.config.MaxBackoff {
		d = s.config.MaxBackoff
	}
	return d
}

func (s *Settler) scheduleRetry(roomID string, attempts int) {
	if s.scheduler == nil {
		return
	}
	delay := s.Backoff(attempts)
	err := s.scheduler.Schedule("settle:"+roomID, roomID, delay, func(ctx context.Context, id string) error {
		_, err := s.Settle(ctx, id)
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to schedule settlement retry", "roomId", roomID, "error", err)
	}
}

func (s *Settler) notify(r *model.Room) {
	if s.onChange != nil {
		s.onChange(r)
	}
}

// Recover 启动时把遗留的 inflight 改回 pending。
// 进程在入账与标记之间退出时，这会导致一次重复入账
func (s *Settler) Recover(ctx context.Context) int {
	stale := s.store.List(func(r *model.Room) bool {
		return r.Settlement != nil && r.Settlement.Status == model.SettlementInflight
	})
	n := 0
	for _, r := range stale {
		_, err := s.store.Mutate(ctx, r.ID, func(r *model.Room) error {
			if r.Settlement == nil || r.Settlement.Status != model.SettlementInflight {
				return errNothingToClaim
			}
			r.Settlement.Status = model.SettlementPending
			return nil
		})
		if err == nil {
			n++
			s.logger.Warn("Released stale inflight settlement", "roomId", r.ID, "gameNumber", r.Settlement.GameNumber)
		}
	}
	return n
}

// Sweep 结算所有 pending 记录，返回成功数量
func (s *Settler) Sweep(ctx context.Context) int {
	pending := s.store.List(func(r *model.Room) bool {
		return r.Settlement != nil && r.Settlement.Status == model.SettlementPending
	})
	n := 0
	for _, r := range pending {
		if _, err := s.Settle(ctx, r.ID); err == nil {
			n++
		}
	}
	if len(pending) > 0 {
		s.logger.Info("Settlement sweep finished", "pending", len(pending), "settled", n)
	}
	return n
}

// Start 启动定时扫描
func (s *Settler) Start() {
	if s.config.SweepInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop 停止定时扫描
func (s *Settler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
