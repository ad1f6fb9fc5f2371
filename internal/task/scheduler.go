package task

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrSchedulerRunning    = errors.New("scheduler already running")
	ErrSchedulerNotRunning = errors.New("scheduler not running")
	ErrInvalidTask         = errors.New("task and task id must not be empty")
)

// Scheduler 任务调度器
type Scheduler struct {
	wheel      *TimeWheel
	workerPool *WorkerPool

	stopChan chan struct{}
	wg       sync.WaitGroup

	runningMu sync.RWMutex
	running   bool

	logger *slog.Logger
}

// NewScheduler 创建任务调度器
func NewScheduler(tick time.Duration, workerCount int) *Scheduler {
	return &Scheduler{
		wheel:      NewTimeWheel(tick),
		workerPool: NewWorkerPool(workerCount),
		logger:     slog.Default().With("component", "TaskScheduler"),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.workerPool.Start()
	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("Task scheduler started", "tick", s.wheel.Tick())
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			for _, task := range s.wheel.Advance() {
				s.workerPool.Submit(task)
			}
		}
	}
}

// Stop 停止调度器，停止后不可再次启动
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.runningMu.Unlock()

	s.wg.Wait()
	s.workerPool.Stop()
	s.logger.Info("Task scheduler stopped")
}

// AddTask 添加任务，同 ID 任务会被重新调度
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return ErrSchedulerNotRunning
	}
	if task == nil || task.ID == "" {
		return ErrInvalidTask
	}
	s.wheel.AddTask(task)
	return nil
}

// Schedule AddTask 的简写
func (s *Scheduler) Schedule(id, target string, delay time.Duration, fn TaskFunc) error {
	return s.AddTask(NewTask(id, target, delay, fn))
}

// RemoveTask 删除任务，任务不存在时返回 false
func (s *Scheduler) RemoveTask(taskID string) bool {
	return s.wheel.RemoveTask(taskID)
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Stats 统计信息
func (s *Scheduler) Stats() map[string]any {
	return map[string]any{
		"running":        s.IsRunning(),
		"currentSlot":    s.wheel.CurrentSlot(),
		"totalTaskCount": s.wheel.TotalTaskCount(),
		"workerCount":    s.workerPool.workerCount,
	}
}
