// Package task 基于时间轮的延迟任务：结算重试、再来一局请求过期、拒绝通知清除
package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数，target 一般为房间 ID
type TaskFunc func(ctx context.Context, target string) error

// Task 任务定义
type Task struct {
	ID        string        // 任务唯一ID，重复添加时覆盖旧任务
	Target    string        // 操作对象标识
	Delay     time.Duration // 延迟
	Fn        TaskFunc      // 执行函数
	CreatedAt time.Time

	rounds int // 剩余整圈数，由时间轮维护
}

// NewTask 创建新任务
func NewTask(id, target string, delay time.Duration, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
