package task

import (
	"sync"
	"time"
)

// SlotCount 时间轮槽位数量
const SlotCount = 60

// TimeWheel 单层时间轮，超过一圈的延迟用圈数表示
type TimeWheel struct {
	slots [SlotCount]*Slot
	tick  time.Duration

	mu          sync.Mutex
	currentSlot int
	index       map[string]int // taskID -> 槽位
}

// NewTimeWheel 创建时间轮，tick 为每格时长
func NewTimeWheel(tick time.Duration) *TimeWheel {
	if tick <= 0 {
		tick = time.Second
	}
	tw := &TimeWheel{
		tick:  tick,
		index: make(map[string]int),
	}
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// Tick 每格时长
func (tw *TimeWheel) Tick() time.Duration { return tw.tick }

// AddTask 添加任务，同 ID 的旧任务被替换
func (tw *TimeWheel) AddTask(task *Task) {
	ticks := int((task.Delay + tw.tick - 1) / tw.tick)
	if ticks < 1 {
		ticks = 1
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if old, ok := tw.index[task.ID]; ok {
		tw.slots[old].RemoveTask(task.ID)
	}
	target := (tw.currentSlot + ticks) % SlotCount
	task.rounds = (ticks - 1) / SlotCount
	tw.slots[target].AddTask(task)
	tw.index[task.ID] = target
}

// RemoveTask 删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	slot, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[slot].RemoveTask(taskID)
}

// Advance 推进一格，返回到期任务
func (tw *TimeWheel) Advance() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	due := tw.slots[tw.currentSlot].Expire()
	for _, task := range due {
		delete(tw.index, task.ID)
	}
	return due
}

// CurrentSlot 当前槽位索引
func (tw *TimeWheel) CurrentSlot() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.currentSlot
}

// TotalTaskCount 所有槽位的任务总数
func (tw *TimeWheel) TotalTaskCount() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}
