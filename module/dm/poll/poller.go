package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"DirectIM/logger"
	"DirectIM/module/dm/model"
	"DirectIM/module/dm/store"
)

// DefaultInterval 轮询周期的设计默认值。
const DefaultInterval = 3 * time.Second

// Poller 定时用 id 水位线增量拉取消息库，与推送通道汇入同一条
// 入账路径。推送健康时这里几乎总是拉到空；推送静默断掉时它保证
// 最终一致。两者是对等通道，不是主备。
type Poller struct {
	userID   int64
	st       store.Store
	sink     func(*model.Message) bool
	interval time.Duration

	watermark atomic.Int64 // 最后入账的消息 id，只进不退
	active    atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
}

func New(userID int64, st store.Store, sink func(*model.Message) bool, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		userID:   userID,
		st:       st,
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetWatermark 用引导拉取的结果设定起始水位，避免重扫全量历史。
func (p *Poller) SetWatermark(id int64) {
	for {
		cur := p.watermark.Load()
		if id <= cur || p.watermark.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Start 启动定时任务；重复调用为 no-op。
func (p *Poller) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.active.Store(true)
	go func() {
		defer close(p.done)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				p.tick()
			}
		}
	}()
}

// Stop 停止定时器。在途的 tick 会被放弃：其结果在入账前检查
// active 标志，停机后直接丢弃。
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.active.Store(false)
		close(p.stop)
	})
	if p.started.Load() {
		<-p.done
	}
}

// tick 一次独立的拉取-入账循环。失败只记日志，下个周期重来；
// 慢/失败的 tick 等价于本周期零新消息，绝不上抛、绝不阻塞后续。
func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	wm := p.watermark.Load()
	msgs, err := p.st.ListSince(ctx, p.userID, 0, wm, store.Asc)
	if err != nil {
		logger.Warnf("[poll] tick for user %d failed (watermark=%d): %v", p.userID, wm, err)
		return
	}
	if !p.active.Load() {
		return // 停机窗口内完成的 tick，结果作废
	}
	for _, m := range msgs {
		if !p.sink(m) {
			// 下游没收下，水位线停在最后一条被收下的消息上，
			// 这条及其后的消息下个周期重拉
			logger.Warnf("[poll] sink rejected id=%d for user %d, watermark held at %d", m.ID, p.userID, wm)
			break
		}
		if m.ID > wm {
			wm = m.ID
		}
	}
	p.SetWatermark(wm)
}
