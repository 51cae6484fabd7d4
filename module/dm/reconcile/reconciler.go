package reconcile

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"DirectIM/logger"
	"DirectIM/module/dm/model"
	"DirectIM/module/dm/store"
)

// Applier 是下游会话索引的最小面；conv.Index 满足。
type Applier interface {
	Apply(*model.Message)
}

const (
	queueSize         = 1024
	bootstrapAttempts = 3
	bootstrapBackoff  = 300 * time.Millisecond
)

// Reconciler 把推送通道与轮询兜底合并成单条有序去重流。
//
// 两个生产者（推送 drain、轮询 tick）只 Enqueue，不碰共享状态；
// 唯一的 owner goroutine 串行消费队列并维护 Applied-Event Set，
// 因此去重集与索引的修改永远不会竞争。重复消息静默丢弃——两条
// 通道抢着投同一条消息是预期行为，不是错误，也不记失败日志。
type Reconciler struct {
	userID int64
	st     store.Store
	idx    Applier

	in       chan *model.Message
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	started   atomic.Bool
	applied   map[int64]struct{} // 会话期内单调增长，不持久化
	maxSeen   atomic.Int64       // 已应用的最大 id，轮询水位线的种子
	bootstrap atomic.Bool
}

func New(userID int64, st store.Store, idx Applier) *Reconciler {
	return &Reconciler{
		userID:  userID,
		st:      st,
		idx:     idx,
		in:      make(chan *model.Message, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		applied: make(map[int64]struct{}),
	}
}

// Enqueue 供两条通道投递候选消息；永不阻塞生产者，返回是否入队。
// 推送通道可以无视返回值——它丢掉的消息轮询会补；轮询自己是最后
// 一道通道，没人替它兜底，所以它必须按返回值扣住水位线重拉。
func (r *Reconciler) Enqueue(msg *model.Message) bool {
	if msg == nil {
		return true
	}
	select {
	case r.in <- msg:
		return true
	case <-r.stop:
		return false
	default:
		logger.Warnf("[reconcile] queue full for user %d, dropped id=%d", r.userID, msg.ID)
		return false
	}
}

// Bootstrap 会话引导：接收两条通道的实时事件之前，先做一次权威全量
// 拉取，把离线期间的消息灌进去重集与索引。之后实时通道重放重叠
// 区间时全部命中去重集，不会二次计数。
//
// 拉取失败按读路径策略做有界退避重试。
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	var (
		msgs []*model.Message
		err  error
	)
	backoff := bootstrapBackoff
	for i := 0; i < bootstrapAttempts; i++ {
		msgs, err = r.st.ListSince(ctx, r.userID, 0, 0, store.Desc)
		if err == nil {
			break
		}
		logger.Warnf("[reconcile] bootstrap sweep attempt %d for user %d: %v", i+1, r.userID, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return err
	}

	// 按对端分组，组内按 id 升序转发（跨对端无序无妨，排序键独立）
	byCp := make(map[int64][]*model.Message)
	for _, m := range msgs {
		byCp[m.Counterpart(r.userID)] = append(byCp[m.Counterpart(r.userID)], m)
	}
	for _, group := range byCp {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for _, m := range group {
			r.apply(m)
		}
	}
	r.bootstrap.Store(true)
	logger.Infof("[reconcile] bootstrap done for user %d: %d messages, watermark=%d",
		r.userID, len(msgs), r.maxSeen.Load())
	return nil
}

// Run 启动 owner goroutine；调用方负责先完成 Bootstrap。
func (r *Reconciler) Run() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.done)
		for {
			select {
			case m := <-r.in:
				r.apply(m)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop 幂等停机；返回前 owner goroutine 已退出。
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}

// Watermark 已应用的最大消息 id。
func (r *Reconciler) Watermark() int64 {
	return r.maxSeen.Load()
}

// apply 去重 + 恰好一次转发。只在 owner goroutine（及其之前的
// Bootstrap）里调用。
func (r *Reconciler) apply(m *model.Message) {
	if _, dup := r.applied[m.ID]; dup {
		return // 预期的重复投递，静默丢弃
	}
	r.applied[m.ID] = struct{}{}

	// 迟到的旧消息照常入账（未读/去重集）；
	// 索引侧的只进不退规则保证排序键不会回退
	if m.ID > r.maxSeen.Load() {
		r.maxSeen.Store(m.ID)
	}
	r.idx.Apply(m)
}
