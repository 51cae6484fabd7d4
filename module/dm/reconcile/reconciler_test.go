package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"DirectIM/module/dm/conv"
	"DirectIM/module/dm/model"
	"DirectIM/module/dm/store"
)

// recorder 线程安全地记录转发到索引层的消息。
type recorder struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (r *recorder) Apply(m *model.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.ID
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func seeded(t *testing.T, msgs ...*model.Message) *store.MemStore {
	t.Helper()
	st := store.NewMemStore()
	now := time.Now().UTC()
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
		st.Seed(m)
	}
	return st
}

func TestDuplicateEnqueueAppliedOnce(t *testing.T) {
	rec := &recorder{}
	r := New(1, store.NewMemStore(), rec)
	r.Run()
	defer r.Stop()

	m := &model.Message{ID: 5, SenderID: 2, ReceiverID: 1, Content: "x", CreatedAt: time.Now()}
	r.Enqueue(m)
	r.Enqueue(m.Clone()) // 推送通道重投
	r.Enqueue(m.Clone()) // 轮询再投一次

	waitFor(t, func() bool { return rec.count() >= 1 }, "first apply")
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("duplicate delivery leaked through: applied %d times", n)
	}
	if r.Watermark() != 5 {
		t.Fatalf("watermark: expected 5, got %d", r.Watermark())
	}
}

func TestBootstrapHydratesAndDedupesReplay(t *testing.T) {
	st := seeded(t,
		&model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a"},
		&model.Message{ID: 2, SenderID: 2, ReceiverID: 1, Content: "b"},
		&model.Message{ID: 3, SenderID: 1, ReceiverID: 2, Content: "mine"},
		&model.Message{ID: 4, SenderID: 3, ReceiverID: 1, Content: "c"},
		&model.Message{ID: 5, SenderID: 2, ReceiverID: 1, Content: "d"},
	)
	idx := conv.NewIndex(1, nil, nil, nil)
	r := New(1, st, idx)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Watermark() != 5 {
		t.Fatalf("watermark after bootstrap: expected 5, got %d", r.Watermark())
	}

	rows := idx.Snapshot()
	if len(rows) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(rows))
	}
	for _, row := range rows {
		switch row.CounterpartID {
		case 2:
			if row.UnreadCount != 3 {
				t.Fatalf("counterpart 2: expected 3 unread, got %d", row.UnreadCount)
			}
			if row.LastMessagePreview != "d" {
				t.Fatalf("counterpart 2: preview %q", row.LastMessagePreview)
			}
		case 3:
			if row.UnreadCount != 1 {
				t.Fatalf("counterpart 3: expected 1 unread, got %d", row.UnreadCount)
			}
		default:
			t.Fatalf("unexpected counterpart %d", row.CounterpartID)
		}
	}

	// 实时通道重放引导已覆盖的区间:全部命中去重集,未读不二次计数
	r.Run()
	defer r.Stop()
	v := idx.Version()
	for id := int64(1); id <= 5; id++ {
		r.Enqueue(&model.Message{ID: id, SenderID: 2, ReceiverID: 1, Content: "replay"})
	}
	time.Sleep(100 * time.Millisecond)
	if idx.Version() != v {
		t.Fatalf("replayed duplicates mutated the index")
	}
}

func TestBootstrapRetriesTransientFailure(t *testing.T) {
	st := seeded(t, &model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a"})
	flaky := &flakyStore{Store: st, failures: 2}
	rec := &recorder{}
	r := New(1, flaky, rec)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap should survive transient failures: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 applied message, got %d", rec.count())
	}
}

func TestOutOfOrderAcrossCounterparts(t *testing.T) {
	rec := &recorder{}
	r := New(1, store.NewMemStore(), rec)
	r.Run()
	defer r.Stop()

	// 跨对端乱序到达:来者不拒,去重集按 id 全局判重
	for _, id := range []int64{30, 10, 20, 10, 30} {
		r.Enqueue(&model.Message{ID: id, SenderID: 2, ReceiverID: 1, Content: "m", CreatedAt: time.Now()})
	}
	waitFor(t, func() bool { return rec.count() >= 3 }, "three unique applies")
	time.Sleep(50 * time.Millisecond)
	if got := rec.ids(); len(got) != 3 {
		t.Fatalf("expected 3 unique messages, got %v", got)
	}
	if r.Watermark() != 30 {
		t.Fatalf("watermark: expected 30, got %d", r.Watermark())
	}
}

func TestEnqueueReportsBackpressure(t *testing.T) {
	// 不启动 owner,队列只进不出
	rec := &recorder{}
	r := New(1, store.NewMemStore(), rec)

	for i := 0; i < queueSize; i++ {
		m := &model.Message{ID: int64(i + 1), SenderID: 2, ReceiverID: 1, Content: "m", CreatedAt: time.Now()}
		if !r.Enqueue(m) {
			t.Fatalf("enqueue %d rejected before capacity", i+1)
		}
	}
	// 队列满:必须如实报拒,轮询端靠这个返回值扣住水位线
	overflow := &model.Message{ID: 9000, SenderID: 2, ReceiverID: 1, Content: "m", CreatedAt: time.Now()}
	if r.Enqueue(overflow) {
		t.Fatal("full queue must reject, not silently accept")
	}

	// 排干后恢复接收
	r.Run()
	defer r.Stop()
	waitFor(t, func() bool { return rec.count() == queueSize }, "queue drained")
	if !r.Enqueue(overflow) {
		t.Fatal("drained queue must accept again")
	}
	waitFor(t, func() bool { return rec.count() == queueSize+1 }, "overflow message applied")
}

func TestStopBeforeRun(t *testing.T) {
	r := New(1, store.NewMemStore(), &recorder{})
	r.Stop() // 引导失败路径:Run 从未启动,Stop 不得挂起
	r.Stop()
}

// flakyStore 前 failures 次读失败,之后透传。
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) ListSince(ctx context.Context, userID, counterpartID, afterID int64, order store.Order) ([]*model.Message, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errTransient
	}
	f.mu.Unlock()
	return f.Store.ListSince(ctx, userID, counterpartID, afterID, order)
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "transient store failure" }
