package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"DirectIM/module/dm/model"
	"DirectIM/module/dm/store"
)

type sinkRec struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (s *sinkRec) add(m *model.Message) bool {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	return true
}

func (s *sinkRec) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
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

func TestTickDrainsBacklogAndAdvancesWatermark(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now().UTC()
	st.Seed(&model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a", CreatedAt: now})
	st.Seed(&model.Message{ID: 2, SenderID: 2, ReceiverID: 1, Content: "b", CreatedAt: now.Add(time.Millisecond)})

	sink := &sinkRec{}
	p := New(1, st, sink.add, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool { return sink.count() == 2 }, "backlog drained")
	waitFor(t, func() bool { return p.watermark.Load() == 2 }, "watermark advanced")

	// 水位线之上没有新消息:后续 tick 不得重复入账
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 2 {
		t.Fatalf("poller re-delivered below watermark: %d sinks", sink.count())
	}

	st.Seed(&model.Message{ID: 3, SenderID: 2, ReceiverID: 1, Content: "c", CreatedAt: now.Add(time.Second)})
	waitFor(t, func() bool { return sink.count() == 3 }, "incremental pickup")
}

func TestSetWatermarkNeverRegresses(t *testing.T) {
	p := New(1, store.NewMemStore(), func(*model.Message) bool { return true }, time.Hour)
	p.SetWatermark(10)
	p.SetWatermark(5)
	if got := p.watermark.Load(); got != 10 {
		t.Fatalf("watermark regressed to %d", got)
	}
	p.SetWatermark(20)
	if got := p.watermark.Load(); got != 20 {
		t.Fatalf("watermark should advance to 20, got %d", got)
	}
}

func TestFailedTickRetriesNextCycle(t *testing.T) {
	st := store.NewMemStore()
	st.Seed(&model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a", CreatedAt: time.Now()})
	flaky := &failNStore{Store: st, failures: 3}

	sink := &sinkRec{}
	p := New(1, flaky, sink.add, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	// 前几个周期失败,之后照常补上;失败不上抛也不终止轮询
	waitFor(t, func() bool { return sink.count() == 1 }, "recovery after failed ticks")
}

func TestRejectedSinkHoldsWatermark(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now().UTC()
	st.Seed(&model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a", CreatedAt: now})
	st.Seed(&model.Message{ID: 2, SenderID: 2, ReceiverID: 1, Content: "b", CreatedAt: now.Add(time.Millisecond)})
	st.Seed(&model.Message{ID: 3, SenderID: 2, ReceiverID: 1, Content: "c", CreatedAt: now.Add(2*time.Millisecond)})

	// 第一条收下,第二条拒收一次(下游队列满),之后全收
	var mu sync.Mutex
	var got []int64
	rejected := false
	sink := func(m *model.Message) bool {
		mu.Lock()
		defer mu.Unlock()
		if m.ID == 2 && !rejected {
			rejected = true
			return false
		}
		got = append(got, m.ID)
		return true
	}

	p := New(1, st, sink, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	// 拒收的那条以及其后的消息必须在后续周期重拉,不得跳过
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, "redelivery after rejection")

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []int64{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("apply order %v, want [1 2 3]", got)
		}
	}
	if p.watermark.Load() != 3 {
		t.Fatalf("watermark %d, want 3", p.watermark.Load())
	}
}

func TestStopIdempotent(t *testing.T) {
	p := New(1, store.NewMemStore(), func(*model.Message) bool { return true }, 10*time.Millisecond)
	p.Start()
	p.Stop()
	p.Stop()

	// 未启动的 poller 停机同样安全
	p2 := New(1, store.NewMemStore(), func(*model.Message) bool { return true }, time.Hour)
	p2.Stop()
}

type failNStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (f *failNStore) ListSince(ctx context.Context, userID, counterpartID, afterID int64, order store.Order) ([]*model.Message, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, context.DeadlineExceeded
	}
	f.mu.Unlock()
	return f.Store.ListSince(ctx, userID, counterpartID, afterID, order)
}
