package store

import (
	"context"
	"testing"
	"time"

	"DirectIM/module/dm/model"
	"DirectIM/tools/errs"
)

func TestSendValidation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	cases := []struct {
		name     string
		sender   int64
		receiver int64
		content  string
	}{
		{"empty content", 1, 2, ""},
		{"whitespace content", 1, 2, "   "},
		{"self message", 1, 1, "hi"},
		{"zero sender", 0, 2, "hi"},
		{"negative receiver", 1, -3, "hi"},
	}
	for _, c := range cases {
		_, err := s.Send(ctx, c.sender, c.receiver, c.content)
		if err == nil {
			t.Fatalf("%s: expected error, got nil", c.name)
		}
		if errs.Code(err) != errs.CodeValidation {
			t.Fatalf("%s: expected code %d, got %d (%v)", c.name, errs.CodeValidation, errs.Code(err), err)
		}
	}

	msgs, _ := s.ListSince(ctx, 1, 0, 0, Asc)
	if len(msgs) != 0 {
		t.Fatalf("rejected sends must not persist, found %d messages", len(msgs))
	}
}

func TestSendAssignsMonotonicIDs(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		m, err := s.Send(ctx, 1, 2, "hello")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if m.ID <= last {
			t.Fatalf("id not monotonic: %d after %d", m.ID, last)
		}
		if m.CreatedAt.IsZero() {
			t.Fatalf("created_at not assigned")
		}
		if m.Read {
			t.Fatalf("new message must start unread")
		}
		last = m.ID
	}
}

func TestListSinceWatermarkAndOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Now().UTC()

	// 1<->2 三条，1<->3 一条
	for i, m := range []*model.Message{
		{ID: 100, SenderID: 2, ReceiverID: 1, Content: "a"},
		{ID: 200, SenderID: 1, ReceiverID: 2, Content: "b"},
		{ID: 300, SenderID: 2, ReceiverID: 1, Content: "c"},
		{ID: 400, SenderID: 3, ReceiverID: 1, Content: "d"},
	} {
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		s.Seed(m)
	}

	all, err := s.ListSince(ctx, 1, 0, 0, Asc)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages for user 1, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("asc order violated at %d", i)
		}
	}

	desc, _ := s.ListSince(ctx, 1, 0, 0, Desc)
	if desc[0].ID != 400 {
		t.Fatalf("desc order: expected head 400, got %d", desc[0].ID)
	}

	pair, _ := s.ListSince(ctx, 1, 2, 0, Asc)
	if len(pair) != 3 {
		t.Fatalf("counterpart filter: expected 3, got %d", len(pair))
	}

	after, _ := s.ListSince(ctx, 1, 0, 200, Asc)
	if len(after) != 2 || after[0].ID != 300 {
		t.Fatalf("watermark filter: expected [300 400], got %v", idsOf(after))
	}

	// 不相关用户看不到
	other, _ := s.ListSince(ctx, 9, 0, 0, Asc)
	if len(other) != 0 {
		t.Fatalf("user 9 must see nothing, got %d", len(other))
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	s.Seed(&model.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "x", CreatedAt: time.Now()})
	s.Seed(&model.Message{ID: 2, SenderID: 2, ReceiverID: 1, Content: "y", CreatedAt: time.Now()})
	s.Seed(&model.Message{ID: 3, SenderID: 1, ReceiverID: 2, Content: "z", CreatedAt: time.Now()})

	n, err := s.MarkRead(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("first mark read: expected 2, got %d", n)
	}

	// 幂等:第二次没有可置位的行
	n, err = s.MarkRead(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second mark read: expected 0, got %d", n)
	}

	// 只影响收件方向
	msgs, _ := s.ListSince(ctx, 2, 1, 0, Asc)
	for _, m := range msgs {
		if m.ID == 3 && m.Read {
			t.Fatalf("outbound message must stay unread for receiver 2")
		}
	}
}

func idsOf(msgs []*model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
