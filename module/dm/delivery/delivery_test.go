package delivery

import (
	"testing"
	"time"

	"DirectIM/module/dm/model"
)

func recvOrTimeout(t *testing.T, ch <-chan *model.Message) *model.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message within deadline")
		return nil
	}
}

func TestPublishDualDelivery(t *testing.T) {
	tr := NewLoopback()
	sub := NewSubscriber(tr)
	pub := NewPublisher(tr)

	aliceCh, aliceH, err := sub.Subscribe(1)
	if err != nil {
		t.Fatal(err)
	}
	defer aliceH.Close()
	bobCh, bobH, err := sub.Subscribe(2)
	if err != nil {
		t.Fatal(err)
	}
	defer bobH.Close()

	msg := &model.Message{ID: 7, SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: time.Now().UTC()}
	if err := pub.Publish(msg); err != nil {
		t.Fatal(err)
	}

	// 收件方与发送方的收件主题各到一份
	got := recvOrTimeout(t, bobCh)
	if got.ID != 7 || got.Content != "hi" {
		t.Fatalf("receiver frame mismatch: %+v", got)
	}
	echo := recvOrTimeout(t, aliceCh)
	if echo.ID != 7 {
		t.Fatalf("sender echo mismatch: %+v", echo)
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	tr := NewLoopback()
	sub := NewSubscriber(tr)
	pub := NewPublisher(tr)

	ch, h, err := sub.Subscribe(2)
	if err != nil {
		t.Fatal(err)
	}
	h.Close()
	h.Close() // 二次关闭为 no-op

	if err := pub.Publish(&model.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "late"}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-ch:
		t.Fatalf("closed handle must not deliver, got id=%d", m.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBadFrameIgnored(t *testing.T) {
	tr := NewLoopback()
	sub := NewSubscriber(tr)
	pub := NewPublisher(tr)

	ch, h, err := sub.Subscribe(2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := tr.Publish(InboxSubject(2), []byte("not json"), "junk"); err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(&model.Message{ID: 9, SenderID: 1, ReceiverID: 2, Content: "ok"}); err != nil {
		t.Fatal(err)
	}
	got := recvOrTimeout(t, ch)
	if got.ID != 9 {
		t.Fatalf("expected id 9 after garbage frame, got %d", got.ID)
	}
}

func TestInboxSubject(t *testing.T) {
	if s := InboxSubject(42); s != "dm.inbox.42" {
		t.Fatalf("unexpected subject %q", s)
	}
}
