package delivery

import (
	"strconv"
	"sync"
)

// InboxSubject 每个用户一个收件主题。
func InboxSubject(userID int64) string {
	return "dm.inbox." + strconv.FormatInt(userID, 10)
}

// Canceler 订阅取消句柄。
type Canceler interface {
	Unsubscribe() error
}

// Transport 推送通道的底层抽象：NATS 为生产实现，Loopback 供单测。
// 投递语义 at-least-once，不保证活性——订阅者不能把 "没消息" 当成
// "没有新消息"，这正是轮询兜底存在的原因。
type Transport interface {
	Publish(subject string, data []byte, msgID string) error
	Subscribe(subject string, h func(data []byte)) (Canceler, error)
}

// ----- 进程内回环实现 -----

// Loopback 把 Publish 同步分发给当前订阅者；无订阅者时消息即丢
// （与真实推送通道的静默丢失语义一致）。
type Loopback struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string]map[int]func([]byte))}
}

func (l *Loopback) Publish(subject string, data []byte, _ string) error {
	l.mu.RLock()
	hs := make([]func([]byte), 0, len(l.subs[subject]))
	for _, h := range l.subs[subject] {
		hs = append(hs, h)
	}
	l.mu.RUnlock()
	for _, h := range hs {
		h(append([]byte(nil), data...))
	}
	return nil
}

func (l *Loopback) Subscribe(subject string, h func(data []byte)) (Canceler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs[subject] == nil {
		l.subs[subject] = make(map[int]func([]byte))
	}
	id := l.nextID
	l.nextID++
	l.subs[subject][id] = h
	return &loopCancel{l: l, subject: subject, id: id}, nil
}

type loopCancel struct {
	l       *Loopback
	subject string
	id      int
	once    sync.Once
}

func (c *loopCancel) Unsubscribe() error {
	c.once.Do(func() {
		c.l.mu.Lock()
		delete(c.l.subs[c.subject], c.id)
		c.l.mu.Unlock()
	})
	return nil
}
