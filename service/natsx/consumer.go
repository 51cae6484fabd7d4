package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Subscription 订阅句柄；Unsubscribe 可重复调用。
type Subscription struct {
	c   *Client
	sub *nats.Subscription
}

func (s *Subscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	if s.c != nil {
		s.c.untrack(s.sub)
	}
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Subscribe Core 订阅；queue 非空时同组分摊。
func (c *Client) Subscribe(subject, queue string, h Handler, mws ...Middleware) (*Subscription, error) {
	h = Chain(h, mws...)
	cb := func(m *nats.Msg) {
		_ = h(context.Background(), Message{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return nil, err
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.track(sub)
	return &Subscription{c: c, sub: sub}, nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
