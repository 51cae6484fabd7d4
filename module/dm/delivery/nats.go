package delivery

import (
	"context"
	"time"

	"DirectIM/service/natsx"
)

// NatsTransport 生产实现：Core 订阅 + PublishOnce，消费端幂等窗口
// 挡掉 NATS 层面的重复投递（reconcile 层的去重集仍是最终防线）。
type NatsTransport struct {
	client *natsx.Client
	idem   natsx.IdemStore
	window time.Duration
}

func NewNatsTransport(client *natsx.Client, idem natsx.IdemStore, window time.Duration) *NatsTransport {
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &NatsTransport{client: client, idem: idem, window: window}
}

func (t *NatsTransport) Publish(subject string, data []byte, msgID string) error {
	return t.client.PublishOnce(subject, data, nil, msgID)
}

func (t *NatsTransport) Subscribe(subject string, h func(data []byte)) (Canceler, error) {
	var mws []natsx.Middleware
	if t.idem != nil {
		mws = append(mws, natsx.IdemMiddleware(t.idem, t.window))
	}
	sub, err := t.client.Subscribe(subject, "", func(_ context.Context, m natsx.Message) error {
		h(m.Data)
		return nil
	}, mws...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
