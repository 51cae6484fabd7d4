package natsx

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publish 直接按 subject 发送。
func (c *Client) Publish(subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishOnce 带 Nats-Msg-Id 的发布；消费端幂等中间件按该 id 去重。
// msgID 为空则自动生成。
func (c *Client) PublishOnce(subject string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	hdr["Nats-Msg-Id"] = msgID
	return c.Publish(subject, data, hdr)
}
