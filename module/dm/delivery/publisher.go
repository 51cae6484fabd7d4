package delivery

import (
	"encoding/json"
	"fmt"

	"DirectIM/module/dm/model"
)

// Publisher 在消息成功落库后发布事件。
type Publisher struct {
	tr Transport
}

func NewPublisher(tr Transport) *Publisher {
	return &Publisher{tr: tr}
}

// Publish 双投：收件方拿到新消息，发送方的其它在线端同步会话列表。
// msgID 按 (消息, 目标用户) 区分，避免共享幂等窗口把第二投当重复。
// 发布失败不致命——消息已落库，订阅方下个轮询周期会补到。
func (p *Publisher) Publish(msg *model.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for _, target := range []int64{msg.ReceiverID, msg.SenderID} {
		id := fmt.Sprintf("%d:%d", msg.ID, target)
		if err := p.tr.Publish(InboxSubject(target), b, id); err != nil {
			return err
		}
	}
	return nil
}
