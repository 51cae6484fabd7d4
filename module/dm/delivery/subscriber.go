package delivery

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"DirectIM/logger"
	"DirectIM/module/dm/model"
	"DirectIM/tools/errs"
)

const inboxBuffer = 256

// Handle 一次活跃订阅；会话独占持有，Close 幂等。
type Handle struct {
	once   sync.Once
	closed atomic.Bool
	cancel Canceler
}

// Close 立即停止向该订阅者派发；重复调用为 no-op。
func (h *Handle) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		if err := h.cancel.Unsubscribe(); err != nil {
			logger.Warnf("[delivery] unsubscribe: %v", err)
		}
	})
}

// Subscriber 把传输层的原始帧转成 *model.Message 流。
type Subscriber struct {
	tr Transport
}

func NewSubscriber(tr Transport) *Subscriber {
	return &Subscriber{tr: tr}
}

// Subscribe 为 userID 建立收件订阅。返回的 channel 不会被关闭——
// 订阅关闭后只是不再有新事件；消费方用自己的停止信号退出。
// 队列打满时丢弃该事件并记日志，缺口由轮询兜底补回。
func (s *Subscriber) Subscribe(userID int64) (<-chan *model.Message, *Handle, error) {
	ch := make(chan *model.Message, inboxBuffer)
	handle := &Handle{}
	cancel, err := s.tr.Subscribe(InboxSubject(userID), func(data []byte) {
		if handle.closed.Load() {
			return
		}
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Warnf("[delivery] bad frame on inbox %d: %v", userID, err)
			return
		}
		select {
		case ch <- &m:
		default:
			logger.Warnf("[delivery] inbox %d full, dropped id=%d (poll will recover)", userID, m.ID)
		}
	})
	if err != nil {
		return nil, nil, errs.ErrChannelDropped.WrapMsg(err, "subscribe inbox")
	}
	handle.cancel = cancel
	return ch, handle, nil
}
