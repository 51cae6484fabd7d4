package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"DirectIM/module/dm/model"
	"DirectIM/tools/ids"
)

// MemStore 内存实现：语义与 Mongo 版一致，供单测与单机演示使用。
type MemStore struct {
	mu   sync.RWMutex
	msgs []*model.Message // 按插入序（即 id 序）追加
	byID map[int64]*model.Message
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[int64]*model.Message)}
}

func (s *MemStore) Send(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error) {
	if err := ValidateSend(senderID, receiverID, content); err != nil {
		return nil, err
	}
	msg := &model.Message{
		ID:         ids.Generate(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.byID[msg.ID] = msg
	s.mu.Unlock()
	return msg.Clone(), nil
}

func (s *MemStore) ListSince(ctx context.Context, userID, counterpartID, afterID int64, order Order) ([]*model.Message, error) {
	s.mu.RLock()
	out := make([]*model.Message, 0, 16)
	for _, m := range s.msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		if counterpartID > 0 && m.Counterpart(userID) != counterpartID {
			continue
		}
		if afterID > 0 && m.ID <= afterID {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()
	if order == Desc {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	return out, nil
}

func (s *MemStore) MarkRead(ctx context.Context, userID, counterpartID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ReceiverID == userID && m.SenderID == counterpartID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

// Seed 预置一条消息（测试用，id/时间由调用方指定）。
func (s *MemStore) Seed(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := msg.Clone()
	s.msgs = append(s.msgs, cp)
	s.byID[cp.ID] = cp
	sort.Slice(s.msgs, func(i, j int) bool { return s.msgs[i].ID < s.msgs[j].ID })
}
