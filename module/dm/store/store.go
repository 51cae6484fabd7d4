package store

import (
	"context"
	"strings"

	"DirectIM/module/dm/model"
	"DirectIM/tools/errs"
)

// Order 控制 ListSince 的排序方向（按 id，等价于按 created_at）。
type Order int

const (
	Asc Order = iota
	Desc
)

// AuditFunc 在消息成功落库后被调用（fire-and-forget，失败不影响发送）。
type AuditFunc func(*model.Message)

// Store 是 DM 核心消费的消息库契约。
//
// Send 校验失败返回 ErrValidation（不发起任何 I/O），传输失败返回
// ErrStoreUnavailable；成功返回带服务端 id / created_at 的完整消息。
//
// ListSince 返回 userID 参与的消息；counterpartID > 0 时限定对端；
// afterID > 0 时只取 id 大于水位线的部分。
//
// MarkRead 把 receiver=userID, sender=counterpartID 的未读消息全部置读，
// 返回本次置位条数；幂等，连续两次第二次返回 0。
type Store interface {
	Send(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error)
	ListSince(ctx context.Context, userID, counterpartID, afterID int64, order Order) ([]*model.Message, error)
	MarkRead(ctx context.Context, userID, counterpartID int64) (int64, error)
}

// ValidateSend 本地校验：空内容与自发自收直接拒绝。
func ValidateSend(senderID, receiverID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return errs.ErrValidation.WithDetail("empty content")
	}
	if senderID == receiverID {
		return errs.ErrValidation.WithDetail("self message rejected")
	}
	if senderID <= 0 || receiverID <= 0 {
		return errs.ErrValidation.WithDetail("invalid user id")
	}
	return nil
}
