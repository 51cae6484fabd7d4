package model

import "time"

// Message 单聊消息。除 Read 外落库后不可变；Read 只会由 false 翻成
// true（接收方打开会话时批量置位），不会翻回。
// ID 为服务端分配的雪花ID，单调递增，可直接作为增量拉取的水位线。
type Message struct {
	ID         int64     `bson:"_id" json:"id"`
	SenderID   int64     `bson:"sender_id" json:"sender_id"`
	ReceiverID int64     `bson:"receiver_id" json:"receiver_id"`
	Content    string    `bson:"content" json:"content"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	Read       bool      `bson:"read" json:"read"`
}

// Counterpart 以 userID 的视角返回对端用户。
func (m *Message) Counterpart(userID int64) int64 {
	if m.ReceiverID == userID {
		return m.SenderID
	}
	return m.ReceiverID
}

// InboundFor 该消息对 userID 而言是否为收件方向。
func (m *Message) InboundFor(userID int64) bool {
	return m.ReceiverID == userID
}

func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}
