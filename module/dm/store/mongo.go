package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"DirectIM/module/dm/model"
	"DirectIM/tools/errs"
	"DirectIM/tools/ids"
	"DirectIM/tools/safe"
)

const msgCollection = "dm_message"

// MongoStore 是消息库的生产实现。audit 可为 nil；非 nil 时每次成功
// 落库后异步回调一次（用于 Kafka 审计镜像）。
type MongoStore struct {
	coll  *mongo.Collection
	audit AuditFunc
}

func NewMongoStore(db *mongo.Database, audit AuditFunc) *MongoStore {
	return &MongoStore{coll: db.Collection(msgCollection), audit: audit}
}

// EnsureIndexes 建收件检索与会话翻页两组索引，幂等。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "read", Value: 1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "_id", Value: 1}}},
	})
	return err
}

func (s *MongoStore) Send(ctx context.Context, senderID, receiverID int64, content string) (*model.Message, error) {
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
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg(err, "insert message")
	}
	if s.audit != nil {
		cp := msg.Clone()
		safe.Go(func() { s.audit(cp) })
	}
	return msg, nil
}

func (s *MongoStore) ListSince(ctx context.Context, userID, counterpartID, afterID int64, order Order) ([]*model.Message, error) {
	filter := listFilter(userID, counterpartID, afterID)
	dir := 1
	if order == Desc {
		dir = -1
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: dir}}))
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg(err, "list messages")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.Message
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errs.ErrStoreUnavailable.WrapMsg(err, "decode message")
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg(err, "cursor")
	}
	return out, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, userID, counterpartID int64) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"receiver_id": userID, "sender_id": counterpartID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, errs.ErrStoreUnavailable.WrapMsg(err, "mark read")
	}
	return res.ModifiedCount, nil
}

func listFilter(userID, counterpartID, afterID int64) bson.M {
	var or []bson.M
	if counterpartID > 0 {
		or = []bson.M{
			{"sender_id": userID, "receiver_id": counterpartID},
			{"sender_id": counterpartID, "receiver_id": userID},
		}
	} else {
		or = []bson.M{
			{"sender_id": userID},
			{"receiver_id": userID},
		}
	}
	filter := bson.M{"$or": or}
	if afterID > 0 {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	return filter
}
