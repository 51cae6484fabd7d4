package user

import (
	"context"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"DirectIM/module/dm/model"
)

// Directory 按 id 解析用户引用数据。实现必须可并发调用。
type Directory interface {
	Lookup(ctx context.Context, id int64) (*model.User, error)
}

// CachedDirectory 在任意 Directory 外面套一层进程内缓存。
// 用户资料视为不可变引用数据，缓存不失效。
type CachedDirectory struct {
	mu    sync.RWMutex
	cache map[int64]*model.User
	next  Directory
}

func NewCachedDirectory(next Directory) *CachedDirectory {
	return &CachedDirectory{cache: make(map[int64]*model.User), next: next}
}

func (d *CachedDirectory) Lookup(ctx context.Context, id int64) (*model.User, error) {
	d.mu.RLock()
	u, ok := d.cache[id]
	d.mu.RUnlock()
	if ok {
		return u, nil
	}
	u, err := d.next.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[id] = u
	d.mu.Unlock()
	return u, nil
}

const userCollection = "dm_user"

// MongoDirectory 从用户集合读取资料；未知用户兜底返回 "user <id>"，
// 上层展示永远拿得到一个名字。
type MongoDirectory struct {
	coll *mongo.Collection
}

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{coll: db.Collection(userCollection)}
}

func (d *MongoDirectory) Lookup(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := d.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return fallbackUser(id), nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// StaticDirectory 固定映射，单测用。
type StaticDirectory map[int64]*model.User

func (d StaticDirectory) Lookup(_ context.Context, id int64) (*model.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return fallbackUser(id), nil
}

func fallbackUser(id int64) *model.User {
	return &model.User{ID: id, DisplayName: "user " + strconv.FormatInt(id, 10)}
}
