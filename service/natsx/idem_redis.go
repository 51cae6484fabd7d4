package natsx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisIdem 跨进程去重窗口：SET NX + TTL。
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdem(rdb redis.UniversalClient, defaultTTL time.Duration) IdemStore {
	return &redisIdem{rdb: rdb, prefix: "dm:idem:", ttl: defaultTTL}
}

func (ri *redisIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	ok, err := ri.rdb.SetNX(context.Background(), ri.prefix+key, 1, ttl).Result()
	if err != nil {
		// redis 故障时放行：重复由 reconcile 层的去重集兜底
		return false, err
	}
	return !ok, nil
}
