package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var (
	rdb *redis.Client
	ctx = context.Background()
)

func InitRedis(c Config) error {
	rdb = redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return rdb.Ping(ctx).Err()
}

// Client 暴露底层连接给需要 redis 的组件（幂等窗口等）。
func Client() redis.UniversalClient { return rdb }

// presence key: dm:presence:<user>
// TTL 控制在线有效期，活跃会话周期性续约
func presenceKey(user int64) string { return "dm:presence:" + strconv.FormatInt(user, 10) }

// PresenceOnline sets the user as online and renews the TTL
func PresenceOnline(user int64, ttl time.Duration) error {
	if rdb == nil {
		return errors.New("redis not initialized")
	}
	return rdb.Set(ctx, presenceKey(user), 1, ttl).Err()
}

// PresenceOffline actively sets the user offline (deletes the key)
func PresenceOffline(user int64) error {
	if rdb == nil {
		return errors.New("redis not initialized")
	}
	return rdb.Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup checks whether the user is online; best effort —
// redis 故障时按离线处理，不阻塞会话列表渲染。
func PresenceLookup(user int64) bool {
	if rdb == nil {
		return false
	}
	n, err := rdb.Exists(ctx, presenceKey(user)).Result()
	if err != nil {
		return false
	}
	return n > 0
}
