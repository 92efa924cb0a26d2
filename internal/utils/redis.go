package utils

import (
	"geojoin/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：使用地址、密码与库编号打开 Redis 客户端；地址为空返回 nil
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：REDIS_ENABLE 未开启时返回 nil，查询缓存只使用进程内层。
func OpenRedisFromEnv() *redis.Client {
	if !EnvBool("REDIS_ENABLE") {
		return nil
	}
	addr := EnvString("REDIS_HOST", "127.0.0.1") + ":" + EnvString("REDIS_PORT", "6379")
	db := 0
	if n := EnvInt("REDIS_DB", 0); n > 0 {
		db = n
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return OpenRedis(addr, EnvString("REDIS_PASS", ""), db)
}
