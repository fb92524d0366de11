package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"om-smart-go/pkg/log"
)

// RDB 供队列消费者做任务锁和投递计数。
var RDB *redis.Client

// InitRedis 连接 Redis，启动阶段连不上直接退出。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("[Redis] 连接失败", err)
	}
	log.Infof("[Redis] 已连接 %s (db=%d)", addr, db)
}
