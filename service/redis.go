package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sidharthmenon/withoutbg-api/config"
)

// RedisCache 按上传内容哈希+输出规格缓存编码后的结果
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg *config.Redis) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisCache) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetResult 获取缓存的编码结果，未命中返回nil
func (s *RedisCache) GetResult(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, "rembg:"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// SetResult 写入编码结果
func (s *RedisCache) SetResult(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, "rembg:"+key, data, s.ttl).Err()
}

func (s *RedisCache) Close() error {
	return s.client.Close()
}

// CacheKey 由内容哈希与输出规格组成，不同格式/质量互不串扰
func CacheKey(md5 string, format string, quality int) string {
	return fmt.Sprintf("%s:%s:%d", md5, format, quality)
}
