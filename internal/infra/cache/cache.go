// Package cache 保存比价目录快照，避免同一天重复抓取。
//
// 两种后端：
// - FileStore：<dir>/snapshots/<key>.json（默认）
// - RedisStore：配置了 cache.redis_addr 时使用，便于多台机器共享当天快照
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/John-Robertt/platematch/internal/infra/fsx"
)

// Store 是快照存取接口；未命中返回 ok=false 且 err=nil。
type Store interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
}

// ErrReadOnly 表示 Store 配置为只读（cache.read_only），Put 被拒绝。
var ErrReadOnly = errors.New("cache: read-only")

var keyRE = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// SnapshotKey 返回某天目录快照的键，例如 catalog-2025-06-01。
func SnapshotKey(date string) string {
	return "catalog-" + strings.TrimSpace(date)
}

func cleanKey(k string) (string, error) {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "", fmt.Errorf("key 不能为空")
	}
	// 最小约束：避免路径穿越。
	if !keyRE.MatchString(k) {
		return "", fmt.Errorf("非法 key：%q", k)
	}
	return k, nil
}

// FileStore 把快照写在本地目录。
type FileStore struct {
	Dir      string
	TTL      time.Duration
	ReadOnly bool

	now func() time.Time
}

func NewFileStore(dir string, ttl time.Duration, readOnly bool) *FileStore {
	return &FileStore{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		TTL:      ttl,
		ReadOnly: readOnly,
		now:      time.Now,
	}
}

// Path 返回 key 对应的快照文件路径。
func (s *FileStore) Path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, "snapshots", k+".json"), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	// 过期视为未命中（文件保留，下一次 Put 覆盖）。
	if s.TTL > 0 && s.now().Sub(fi.ModTime()) > s.TTL {
		return nil, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(path, data)
}

// RedisStore 把快照写进 redis，键带统一前缀并设置 TTL。
type RedisStore struct {
	ReadOnly bool

	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func NewRedisStoreWithClient(c *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: c, prefix: "platematch:", ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, false, err
	}
	b, err := s.client.Get(ctx, s.prefix+k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s：%w", k, err)
	}
	return b, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+k, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s：%w", k, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
