package provisioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileCache кэш конфигураций в каталоге: один файл <device>.cnf.xml
// на устройство.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(device string) string {
	return filepath.Join(c.dir, filepath.Base(device)+".cnf.xml")
}

func (c *FileCache) Load(_ context.Context, device string) ([]byte, error) {
	data, err := os.ReadFile(c.path(device))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	return data, err
}

// Store пишет через временный файл и rename, чтобы читатель не увидел
// половину файла.
func (c *FileCache) Store(_ context.Context, device string, config []byte) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("ошибка создания каталога кэша: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".cnf-*")
	if err != nil {
		return fmt.Errorf("ошибка создания файла кэша: %w", err)
	}
	if _, err := tmp.Write(config); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("ошибка записи файла кэша: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(device))
}

// RedisCache кэш конфигураций в Redis под ключами <prefix><device>.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCacheConfig параметры подключения.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL время жизни записи, 0 без ограничения.
	TTL time.Duration
}

// NewRedisCache подключается к Redis и проверяет соединение PING.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к redis %s: %w", cfg.Addr, err)
	}
	return NewRedisCacheFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheFromClient оборачивает готовый клиент.
func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "softphone:cnf:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context, device string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+device).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из redis: %w", err)
	}
	return data, nil
}

func (c *RedisCache) Store(ctx context.Context, device string, config []byte) error {
	if err := c.client.Set(ctx, c.prefix+device, config, c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи в redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
