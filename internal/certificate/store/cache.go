package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"badal/internal/certificate/models"
)

const cacheKeyPrefix = "badal:certificate:"

// RedisCache holds issued certificates keyed by verification code.
// Certificates never change after issue, so entries only expire.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns nil without error on a miss.
func (c *RedisCache) Get(ctx context.Context, code string) (*models.CompletionCertificate, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate cache: %w", err)
	}
	var cert models.CompletionCertificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("decode cached certificate: %w", err)
	}
	return &cert, nil
}

// Set stores cert under both of its codes.
func (c *RedisCache) Set(ctx context.Context, cert *models.CompletionCertificate) error {
	raw, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, cacheKeyPrefix+codeKey(cert.CertificateNumber), raw, c.ttl)
	pipe.Set(ctx, cacheKeyPrefix+codeKey(cert.QRVerificationCode), raw, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write certificate cache: %w", err)
	}
	return nil
}
