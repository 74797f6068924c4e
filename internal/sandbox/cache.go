package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/reporting"
)

const cacheKeyPrefix = "mender:validation:"

// CachingValidator serves repeat validations of identical documents from Redis.
// Cached results carry no screenshot.
type CachingValidator struct {
	next     schemas.SandboxValidator
	client   redis.Cmdable
	ttl      time.Duration
	viewport string
	logger   *zap.Logger
	metrics  *observability.Metrics
}

var _ schemas.SandboxValidator = (*CachingValidator)(nil)

// NewCachingValidator wraps next. Redis failures fall through to next.
func NewCachingValidator(next schemas.SandboxValidator, client redis.Cmdable, ttl time.Duration, width, height int, logger *zap.Logger, metrics *observability.Metrics) *CachingValidator {
	return &CachingValidator{
		next:     next,
		client:   client,
		ttl:      ttl,
		viewport: fmt.Sprintf("%dx%d", width, height),
		logger:   logger.Named("validation_cache"),
		metrics:  metrics,
	}
}

func (c *CachingValidator) key(document string) string {
	return cacheKeyPrefix + reporting.HashDocument(document) + ":" + c.viewport
}

// Validate returns a cached result when one exists, otherwise validates and
// stores the result.
func (c *CachingValidator) Validate(ctx context.Context, document string) (schemas.ValidationResult, error) {
	key := c.key(document)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached schemas.ValidationResult
		if jerr := jsoniter.Unmarshal(raw, &cached); jerr == nil {
			c.lookup("hit")
			return cached, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
		c.lookup("error")
	case errors.Is(err, redis.Nil):
		c.lookup("miss")
	default:
		c.logger.Warn("Validation cache unavailable", zap.Error(err))
		c.lookup("error")
	}

	res, err := c.next.Validate(ctx, document)
	if err != nil {
		return res, err
	}

	data, err := jsoniter.Marshal(res)
	if err != nil {
		c.logger.Warn("Failed to encode validation result for caching", zap.Error(err))
		return res, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to store validation result", zap.Error(err))
	}
	return res, nil
}

func (c *CachingValidator) lookup(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(result)
	}
}
