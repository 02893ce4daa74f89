package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/internal/cache"
	"github.com/BaSui01/facesynth/internal/metrics"
)

const cacheType = "embedding"

// JSONCache 缓存后端，由 internal/cache.Manager 实现
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedProvider 为任意 Provider 的单文本查询加上缓存。
// 缓存读写失败只记录日志，不影响结果。
type CachedProvider struct {
	Provider
	cache   JSONCache
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCachedProvider 包装 inner
func NewCachedProvider(inner Provider, c JSONCache, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		Provider: inner,
		cache:    c,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "embedding_cache")),
	}
}

// EmbedQuery 先查缓存，未命中时调用底层提供者并写回
func (p *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	key := p.cacheKey(query)

	var vec []float64
	err := p.cache.GetJSON(ctx, key, &vec)
	if err == nil && len(vec) == p.Dimensions() {
		if p.metrics != nil {
			p.metrics.RecordCacheHit(cacheType)
		}
		return vec, nil
	}
	if p.metrics != nil {
		p.metrics.RecordCacheMiss(cacheType)
	}
	if err != nil && !cache.IsCacheMiss(err) {
		p.logger.Warn("embedding cache read failed", zap.Error(err))
	}

	vec, err = p.Provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := p.cache.SetJSON(ctx, key, vec, p.ttl); err != nil {
		p.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

func (p *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%d:%s", p.Name(), p.Dimensions(), hex.EncodeToString(sum[:16]))
}
