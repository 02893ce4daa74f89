package embedding

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/internal/metrics"
	"github.com/BaSui01/facesynth/types"
)

// 提供者名称
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Config 嵌入提供者配置
type Config struct {
	Provider          string        `yaml:"provider" json:"provider" env:"PROVIDER"`
	BaseURL           string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Model             string        `yaml:"model" json:"model" env:"MODEL"`
	Dimensions        int           `yaml:"dimensions" json:"dimensions" env:"DIMENSIONS"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" json:"burst" env:"BURST"`
	CacheTTL          time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL"`
}

// DefaultConfig 默认使用离线哈希嵌入
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderHash,
		Dimensions:        512,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
		CacheTTL:          24 * time.Hour,
	}
}

// Option New 的可选项
type Option func(*options)

type options struct {
	metrics *metrics.Collector
}

// WithMetrics 记录上游请求与缓存命中
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// New 根据配置创建提供者。c 不为 nil 时包装缓存。
func New(cfg Config, c JSONCache, logger *zap.Logger, opts ...Option) (Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var p Provider
	switch cfg.Provider {
	case "", ProviderHash:
		p = NewHashProvider(cfg.Dimensions)
	case ProviderOpenAI:
		p = NewOpenAIProvider(cfg)
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown embedding provider %q", cfg.Provider)
	}
	if o.metrics != nil {
		p = NewInstrumentedProvider(p, o.metrics)
	}
	if c != nil {
		cached := NewCachedProvider(p, c, cfg.CacheTTL, logger)
		cached.metrics = o.metrics
		p = cached
	}
	return p, nil
}
