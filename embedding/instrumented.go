package embedding

import (
	"context"
	"time"

	"github.com/BaSui01/facesynth/internal/metrics"
)

// InstrumentedProvider 记录每次上游请求的耗时与结果
type InstrumentedProvider struct {
	Provider
	metrics *metrics.Collector
}

// NewInstrumentedProvider 包装 inner
func NewInstrumentedProvider(inner Provider, c *metrics.Collector) *InstrumentedProvider {
	return &InstrumentedProvider{Provider: inner, metrics: c}
}

// Embed 实现 Provider
func (p *InstrumentedProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	start := time.Now()
	resp, err := p.Provider.Embed(ctx, req)
	p.metrics.RecordEmbedding(p.Name(), time.Since(start), err)
	return resp, err
}

// EmbedQuery 实现 Provider
func (p *InstrumentedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	start := time.Now()
	vec, err := p.Provider.EmbedQuery(ctx, query)
	p.metrics.RecordEmbedding(p.Name(), time.Since(start), err)
	return vec, err
}
