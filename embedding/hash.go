package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// HashProvider 离线确定性嵌入：对小写分词及其字符三元组做特征哈希，
// 带符号累加后 L2 归一化。相同文本总得到相同向量。
type HashProvider struct {
	dimensions int
}

// NewHashProvider 创建哈希嵌入提供者
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &HashProvider{dimensions: dimensions}
}

func (p *HashProvider) Name() string    { return "hash-embedding" }
func (p *HashProvider) Dimensions() int { return p.dimensions }

// Embed 为每个输入生成向量
func (p *HashProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]EmbeddingData, len(req.Input))
	tokens := 0
	for i, text := range req.Input {
		vec, n := p.vector(text)
		out[i] = EmbeddingData{Index: i, Embedding: vec}
		tokens += n
	}
	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      "fnv-hashing",
		Embeddings: out,
		Usage:      EmbeddingUsage{PromptTokens: tokens, TotalTokens: tokens},
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个文本
func (p *HashProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec, _ := p.vector(query)
	return vec, nil
}

func (p *HashProvider) vector(text string) ([]float64, int) {
	vec := make([]float64, p.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		p.add(vec, "w:"+w, 1)
		padded := []rune("^" + w + "$")
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, len(words)
}

func (p *HashProvider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
