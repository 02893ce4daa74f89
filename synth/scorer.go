package synth

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/BaSui01/facesynth/embedding"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/types"
)

// DefaultScoreGrid 评分前平均池化到的网格边长
const DefaultScoreGrid = 16

// EmbeddingScorer 图文相似度损失 1 − cos(P·pool(image), embed(text))。
// 同一提示的文本嵌入只请求一次。
type EmbeddingScorer struct {
	provider embedding.Provider
	proj     *Linear
	grid     int

	mu    sync.Mutex
	texts map[string][]float64
}

// NewEmbeddingScorer proj 形状 [provider.Dimensions(), grid²·3]
func NewEmbeddingScorer(p embedding.Provider, proj *Linear, grid int) (*EmbeddingScorer, error) {
	if grid <= 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "score grid must be positive, got %d", grid)
	}
	if err := proj.expect(p.Dimensions(), grid*grid*3, "scorer projection"); err != nil {
		return nil, err
	}
	return &EmbeddingScorer{provider: p, proj: proj, grid: grid, texts: make(map[string][]float64)}, nil
}

// Grid 返回池化网格边长
func (s *EmbeddingScorer) Grid() int { return s.grid }

func (s *EmbeddingScorer) textEmbedding(ctx context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	t, ok := s.texts[text]
	s.mu.Unlock()
	if ok {
		return t, nil
	}
	t, err := s.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}
	s.mu.Lock()
	s.texts[text] = t
	s.mu.Unlock()
	return t, nil
}

// Score 返回损失与其对图像的梯度。图像边长不得小于网格。
func (s *EmbeddingScorer) Score(ctx context.Context, img *render.Image, text string) (float64, *render.Image, error) {
	if img.W < s.grid || img.H < s.grid {
		return 0, nil, types.Errorf(types.ErrShapeMismatch, "image %dx%d smaller than score grid %d", img.W, img.H, s.grid)
	}
	t, err := s.textEmbedding(ctx, text)
	if err != nil {
		return 0, nil, err
	}

	cellOf := func(x, y int) int { return (y*s.grid/img.H)*s.grid + x*s.grid/img.W }
	counts := make([]float64, s.grid*s.grid)
	feat := make([]float64, s.grid*s.grid*3)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			k := cellOf(x, y)
			r, g, b := img.At(x, y)
			feat[k*3] += r
			feat[k*3+1] += g
			feat[k*3+2] += b
			counts[k]++
		}
	}
	for i := range feat {
		feat[i] /= counts[i/3]
	}

	e, err := s.proj.Forward(feat)
	if err != nil {
		return 0, nil, err
	}
	if len(t) != len(e) {
		return 0, nil, types.Errorf(types.ErrShapeMismatch, "text embedding has %d dims, image embedding %d", len(t), len(e))
	}

	var dot, ee, tt float64
	for i := range e {
		dot += e[i] * t[i]
		ee += e[i] * e[i]
		tt += t[i] * t[i]
	}
	grad := render.NewImage(img.W, img.H)
	if ee == 0 || tt == 0 {
		return 1, grad, nil
	}
	ne, nt := math.Sqrt(ee), math.Sqrt(tt)
	cos := dot / (ne * nt)

	// d(1-cos)/de = -(t/(|e||t|) - cos·e/|e|²)
	ge := make([]float64, len(e))
	for i := range e {
		ge[i] = -(t[i]/(ne*nt) - cos*e[i]/ee)
	}
	gfeat := s.proj.BackwardInput(ge)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			k := cellOf(x, y)
			n := counts[k]
			grad.Set(x, y, gfeat[k*3]/n, gfeat[k*3+1]/n, gfeat[k*3+2]/n)
		}
	}
	return 1 - cos, grad, nil
}
