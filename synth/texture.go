package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/types"
)

// TextureConfig 纹理生成器尺寸
type TextureConfig struct {
	NoiseDim  int `yaml:"noise_dim" env:"NOISE_DIM"`
	LatentDim int `yaml:"latent_dim" env:"LATENT_DIM"`
	// Grid 合成网格边长，输出再最近邻放大到 Size
	Grid int `yaml:"grid" env:"GRID"`
	Size int `yaml:"size" env:"SIZE"`
}

// DefaultTextureConfig 默认尺寸
func DefaultTextureConfig() TextureConfig {
	return TextureConfig{NoiseDim: 512, LatentDim: 512, Grid: 16, Size: 256}
}

// Validate 检查尺寸
func (c TextureConfig) Validate() error {
	if c.NoiseDim <= 0 || c.LatentDim <= 0 || c.Grid <= 0 || c.Size <= 0 {
		return types.Errorf(types.ErrInvalidConfig, "texture dims must be positive: %+v", c)
	}
	if c.Size%c.Grid != 0 {
		return types.Errorf(types.ErrInvalidConfig, "texture size %d is not a multiple of grid %d", c.Size, c.Grid)
	}
	return nil
}

// LinearTextureGenerator 两段式纹理生成器：
// mapping 将 [noise; label] 映射到潜变量，synthesis 将潜变量映射为 [-1,1] 纹理。
type LinearTextureGenerator struct {
	cfg       TextureConfig
	mapping   *Linear
	synthesis *Linear
}

// NewLinearTextureGenerator mapping 形状 [LatentDim, NoiseDim+88]，
// synthesis 形状 [Grid²·3, LatentDim]
func NewLinearTextureGenerator(cfg TextureConfig, mapping, synthesis *Linear) (*LinearTextureGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := mapping.expect(cfg.LatentDim, cfg.NoiseDim+TextureLabelLen, "texture mapping"); err != nil {
		return nil, err
	}
	if err := synthesis.expect(cfg.Grid*cfg.Grid*3, cfg.LatentDim, "texture synthesis"); err != nil {
		return nil, err
	}
	return &LinearTextureGenerator{cfg: cfg, mapping: mapping, synthesis: synthesis}, nil
}

// Config 返回尺寸配置
func (g *LinearTextureGenerator) Config() TextureConfig { return g.cfg }

// Noise 采样标准正态噪声
func (g *LinearTextureGenerator) Noise(rng *rand.Rand) []float64 {
	z := make([]float64, g.cfg.NoiseDim)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	return z
}

// Mapping (noise, textureLabel) → latent
func (g *LinearTextureGenerator) Mapping(ctx context.Context, noise, textureLabel []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(textureLabel) != TextureLabelLen {
		return nil, types.Errorf(types.ErrShapeMismatch, "texture label has %d values, want %d", len(textureLabel), TextureLabelLen)
	}
	in := make([]float64, 0, len(noise)+len(textureLabel))
	in = append(in, noise...)
	in = append(in, textureLabel...)
	latent, err := g.mapping.Forward(in)
	if err != nil {
		return nil, fmt.Errorf("texture mapping: %w", err)
	}
	return latent, nil
}

// Synthesize latent → Size×Size 纹理（值域 [-1,1]），并返回对 latent 的反向函数。
func (g *LinearTextureGenerator) Synthesize(ctx context.Context, latent []float64) (*render.Image, func(grad *render.Image) []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	pre, err := g.synthesis.Forward(latent)
	if err != nil {
		return nil, nil, fmt.Errorf("texture synthesis: %w", err)
	}
	act := make([]float64, len(pre))
	for i, v := range pre {
		act[i] = math.Tanh(v)
	}

	grid, size := g.cfg.Grid, g.cfg.Size
	cell := size / grid
	img := render.NewImage(size, size)
	for y := 0; y < size; y++ {
		gy := y / cell
		for x := 0; x < size; x++ {
			k := (gy*grid + x/cell) * 3
			img.Set(x, y, act[k], act[k+1], act[k+2])
		}
	}

	backward := func(grad *render.Image) []float64 {
		gact := make([]float64, len(act))
		for y := 0; y < size; y++ {
			gy := y / cell
			for x := 0; x < size; x++ {
				k := (gy*grid + x/cell) * 3
				r, gg, b := grad.At(x, y)
				gact[k] += r
				gact[k+1] += gg
				gact[k+2] += b
			}
		}
		for i, a := range act {
			gact[i] *= 1 - a*a
		}
		return g.synthesis.BackwardInput(gact)
	}
	return img, backward, nil
}
