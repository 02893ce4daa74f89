package synth

import (
	"context"
	"fmt"
)

// ShapeGenerator 形状标签 → 形状参数
type ShapeGenerator interface {
	Generate(ctx context.Context, shapeLabel []float64) ([]float64, error)
}

// LinearShapeGenerator param = W·label + b，W 形状 [rank, 128]
type LinearShapeGenerator struct {
	layer *Linear
}

// NewLinearShapeGenerator rank 必须与形状基一致
func NewLinearShapeGenerator(layer *Linear, rank int) (*LinearShapeGenerator, error) {
	if err := layer.expect(rank, ShapeLabelLen, "shape generator"); err != nil {
		return nil, err
	}
	return &LinearShapeGenerator{layer: layer}, nil
}

// Rank 返回输出参数维度
func (g *LinearShapeGenerator) Rank() int { return g.layer.Out }

// Generate 实现 ShapeGenerator
func (g *LinearShapeGenerator) Generate(ctx context.Context, shapeLabel []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	param, err := g.layer.Forward(shapeLabel)
	if err != nil {
		return nil, fmt.Errorf("shape generator: %w", err)
	}
	return param, nil
}
