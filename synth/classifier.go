package synth

import (
	"context"
	"fmt"

	"github.com/BaSui01/facesynth/embedding"
)

// 标签布局：24 组属性，每组 8 个类别
const (
	LabelGroups     = 24
	LabelClasses    = 8
	ShapeGroups     = 16
	SharedGroups    = 3
	TextureGroups   = SharedGroups + LabelGroups - ShapeGroups
	ShapeLabelLen   = ShapeGroups * LabelClasses
	TextureLabelLen = TextureGroups * LabelClasses
)

// Labels 分类结果，均为 one-hot 拼接
type Labels struct {
	// Groups 每组的预测类别
	Groups [LabelGroups]int
	// Shape 组 0..15
	Shape []float64
	// Texture 组 0..2 与 16..23
	Texture []float64
}

// Classifier 文本 → 标签
type Classifier interface {
	Classify(ctx context.Context, text string) (*Labels, error)
}

// LabelsFromLogits 对 24×8 logits 每行取最大值置 1。
// 并列最大值全部置 1。
func LabelsFromLogits(logits []float64) (*Labels, error) {
	if len(logits) != LabelGroups*LabelClasses {
		return nil, fmt.Errorf("classifier produced %d logits, want %d", len(logits), LabelGroups*LabelClasses)
	}
	onehot := make([][]float64, LabelGroups)
	l := &Labels{}
	for g := 0; g < LabelGroups; g++ {
		row := logits[g*LabelClasses : (g+1)*LabelClasses]
		best := 0
		for c := 1; c < LabelClasses; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		l.Groups[g] = best
		onehot[g] = make([]float64, LabelClasses)
		for c, v := range row {
			if v == row[best] {
				onehot[g][c] = 1
			}
		}
	}

	l.Shape = make([]float64, 0, ShapeLabelLen)
	for g := 0; g < ShapeGroups; g++ {
		l.Shape = append(l.Shape, onehot[g]...)
	}
	l.Texture = make([]float64, 0, TextureLabelLen)
	for g := 0; g < SharedGroups; g++ {
		l.Texture = append(l.Texture, onehot[g]...)
	}
	for g := ShapeGroups; g < LabelGroups; g++ {
		l.Texture = append(l.Texture, onehot[g]...)
	}
	return l, nil
}

// LinearClassifier 文本嵌入经线性层得到 logits
type LinearClassifier struct {
	provider embedding.Provider
	layer    *Linear
}

// NewLinearClassifier layer 必须是 [192, provider.Dimensions()]
func NewLinearClassifier(p embedding.Provider, layer *Linear) (*LinearClassifier, error) {
	if err := layer.expect(LabelGroups*LabelClasses, p.Dimensions(), "classifier"); err != nil {
		return nil, err
	}
	return &LinearClassifier{provider: p, layer: layer}, nil
}

// Classify 实现 Classifier
func (c *LinearClassifier) Classify(ctx context.Context, text string) (*Labels, error) {
	emb, err := c.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed descriptions: %w", err)
	}
	logits, err := c.layer.Forward(emb)
	if err != nil {
		return nil, err
	}
	return LabelsFromLogits(logits)
}
