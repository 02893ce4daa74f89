// Package schedule 实现三阶段超参数调度: 纹理优先、形状优先、联合精修。
package schedule

import "math"

// 阶段名称
const (
	StageTexture = "Stage 1: Texture Focus"
	StageShape   = "Stage 2: Shape Focus"
	StageJoint   = "Stage 3: Joint Refinement"
)

// 阶段边界占总步数的比例
const (
	stage1Fraction = 0.4
	stage2Fraction = 0.7
)

// Base 基础超参数
type Base struct {
	LRLatent     float64 `json:"lr_latent" yaml:"lr_latent"`
	LRParam      float64 `json:"lr_param" yaml:"lr_param"`
	LambdaLatent float64 `json:"lambda_latent" yaml:"lambda_latent"`
	LambdaParam  float64 `json:"lambda_param" yaml:"lambda_param"`
}

// DefaultBase 默认基础超参数
func DefaultBase() Base {
	return Base{
		LRLatent:     0.008,
		LRParam:      0.003,
		LambdaLatent: 0.0003,
		LambdaParam:  3.0,
	}
}

// StageConfig 某一步的超参数，不可变
type StageConfig struct {
	Stage        string  `json:"stage"`
	LRLatent     float64 `json:"lr_latent"`
	LRParam      float64 `json:"lr_param"`
	LambdaLatent float64 `json:"lambda_latent"`
	LambdaParam  float64 `json:"lambda_param"`
	// Decay 仅在阶段 3 小于 1
	Decay float64 `json:"decay"`
}

// Scheduler 无状态调度器，边界在构造时固定
type Scheduler struct {
	total     int
	stage1End int
	stage2End int
	base      Base
}

// New 创建调度器。total 为总步数。
func New(total int, base Base) *Scheduler {
	if total < 0 {
		total = 0
	}
	return &Scheduler{
		total:     total,
		stage1End: int(math.Floor(float64(total) * stage1Fraction)),
		stage2End: int(math.Floor(float64(total) * stage2Fraction)),
		base:      base,
	}
}

// Total 总步数
func (s *Scheduler) Total() int { return s.total }

// Base 基础超参数
func (s *Scheduler) Base() Base { return s.base }

// Boundaries 返回阶段 1 与阶段 2 的结束步（不含）
func (s *Scheduler) Boundaries() (stage1End, stage2End int) {
	return s.stage1End, s.stage2End
}

// StageIndex 返回第 i 步所在阶段（1、2 或 3）
func (s *Scheduler) StageIndex(i int) int {
	switch {
	case i < s.stage1End:
		return 1
	case i < s.stage2End:
		return 2
	default:
		return 3
	}
}

// Decay 阶段 3 的学习率衰减系数，范围 [0.5, 1]。
// stage2End == total 时分母为 0，此时返回 1。
func (s *Scheduler) Decay(i int) float64 {
	span := s.total - s.stage2End
	if span <= 0 || i <= s.stage2End {
		return 1
	}
	progress := float64(i-s.stage2End) / float64(span)
	if progress > 1 {
		progress = 1
	}
	return 1 - 0.5*progress
}

// Params 返回第 i 步的超参数，对相同的 i 结果相同
func (s *Scheduler) Params(i int) StageConfig {
	b := s.base
	switch s.StageIndex(i) {
	case 1:
		return StageConfig{
			Stage:        StageTexture,
			LRLatent:     b.LRLatent * 1.5,
			LRParam:      b.LRParam * 0.5,
			LambdaLatent: b.LambdaLatent * 0.5,
			LambdaParam:  b.LambdaParam * 1.5,
			Decay:        1,
		}
	case 2:
		return StageConfig{
			Stage:        StageShape,
			LRLatent:     b.LRLatent * 0.5,
			LRParam:      b.LRParam * 1.5,
			LambdaLatent: b.LambdaLatent * 1.5,
			LambdaParam:  b.LambdaParam * 0.5,
			Decay:        1,
		}
	default:
		d := s.Decay(i)
		return StageConfig{
			Stage:        StageJoint,
			LRLatent:     b.LRLatent * d,
			LRParam:      b.LRParam * d,
			LambdaLatent: b.LambdaLatent,
			LambdaParam:  b.LambdaParam,
			Decay:        d,
		}
	}
}

// Span 连续共享同一阶段的步数区间 [Start, End)
type Span struct {
	Stage string `json:"stage"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Spans 列出非空阶段区间，用于预览
func (s *Scheduler) Spans() []Span {
	all := []Span{
		{Stage: StageTexture, Start: 0, End: s.stage1End},
		{Stage: StageShape, Start: s.stage1End, End: s.stage2End},
		{Stage: StageJoint, Start: s.stage2End, End: s.total},
	}
	out := all[:0]
	for _, sp := range all {
		if sp.End > sp.Start {
			out = append(out, sp)
		}
	}
	return out
}
