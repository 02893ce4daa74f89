package refine

import "math"

// Adam 单参数组的 Adam 优化器。修改学习率不会重置矩估计。
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	m, v []float64
	t    int
}

// NewAdam 创建 n 维参数的优化器，beta1=0.9 beta2=0.999 eps=1e-8
func NewAdam(n int, lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

// LR 返回当前学习率
func (a *Adam) LR() float64 { return a.lr }

// SetLR 更新学习率
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Steps 返回已执行的步数
func (a *Adam) Steps() int { return a.t }

// Step 用 grad 原地更新 params
func (a *Adam) Step(params, grad []float64) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / bc1
		vHat := a.v[i] / bc2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
