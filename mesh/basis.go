package mesh

import "github.com/BaSui01/facesynth/types"

// Basis 形状基矩阵，行优先存储，形状 [Rank, Cols]，Cols = 3·numVerts。
type Basis struct {
	Rank int
	Cols int
	Data []float64
}

// NewBasis 从二维 NPY 数组构造基矩阵
func NewBasis(a *Array) (*Basis, error) {
	if len(a.Shape) != 2 {
		return nil, types.Errorf(types.ErrAssetInvalid, "basis must be 2-D, got shape %v", a.Shape)
	}
	if a.Shape[1]%3 != 0 {
		return nil, types.Errorf(types.ErrAssetInvalid, "basis columns %d not divisible by 3", a.Shape[1])
	}
	return &Basis{Rank: a.Shape[0], Cols: a.Shape[1], Data: a.Data}, nil
}

// NumVertices 返回基所覆盖的顶点数
func (b *Basis) NumVertices() int { return b.Cols / 3 }

// Expand 计算 param · basis，得到长度为 Cols 的逐顶点位移。
func (b *Basis) Expand(param []float64) []float64 {
	out := make([]float64, b.Cols)
	for r := 0; r < b.Rank && r < len(param); r++ {
		p := param[r]
		if p == 0 {
			continue
		}
		row := b.Data[r*b.Cols : (r+1)*b.Cols]
		for c, v := range row {
			out[c] += p * v
		}
	}
	return out
}

// Backward 将位移梯度映射回参数梯度：basis · grad。
func (b *Basis) Backward(gradDisp []float64) []float64 {
	out := make([]float64, b.Rank)
	for r := 0; r < b.Rank; r++ {
		row := b.Data[r*b.Cols : (r+1)*b.Cols]
		var s float64
		for c, g := range gradDisp {
			s += row[c] * g
		}
		out[r] = s
	}
	return out
}
