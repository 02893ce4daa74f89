package synth

import (
	"math"
	"math/rand"

	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/types"
)

// Linear y = W·x + b，W 行优先，形状 [Out, In]
type Linear struct {
	Out, In int
	W       []float64
	B       []float64
}

// RandomLinear 以 N(0, scale²/In) 初始化权重，偏置为 0
func RandomLinear(out, in int, scale float64, rng *rand.Rand) *Linear {
	l := &Linear{Out: out, In: in, W: make([]float64, out*in), B: make([]float64, out)}
	std := scale / math.Sqrt(float64(max(in, 1)))
	for i := range l.W {
		l.W[i] = rng.NormFloat64() * std
	}
	return l
}

// LinearFromArrays 由 [Out, In] 权重和 [Out] 偏置构造；b 可为 nil
func LinearFromArrays(w, b *mesh.Array) (*Linear, error) {
	if len(w.Shape) != 2 {
		return nil, types.Errorf(types.ErrAssetInvalid, "weight must be 2-D, got %v", w.Shape)
	}
	l := &Linear{Out: w.Shape[0], In: w.Shape[1], W: w.Data, B: make([]float64, w.Shape[0])}
	if b != nil {
		if b.Len() != l.Out {
			return nil, types.Errorf(types.ErrAssetInvalid, "bias has %d values, want %d", b.Len(), l.Out)
		}
		copy(l.B, b.Data)
	}
	return l, nil
}

// LoadLinear 从 <prefix>_w.npy 与可选的 <prefix>_b.npy 加载
func LoadLinear(prefix string) (*Linear, error) {
	w, err := mesh.LoadNPY(prefix + "_w.npy")
	if err != nil {
		return nil, err
	}
	b, err := mesh.LoadNPY(prefix + "_b.npy")
	if err != nil && !types.IsErrorCode(err, types.ErrAssetMissing) {
		return nil, err
	}
	return LinearFromArrays(w, b)
}

// Forward 计算 W·x + b
func (l *Linear) Forward(x []float64) ([]float64, error) {
	if len(x) != l.In {
		return nil, types.Errorf(types.ErrShapeMismatch, "linear input has %d values, want %d", len(x), l.In)
	}
	y := make([]float64, l.Out)
	for o := 0; o < l.Out; o++ {
		row := l.W[o*l.In : (o+1)*l.In]
		s := l.B[o]
		for i, v := range row {
			s += v * x[i]
		}
		y[o] = s
	}
	return y, nil
}

// BackwardInput 计算 Wᵀ·gy
func (l *Linear) BackwardInput(gy []float64) []float64 {
	gx := make([]float64, l.In)
	for o := 0; o < l.Out && o < len(gy); o++ {
		g := gy[o]
		if g == 0 {
			continue
		}
		row := l.W[o*l.In : (o+1)*l.In]
		for i, v := range row {
			gx[i] += v * g
		}
	}
	return gx
}

func (l *Linear) expect(out, in int, name string) error {
	if l.Out != out || l.In != in {
		return types.Errorf(types.ErrAssetInvalid, "%s weight is [%d,%d], want [%d,%d]", name, l.Out, l.In, out, in)
	}
	return nil
}
