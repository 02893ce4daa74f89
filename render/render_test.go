package render

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/facesynth/types"
)

// =============================================================================
// 🧪 Resampling 测试
// =============================================================================

func TestResampling_Lengths(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		n    int
	}{
		{"fewer pixels than vertices", 4, 4, 50},
		{"more pixels than vertices", 16, 16, 20},
		{"equal", 5, 5, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tex := NewImage(tt.w, tt.h)
			colors := VertexColors(tex, tt.n)
			assert.Len(t, colors, tt.n*3)
			// 纹理值 0 映射到颜色 0.5
			for _, c := range colors {
				assert.InDelta(t, 0.5, c, 1e-12)
			}
		})
	}
}

func TestResampling_PreservesOrder(t *testing.T) {
	tex := NewImage(4, 1)
	for i := 0; i < 4; i++ {
		v := -1 + float64(i)*2/3
		tex.Set(i, 0, v, v, v)
	}
	colors := VertexColors(tex, 12)
	for i := 1; i < 12; i++ {
		assert.GreaterOrEqual(t, colors[i*3], colors[(i-1)*3])
	}
	assert.InDelta(t, 0.0, colors[0], 1e-12)
	assert.InDelta(t, 1.0, colors[11*3], 1e-12)
}

func TestResampling_BackwardIsAdjoint(t *testing.T) {
	for _, n := range []int{7, 16, 40} {
		rs := NewResampling(16, n)
		rng := rand.New(rand.NewSource(int64(n)))
		tex := NewImage(4, 4)
		for i := range tex.Pix {
			tex.Pix[i] = rng.Float64()*2 - 1
		}
		g := make([]float64, n*3)
		for i := range g {
			g[i] = rng.NormFloat64()
		}
		// <g, Forward(tex) - 0.5> == <Backward(g), tex>
		out := rs.Forward(tex)
		lhs := 0.0
		for i := range g {
			lhs += g[i] * (out[i] - 0.5)
		}
		back := rs.Backward(g, 4, 4)
		rhs := 0.0
		for i := range tex.Pix {
			rhs += back.Pix[i] * tex.Pix[i]
		}
		assert.InDelta(t, lhs, rhs, 1e-9, "n=%d", n)
	}
}

func TestProperty_Resampling_ColorsInUnitRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 8).Draw(rt, "w")
		h := rapid.IntRange(1, 8).Draw(rt, "h")
		n := rapid.IntRange(1, 200).Draw(rt, "n")
		tex := NewImage(w, h)
		for i := range tex.Pix {
			tex.Pix[i] = rapid.Float64Range(-1, 1).Draw(rt, "px")
		}
		colors := VertexColors(tex, n)
		if len(colors) != n*3 {
			rt.Fatalf("got %d colors, want %d", len(colors), n*3)
		}
		for _, c := range colors {
			if c < -1e-12 || c > 1+1e-12 {
				rt.Fatalf("color %v out of [0,1]", c)
			}
		}
	})
}

// =============================================================================
// 🧪 SoftwareRenderer 测试
// =============================================================================

func newTestRenderer(t *testing.T, size int) *SoftwareRenderer {
	t.Helper()
	opts := DefaultOptions()
	opts.ImageSize = size
	r, err := NewSoftwareRenderer(opts)
	require.NoError(t, err)
	return r
}

// bigTriangle covers the whole field of view of a frontal camera at 2.7.
func bigTriangle() ([]float64, [][3]int, []float64) {
	verts := []float64{
		-3, -2, 0.1,
		3, -2, -0.2,
		0, 3, 0.3,
	}
	colors := []float64{
		0.9, 0.2, 0.1,
		0.1, 0.8, 0.3,
		0.2, 0.3, 0.7,
	}
	return verts, [][3]int{{0, 1, 2}}, colors
}

func TestSoftwareRenderer_BackgroundAndCoverage(t *testing.T) {
	r := newTestRenderer(t, 32)
	cam := LookAt(2.7, 0, 0, 30)

	// 小三角形位于画面中央
	verts := []float64{-0.1, -0.1, 0, 0.1, -0.1, 0, 0, 0.1, 0}
	colors := []float64{1, 0, 0, 1, 0, 0, 1, 0, 0}
	fr, err := r.Render(verts, [][3]int{{0, 1, 2}}, colors, cam)
	require.NoError(t, err)

	cov := fr.Coverage()
	assert.Greater(t, cov, 0.0)
	assert.Less(t, cov, 0.5)

	cr, cg, cb := fr.Image.At(0, 0)
	assert.Equal(t, [3]float64{1, 1, 1}, [3]float64{cr, cg, cb})

	// 正对光源: shade = ambient + diffuse = 1
	cr, cg, cb = fr.Image.At(16, 16)
	assert.InDelta(t, 1.0, cr, 1e-9)
	assert.InDelta(t, 0.0, cg, 1e-9)
	assert.InDelta(t, 0.0, cb, 1e-9)
}

func TestSoftwareRenderer_DepthTest(t *testing.T) {
	r := newTestRenderer(t, 16)
	cam := LookAt(2.7, 0, 0, 30)
	verts := []float64{
		-3, -2, 0, 3, -2, 0, 0, 3, 0, // 远处, 红色
		-3, -2, 0.5, 3, -2, 0.5, 0, 3, 0.5, // 近处, 绿色
	}
	colors := []float64{
		1, 0, 0, 1, 0, 0, 1, 0, 0,
		0, 1, 0, 0, 1, 0, 0, 1, 0,
	}
	fr, err := r.Render(verts, [][3]int{{0, 1, 2}, {3, 4, 5}}, colors, cam)
	require.NoError(t, err)
	_, g, _ := fr.Image.At(8, 8)
	assert.InDelta(t, 1.0, g, 1e-9)
}

func TestSoftwareRenderer_RejectsBadInput(t *testing.T) {
	r := newTestRenderer(t, 8)
	cam := LookAt(2.7, 0, 0, 30)

	_, err := r.Render([]float64{0, 0}, nil, []float64{0, 0}, cam)
	assert.True(t, types.IsErrorCode(err, types.ErrShapeMismatch))

	_, err = r.Render([]float64{0, 0, 0}, nil, []float64{0, 0, 0, 1, 1, 1}, cam)
	assert.True(t, types.IsErrorCode(err, types.ErrShapeMismatch))

	_, err = r.Render([]float64{0, 0, 0}, [][3]int{{0, 0, 3}}, []float64{0, 0, 0}, cam)
	assert.True(t, types.IsErrorCode(err, types.ErrShapeMismatch))
}

func TestSoftwareRenderer_GradientMatchesFiniteDifference(t *testing.T) {
	r := newTestRenderer(t, 12)
	cam := LookAt(2.7, 5, 10, 30)
	verts, faces, colors := bigTriangle()

	rng := rand.New(rand.NewSource(7))
	g := NewImage(12, 12)
	for i := range g.Pix {
		g.Pix[i] = rng.NormFloat64()
	}
	loss := func(v, c []float64) float64 {
		fr, err := r.Render(v, faces, c, cam)
		require.NoError(t, err)
		s := 0.0
		for i := range g.Pix {
			s += g.Pix[i] * fr.Image.Pix[i]
		}
		return s
	}

	fr, err := r.Render(verts, faces, colors, cam)
	require.NoError(t, err)
	require.InDelta(t, 1.0, fr.Coverage(), 1e-12)
	gv, gc := fr.Backward(g)

	const eps = 1e-6
	check := func(name string, buf []float64, analytic []float64) {
		for i := range buf {
			orig := buf[i]
			buf[i] = orig + eps
			up := loss(verts, colors)
			buf[i] = orig - eps
			down := loss(verts, colors)
			buf[i] = orig
			numeric := (up - down) / (2 * eps)
			tol := 1e-4 * math.Max(1, math.Abs(numeric))
			assert.InDelta(t, numeric, analytic[i], tol, "%s[%d]", name, i)
		}
	}
	check("colors", colors, gc)
	check("verts", verts, gv)
}

func TestFrame_BackwardNilGradient(t *testing.T) {
	r := newTestRenderer(t, 8)
	verts, faces, colors := bigTriangle()
	fr, err := r.Render(verts, faces, colors, LookAt(2.7, 0, 0, 30))
	require.NoError(t, err)
	gv, gc := fr.Backward(nil)
	assert.Len(t, gv, len(verts))
	assert.Len(t, gc, len(colors))
}

// =============================================================================
// 🧪 Backend 注册表测试
// =============================================================================

func TestNew_Backends(t *testing.T) {
	r, err := New(SoftwareBackend, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, SoftwareBackend, r.Name())
	assert.Equal(t, 512, r.ImageSize())

	_, err = New("nvdiffrast", DefaultOptions())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCapabilityUnavailable))

	opts := DefaultOptions()
	opts.ImageSize = 0
	_, err = New(SoftwareBackend, opts)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestRegister(t *testing.T) {
	Register("test-backend", func(opts Options) (Renderer, error) { return NewSoftwareRenderer(opts) })
	assert.Contains(t, Backends(), "test-backend")
	_, err := New("test-backend", DefaultOptions())
	assert.NoError(t, err)
}
