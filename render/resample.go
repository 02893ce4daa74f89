package render

// Resampling aligns a texture's flattened pixel list with a mesh's vertex
// list. Texture values in [-1, 1] are mapped to colors in [0, 1].
//
// When the texture has fewer pixels than vertices the pixel sequence is
// linearly interpolated (half-pixel centers, edges clamped). When it has
// more, pixels are picked at evenly spaced indices from 0 to P-1. Equal
// sizes are passed through. Coarse brightness and spatial ordering are
// preserved in every case.
type Resampling struct {
	pixels   int
	vertices int
	idx0     []int
	idx1     []int
	w1       []float64
}

// NewResampling builds the mapping from p texture pixels to n vertices.
func NewResampling(p, n int) *Resampling {
	r := &Resampling{
		pixels:   p,
		vertices: n,
		idx0:     make([]int, n),
		idx1:     make([]int, n),
		w1:       make([]float64, n),
	}
	if p == 0 {
		return r
	}

	switch {
	case p < n:
		scale := float64(p) / float64(n)
		for i := 0; i < n; i++ {
			src := (float64(i)+0.5)*scale - 0.5
			if src < 0 {
				src = 0
			}
			i0 := int(src)
			i1 := i0
			if i0 < p-1 {
				i1 = i0 + 1
			}
			r.idx0[i], r.idx1[i], r.w1[i] = i0, i1, src-float64(i0)
		}
	case p > n:
		for i := 0; i < n; i++ {
			j := 0
			if n > 1 {
				j = int(float64(i) * float64(p-1) / float64(n-1))
			}
			r.idx0[i], r.idx1[i] = j, j
		}
	default:
		for i := 0; i < n; i++ {
			r.idx0[i], r.idx1[i] = i, i
		}
	}
	return r
}

// Vertices returns the output length in vertices.
func (r *Resampling) Vertices() int { return r.vertices }

// Pixels returns the expected input length in pixels.
func (r *Resampling) Pixels() int { return r.pixels }

// Forward returns per-vertex colors (n·3 values) for tex. tex must have
// exactly Pixels() pixels.
func (r *Resampling) Forward(tex *Image) []float64 {
	out := make([]float64, r.vertices*3)
	if r.pixels == 0 {
		return out
	}
	for i := 0; i < r.vertices; i++ {
		a, b, w := r.idx0[i]*3, r.idx1[i]*3, r.w1[i]
		for c := 0; c < 3; c++ {
			v := (1-w)*tex.Pix[a+c] + w*tex.Pix[b+c]
			out[i*3+c] = (v + 1) / 2
		}
	}
	return out
}

// Backward maps a gradient with respect to vertex colors back onto the
// texture pixels of a w×h texture.
func (r *Resampling) Backward(gradColors []float64, w, h int) *Image {
	g := NewImage(w, h)
	if r.pixels == 0 {
		return g
	}
	for i := 0; i < r.vertices; i++ {
		a, b, wt := r.idx0[i]*3, r.idx1[i]*3, r.w1[i]
		for c := 0; c < 3; c++ {
			gv := gradColors[i*3+c] / 2
			g.Pix[a+c] += (1 - wt) * gv
			g.Pix[b+c] += wt * gv
		}
	}
	return g
}

// VertexColors resamples tex to n vertex colors in one call.
func VertexColors(tex *Image, n int) []float64 {
	return NewResampling(tex.NumPixels(), n).Forward(tex)
}
