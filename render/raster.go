package render

import (
	"math"

	"github.com/BaSui01/facesynth/types"
)

// SoftwareRenderer is a z-buffered scanline rasterizer with flat two-sided
// Lambertian shading.
type SoftwareRenderer struct {
	opts  Options
	light vec3
}

// NewSoftwareRenderer validates opts and returns a CPU renderer.
func NewSoftwareRenderer(opts Options) (*SoftwareRenderer, error) {
	if opts.ImageSize <= 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "image size must be positive, got %d", opts.ImageSize)
	}
	if opts.ZNear <= 0 {
		opts.ZNear = DefaultOptions().ZNear
	}
	light := vec3(opts.LightDir).unit()
	if light.norm() == 0 {
		light = vec3{0, 0, 1}
	}
	return &SoftwareRenderer{opts: opts, light: light}, nil
}

func (r *SoftwareRenderer) Name() string   { return SoftwareBackend }
func (r *SoftwareRenderer) ImageSize() int { return r.opts.ImageSize }

// faceState caches the per-face quantities needed by Backward.
type faceState struct {
	proj   [3]projection
	area   float64
	shade  float64
	normal vec3
	cnorm  float64
	sign   float64
	ok     bool
}

// Frame is a rendered image plus everything needed to backpropagate
// through it.
type Frame struct {
	Image *Image

	verts   []float64
	faces   [][3]int
	colors  []float64
	diffuse float64
	light   vec3
	state   []faceState
	pixFace []int32
	pixW    [][3]float64
}

// Render rasterizes the mesh. It fails only on malformed inputs.
func (r *SoftwareRenderer) Render(verts []float64, faces [][3]int, colors []float64, cam Camera) (*Frame, error) {
	if len(verts)%3 != 0 {
		return nil, types.Errorf(types.ErrShapeMismatch, "vertex buffer length %d not divisible by 3", len(verts))
	}
	if len(colors) != len(verts) {
		return nil, types.Errorf(types.ErrShapeMismatch,
			"color buffer has %d values, vertex buffer has %d", len(colors), len(verts))
	}
	n := len(verts) / 3
	size := r.opts.ImageSize

	fr := &Frame{
		Image:   NewImage(size, size),
		verts:   verts,
		faces:   faces,
		colors:  colors,
		diffuse: r.opts.Diffuse,
		light:   r.light,
		state:   make([]faceState, len(faces)),
		pixFace: make([]int32, size*size),
		pixW:    make([][3]float64, size*size),
	}
	for i := range fr.Image.Pix {
		fr.Image.Pix[i] = r.opts.Background
	}
	for i := range fr.pixFace {
		fr.pixFace[i] = -1
	}
	zbuf := make([]float64, size*size)
	for i := range zbuf {
		zbuf[i] = math.Inf(1)
	}

	vertex := func(i int) vec3 { return vec3{verts[i*3], verts[i*3+1], verts[i*3+2]} }

	for fi, f := range faces {
		if f[0] < 0 || f[0] >= n || f[1] < 0 || f[1] >= n || f[2] < 0 || f[2] >= n {
			return nil, types.Errorf(types.ErrShapeMismatch, "face %d references a missing vertex", fi)
		}
		st := &fr.state[fi]
		v0, v1, v2 := vertex(f[0]), vertex(f[1]), vertex(f[2])
		st.proj = [3]projection{
			cam.project(v0, size, size),
			cam.project(v1, size, size),
			cam.project(v2, size, size),
		}
		if st.proj[0].depth <= r.opts.ZNear || st.proj[1].depth <= r.opts.ZNear || st.proj[2].depth <= r.opts.ZNear {
			continue
		}
		q := st.proj
		st.area = edge(q[0].sx, q[0].sy, q[1].sx, q[1].sy, q[2].sx, q[2].sy)
		if math.Abs(st.area) < 1e-12 {
			continue
		}

		c := v1.sub(v0).cross(v2.sub(v0))
		st.cnorm = c.norm()
		if st.cnorm == 0 {
			continue
		}
		st.normal = c.scale(1 / st.cnorm)
		ndl := st.normal.dot(r.light)
		st.sign = 1
		if ndl < 0 {
			st.sign = -1
		}
		st.shade = r.opts.Ambient + r.opts.Diffuse*math.Abs(ndl)
		st.ok = true

		minX := clampInt(int(math.Floor(math.Min(q[0].sx, math.Min(q[1].sx, q[2].sx)))), 0, size-1)
		maxX := clampInt(int(math.Ceil(math.Max(q[0].sx, math.Max(q[1].sx, q[2].sx)))), 0, size-1)
		minY := clampInt(int(math.Floor(math.Min(q[0].sy, math.Min(q[1].sy, q[2].sy)))), 0, size-1)
		maxY := clampInt(int(math.Ceil(math.Max(q[0].sy, math.Max(q[1].sy, q[2].sy)))), 0, size-1)

		for y := minY; y <= maxY; y++ {
			py := float64(y) + 0.5
			for x := minX; x <= maxX; x++ {
				px := float64(x) + 0.5
				w0 := edge(q[1].sx, q[1].sy, q[2].sx, q[2].sy, px, py) / st.area
				w1 := edge(q[2].sx, q[2].sy, q[0].sx, q[0].sy, px, py) / st.area
				w2 := edge(q[0].sx, q[0].sy, q[1].sx, q[1].sy, px, py) / st.area
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				z := w0*q[0].depth + w1*q[1].depth + w2*q[2].depth
				pi := y*size + x
				if z >= zbuf[pi] {
					continue
				}
				zbuf[pi] = z
				fr.pixFace[pi] = int32(fi)
				fr.pixW[pi] = [3]float64{w0, w1, w2}
			}
		}
	}

	for pi, fi := range fr.pixFace {
		if fi < 0 {
			continue
		}
		f := faces[fi]
		w := fr.pixW[pi]
		s := fr.state[fi].shade
		for c := 0; c < 3; c++ {
			v := w[0]*colors[f[0]*3+c] + w[1]*colors[f[1]*3+c] + w[2]*colors[f[2]*3+c]
			fr.Image.Pix[pi*3+c] = s * v
		}
	}
	return fr, nil
}

// Coverage returns the fraction of pixels covered by the mesh.
func (fr *Frame) Coverage() float64 {
	if len(fr.pixFace) == 0 {
		return 0
	}
	hit := 0
	for _, fi := range fr.pixFace {
		if fi >= 0 {
			hit++
		}
	}
	return float64(hit) / float64(len(fr.pixFace))
}

// Backward returns the gradients of a scalar loss with respect to vertex
// positions and vertex colors, given the loss gradient with respect to
// the rendered image.
func (fr *Frame) Backward(grad *Image) (gradVerts, gradColors []float64) {
	gradVerts = make([]float64, len(fr.verts))
	gradColors = make([]float64, len(fr.colors))
	if grad == nil {
		return gradVerts, gradColors
	}

	// screen-space gradient per face corner, and shading gradient per face
	gq := make([][3][2]float64, len(fr.faces))
	gshade := make([]float64, len(fr.faces))

	for pi, fi := range fr.pixFace {
		if fi < 0 {
			continue
		}
		f := fr.faces[fi]
		st := &fr.state[fi]
		w := fr.pixW[pi]
		g := [3]float64{grad.Pix[pi*3], grad.Pix[pi*3+1], grad.Pix[pi*3+2]}
		if g[0] == 0 && g[1] == 0 && g[2] == 0 {
			continue
		}

		// dL/dw_k = shade · Σ_c g_c · color_k,c
		var gw [3]float64
		for k := 0; k < 3; k++ {
			base := f[k] * 3
			for c := 0; c < 3; c++ {
				col := fr.colors[base+c]
				gw[k] += st.shade * g[c] * col
				gradColors[base+c] += st.shade * w[k] * g[c]
			}
		}
		for c := 0; c < 3; c++ {
			interp := w[0]*fr.colors[f[0]*3+c] + w[1]*fr.colors[f[1]*3+c] + w[2]*fr.colors[f[2]*3+c]
			gshade[fi] += g[c] * interp
		}

		// w_k = e_k / A. dw_k/dq = (de_k/dq - w_k dA/dq) / A
		q := st.proj
		px := float64(pi%grad.W) + 0.5
		py := float64(pi/grad.W) + 0.5
		var acc [3][2]float64
		addEdgeGrad(&acc, 1, 2, -1, q, px, py, gw[0])
		addEdgeGrad(&acc, 2, 0, -1, q, px, py, gw[1])
		addEdgeGrad(&acc, 0, 1, -1, q, px, py, gw[2])
		gwSum := gw[0]*w[0] + gw[1]*w[1] + gw[2]*w[2]
		addEdgeGrad(&acc, 0, 1, 2, q, 0, 0, -gwSum)
		for k := 0; k < 3; k++ {
			gq[fi][k][0] += acc[k][0] / st.area
			gq[fi][k][1] += acc[k][1] / st.area
		}
	}

	for fi, f := range fr.faces {
		st := &fr.state[fi]
		if !st.ok {
			continue
		}
		for k := 0; k < 3; k++ {
			d := st.proj[k].dsx.scale(gq[fi][k][0]).add(st.proj[k].dsy.scale(gq[fi][k][1]))
			addVec(gradVerts, f[k], d)
		}

		if gshade[fi] == 0 {
			continue
		}
		// shade = ambient + diffuse·|n·l|, n = c/|c|, c = (v1-v0)×(v2-v0)
		gn := fr.light.scale(gshade[fi] * fr.diffuse * st.sign)
		gc := gn.sub(st.normal.scale(st.normal.dot(gn))).scale(1 / st.cnorm)
		v0 := vertexAt(fr.verts, f[0])
		e1 := vertexAt(fr.verts, f[1]).sub(v0)
		e2 := vertexAt(fr.verts, f[2]).sub(v0)
		ge1 := e2.cross(gc)
		ge2 := gc.cross(e1)
		addVec(gradVerts, f[1], ge1)
		addVec(gradVerts, f[2], ge2)
		addVec(gradVerts, f[0], ge1.add(ge2).scale(-1))
	}
	return gradVerts, gradColors
}

// addEdgeGrad accumulates scale·dE/dq into acc, where
// E = (b-a)×(p-a) in 2-D. When pk >= 0 the point p is corner pk of q,
// otherwise p is the fixed pixel center (px, py).
func addEdgeGrad(acc *[3][2]float64, ak, bk, pk int, q [3]projection, px, py, scale float64) {
	ax, ay := q[ak].sx, q[ak].sy
	bx, by := q[bk].sx, q[bk].sy
	if pk >= 0 {
		px, py = q[pk].sx, q[pk].sy
	}
	acc[ak][0] += scale * (by - py)
	acc[ak][1] += scale * (px - bx)
	acc[bk][0] += scale * (py - ay)
	acc[bk][1] += scale * (ax - px)
	if pk >= 0 {
		acc[pk][0] += scale * (ay - by)
		acc[pk][1] += scale * (bx - ax)
	}
}

// edge returns (b-a)×(p-a).
func edge(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func vertexAt(verts []float64, i int) vec3 {
	return vec3{verts[i*3], verts[i*3+1], verts[i*3+2]}
}

func addVec(dst []float64, i int, v vec3) {
	dst[i*3] += v[0]
	dst[i*3+1] += v[1]
	dst[i*3+2] += v[2]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
