package multiview

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/types"
)

const instrumentationName = "github.com/BaSui01/facesynth/multiview"

// =============================================================================
// 🎥 Manager
// =============================================================================

// Manager 多视角渲染管理器。三角剖分在构造时固定，之后只读。
type Manager struct {
	renderer render.Renderer
	faces    [][3]int
	fov      float64
	distance float64
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option 配置 Manager
type Option func(*Manager)

// WithFOV 设置视场角
func WithFOV(deg float64) Option {
	return func(m *Manager) { m.fov = deg }
}

// WithDistance 设置相机距离
func WithDistance(d float64) Option {
	return func(m *Manager) { m.distance = d }
}

// NewManager 创建管理器。renderer 为 nil 时返回 CAPABILITY_UNAVAILABLE。
func NewManager(r render.Renderer, faces [][3]int, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if r == nil {
		return nil, types.NewError(types.ErrCapabilityUnavailable, "multi-view rendering requires a renderer")
	}
	if len(faces) == 0 {
		return nil, types.NewError(types.ErrAssetInvalid, "triangulation is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		renderer: r,
		faces:    faces,
		fov:      DefaultFOV,
		distance: CameraDistance,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "multiview")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Renderer 返回底层渲染器
func (m *Manager) Renderer() render.Renderer { return m.renderer }

// Camera 返回视角对应的相机
func (m *Manager) Camera(spec ViewSpec) render.Camera {
	return render.LookAt(m.distance, spec.Elevation, spec.Azimuth, m.fov)
}

// View 一次渲染的结果，可反向传播到顶点和纹理
type View struct {
	Spec  ViewSpec
	Frame *render.Frame

	resampling *render.Resampling
	texW, texH int
}

// Image 返回渲染图像，取值 [0, 1]
func (v *View) Image() *render.Image { return v.Frame.Image }

// Backward 将图像梯度传回顶点位置与纹理像素
func (v *View) Backward(grad *render.Image) (gradVerts []float64, gradTex *render.Image) {
	gv, gc := v.Frame.Backward(grad)
	return gv, v.resampling.Backward(gc, v.texW, v.texH)
}

// RenderView 从指定视角渲染。verts 为完整顶点坐标（均值脸加位移），
// texture 为生成器输出的纹理，取值 [-1, 1]。未知视角回退到 front。
func (m *Manager) RenderView(ctx context.Context, verts []float64, texture *render.Image, name string) (*View, error) {
	spec, ok := Lookup(name)
	if !ok {
		m.logger.Debug("unknown view, falling back",
			zap.String("view", name),
			zap.String("fallback", DefaultView))
		spec = Resolve(DefaultView)
	}

	_, span := m.tracer.Start(ctx, "multiview.render",
		trace.WithAttributes(attribute.String("view", spec.Name)))
	defer span.End()

	n := len(verts) / 3
	rs := render.NewResampling(texture.NumPixels(), n)
	colors := rs.Forward(texture)

	fr, err := m.renderer.Render(verts, m.faces, colors, m.Camera(spec))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("render view %s: %w", spec.Name, err)
	}
	return &View{
		Spec:       spec,
		Frame:      fr,
		resampling: rs,
		texW:       texture.W,
		texH:       texture.H,
	}, nil
}

// RenderAll 渲染注册表中的全部视角
func (m *Manager) RenderAll(ctx context.Context, verts []float64, texture *render.Image) ([]*View, error) {
	views := make([]*View, 0, len(registry))
	for _, spec := range registry {
		v, err := m.RenderView(ctx, verts, texture, spec.Name)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// =============================================================================
// 🔗 一致性损失
// =============================================================================

// Consistency 一致性损失及其反向传播所需状态
type Consistency struct {
	Loss  float64
	Means [3][3]float64

	views [3]*View
}

// ConsistencyLoss 渲染 front/left/right 三个视角，比较各视角的空间平均颜色。
// 这是一个廉价的近似: 只比较均值颜色，而不是逐像素或感知特征。
func (m *Manager) ConsistencyLoss(ctx context.Context, verts []float64, texture *render.Image) (*Consistency, error) {
	c := &Consistency{}
	for i, name := range consistencyViews {
		v, err := m.RenderView(ctx, verts, texture, name)
		if err != nil {
			return nil, fmt.Errorf("consistency: %w", err)
		}
		c.views[i] = v
		c.Means[i] = v.Image().MeanColor()
	}
	c.Loss = MeanColorLoss(c.Means[:])
	return c, nil
}

// Backward 返回 scale·Loss 对顶点与纹理的梯度
func (c *Consistency) Backward(scale float64) (gradVerts []float64, gradTex *render.Image) {
	grads := MeanColorLossGrad(c.Means[:])
	for i, v := range c.views {
		img := v.Image()
		g := render.NewImage(img.W, img.H)
		inv := scale / float64(img.NumPixels())
		for p := 0; p < img.NumPixels(); p++ {
			for ch := 0; ch < 3; ch++ {
				g.Pix[p*3+ch] = grads[i][ch] * inv
			}
		}
		gv, gt := v.Backward(g)
		if gradVerts == nil {
			gradVerts, gradTex = gv, gt
			continue
		}
		for k := range gv {
			gradVerts[k] += gv[k]
		}
		for k := range gt.Pix {
			gradTex.Pix[k] += gt.Pix[k]
		}
	}
	return gradVerts, gradTex
}

// MeanColorLoss 对每一对视角求均值颜色的均方误差，求和后除以视角数。
// 均方误差在 3 个通道上取平均，等于平方欧氏距离的 1/3。
func MeanColorLoss(means [][3]float64) float64 {
	if len(means) == 0 {
		return 0
	}
	loss := 0.0
	for i := 0; i < len(means); i++ {
		for j := i + 1; j < len(means); j++ {
			for ch := 0; ch < 3; ch++ {
				d := means[i][ch] - means[j][ch]
				loss += d * d / 3
			}
		}
	}
	return loss / float64(len(means))
}

// MeanColorLossGrad MeanColorLoss 对每个均值颜色的梯度
func MeanColorLossGrad(means [][3]float64) [][3]float64 {
	out := make([][3]float64, len(means))
	if len(means) == 0 {
		return out
	}
	k := 2.0 / 3 / float64(len(means))
	for i := range means {
		for j := range means {
			if i == j {
				continue
			}
			for ch := 0; ch < 3; ch++ {
				out[i][ch] += k * (means[i][ch] - means[j][ch])
			}
		}
	}
	return out
}
