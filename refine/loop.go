package refine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/internal/ctxkeys"
	"github.com/BaSui01/facesynth/internal/metrics"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/quality"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/report"
	"github.com/BaSui01/facesynth/schedule"
	"github.com/BaSui01/facesynth/types"
)

const instrumentationName = "github.com/BaSui01/facesynth/refine"

// =============================================================================
// 🔌 协作者接口
// =============================================================================

// TextureGenerator 由潜变量合成 [-1,1] 纹理，并返回对潜变量的反向函数
type TextureGenerator interface {
	Synthesize(ctx context.Context, latent []float64) (*render.Image, func(grad *render.Image) []float64, error)
}

// Scorer 图文相似度损失，返回损失和对图像的梯度
type Scorer interface {
	Score(ctx context.Context, img *render.Image, text string) (float64, *render.Image, error)
}

// RecordSink 接收每一步的质量记录（例如数据库镜像）
type RecordSink interface {
	AppendRecord(ctx context.Context, r quality.Record) error
}

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Options 优化循环配置
type Options struct {
	Steps               int
	Base                schedule.Base
	MultiView           bool
	ConsistencyWeight   float64
	ConsistencyInterval int
	SaveMultiView       bool
	// SaveStep 中间产物间隔，0 表示不写
	SaveStep int
	// InterDir 中间产物目录，下含 texture_map/ 与 render/
	InterDir string
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Steps:               100,
		Base:                schedule.DefaultBase(),
		ConsistencyWeight:   0.1,
		ConsistencyInterval: 5,
		SaveStep:            10,
		InterDir:            "./result/inter_result",
	}
}

// Validate 校验配置，收集全部错误
func (o Options) Validate() error {
	var errs []error
	if o.Steps <= 0 {
		errs = append(errs, fmt.Errorf("steps must be positive, got %d", o.Steps))
	}
	if o.Base.LRLatent < 0 || o.Base.LRParam < 0 {
		errs = append(errs, errors.New("learning rates must be non-negative"))
	}
	if o.Base.LambdaLatent < 0 || o.Base.LambdaParam < 0 {
		errs = append(errs, errors.New("regularization weights must be non-negative"))
	}
	if o.MultiView && o.ConsistencyInterval <= 0 {
		errs = append(errs, fmt.Errorf("consistency_interval must be positive, got %d", o.ConsistencyInterval))
	}
	if o.SaveStep < 0 {
		errs = append(errs, fmt.Errorf("save_step must be non-negative, got %d", o.SaveStep))
	}
	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, errors.Join(errs...).Error())
	}
	return nil
}

// =============================================================================
// 🔁 Loop
// =============================================================================

// Loop 文本引导的纹理潜变量与形状参数联合优化
type Loop struct {
	opts    Options
	assets  *mesh.Assets
	views   *multiview.Manager
	texture TextureGenerator
	scorer  Scorer
	tracker *quality.Tracker
	reports *report.Writer
	sink    RecordSink
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// LoopOption 配置 Loop
type LoopOption func(*Loop)

// WithReportWriter 循环结束后写出报告
func WithReportWriter(w *report.Writer) LoopOption {
	return func(l *Loop) { l.reports = w }
}

// WithRecordSink 将每条质量记录镜像到 sink
func WithRecordSink(s RecordSink) LoopOption {
	return func(l *Loop) { l.sink = s }
}

// WithMetrics 记录 Prometheus 指标
func WithMetrics(c *metrics.Collector) LoopOption {
	return func(l *Loop) { l.metrics = c }
}

// WithTracerProvider 替换全局 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) LoopOption {
	return func(l *Loop) { l.tracer = tp.Tracer(instrumentationName) }
}

// NewLoop 创建优化循环。所有必需协作者缺失时直接报错。
func NewLoop(opts Options, assets *mesh.Assets, views *multiview.Manager, texture TextureGenerator,
	scorer Scorer, tracker *quality.Tracker, logger *zap.Logger, lopts ...LoopOption) (*Loop, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if assets == nil || views == nil || texture == nil || scorer == nil || tracker == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "refine loop requires assets, views, texture generator, scorer and tracker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		opts:    opts,
		assets:  assets,
		views:   views,
		texture: texture,
		scorer:  scorer,
		tracker: tracker,
		tracer:  otel.Tracer(instrumentationName),
		logger:  logger.With(zap.String("component", "refine")),
	}
	for _, o := range lopts {
		o(l)
	}
	return l, nil
}

// Options 返回循环配置
func (l *Loop) Options() Options { return l.opts }

// State 可优化参数
type State struct {
	Latent []float64
	Param  []float64
}

func (s State) clone() State {
	return State{
		Latent: append([]float64(nil), s.Latent...),
		Param:  append([]float64(nil), s.Param...),
	}
}

// StepMetrics 单步的损失分量
type StepMetrics struct {
	Iteration   int
	Stage       string
	Clip        float64
	L2Latent    float64
	L2Param     float64
	Consistency float64
	Total       float64
	Score       float64
	IsBest      bool
}

// Result 精修结果。参数来自最佳快照，而不是最后一次迭代。
type Result struct {
	State         State
	BestIteration int
	BestScore     float64
	// Texture 最终纹理，取值 [-1,1]
	Texture *render.Image
	// Vertices 最终顶点（均值脸加位移）
	Vertices []float64
	Report   *quality.Report
	Reports  report.Paths
}

// contextLogger 附加 context 中的运行标识
func contextLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if id, ok := ctxkeys.RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	if id, ok := ctxkeys.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	if p, ok := ctxkeys.Prompt(ctx); ok {
		fields = append(fields, zap.String("prompt", p))
	}
	return logger.With(fields...)
}

// Run 执行 Steps 次优化，然后用最佳快照替换最终参数。
func (l *Loop) Run(ctx context.Context, init State, prompt string) (*Result, error) {
	if len(init.Param) != l.assets.Basis.Rank {
		return nil, types.Errorf(types.ErrShapeMismatch, "shape parameter has %d values, basis rank is %d", len(init.Param), l.assets.Basis.Rank)
	}
	ctx = ctxkeys.WithPrompt(ctx, prompt)
	ctx, span := l.tracer.Start(ctx, "refine.run", trace.WithAttributes(
		attribute.String("prompt", prompt),
		attribute.Int("steps", l.opts.Steps),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
	}
	logger := contextLogger(ctx, l.logger)

	anchor := init.clone()
	cur := init.clone()
	sched := schedule.New(l.opts.Steps, l.opts.Base)
	s1, s2 := sched.Boundaries()
	logger.Info("refinement started",
		zap.Int("steps", l.opts.Steps),
		zap.Int("stage1_end", s1),
		zap.Int("stage2_end", s2),
		zap.Bool("multi_view", l.opts.MultiView))

	first := sched.Params(0)
	optLatent := NewAdam(len(cur.Latent), first.LRLatent)
	optParam := NewAdam(len(cur.Param), first.LRParam)
	stage := first.Stage

	for i := 0; i < l.opts.Steps; i++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}
		cfg := sched.Params(i)
		if cfg.Stage != stage {
			logger.Info("stage transition",
				zap.Int("iteration", i),
				zap.String("from", stage),
				zap.String("to", cfg.Stage))
			if l.metrics != nil {
				l.metrics.RecordStageTransition(stage, cfg.Stage)
			}
			stage = cfg.Stage
		}
		// 每步按调度设置学习率，Adam 动量跨阶段保留
		optLatent.SetLR(cfg.LRLatent)
		optParam.SetLR(cfg.LRParam)

		start := time.Now()
		m, frame, err := l.step(ctx, i, cfg, &cur, anchor, optLatent, optParam, prompt, logger)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("refine step %d: %w", i, err)
		}
		if l.metrics != nil {
			l.metrics.RecordStep(cfg.Stage, time.Since(start))
		}
		logger.Debug("step",
			zap.Int("iteration", i),
			zap.String("stage", cfg.Stage),
			zap.Float64("clip", m.Clip),
			zap.Float64("l2_latent", m.L2Latent),
			zap.Float64("l2_param", m.L2Param),
			zap.Float64("consistency", m.Consistency),
			zap.Float64("total", m.Total),
			zap.Float64("score", m.Score))

		if l.opts.SaveStep > 0 && i%l.opts.SaveStep == 0 {
			l.saveIntermediate(ctx, i, cur, frame, logger)
		}
	}

	return l.finish(ctx, cur, logger)
}

// step 执行一次前向、反向与参数更新，并返回被评分的正面渲染。
// 最佳快照保存的是产生本步损失的参数（更新前）。
func (l *Loop) step(ctx context.Context, i int, cfg schedule.StageConfig, cur *State, anchor State,
	optLatent, optParam *Adam, prompt string, logger *zap.Logger) (StepMetrics, *render.Image, error) {
	ctx, span := l.tracer.Start(ctx, "refine.step", trace.WithAttributes(
		attribute.Int("iteration", i),
		attribute.String("stage", cfg.Stage),
	))
	defer span.End()

	m := StepMetrics{Iteration: i, Stage: cfg.Stage}

	tex, texBackward, err := l.texture.Synthesize(ctx, cur.Latent)
	if err != nil {
		return m, nil, fmt.Errorf("synthesize texture: %w", err)
	}
	verts := l.assets.Vertices(cur.Param)

	renderStart := time.Now()
	view, err := l.views.RenderView(ctx, verts, tex, multiview.DefaultView)
	if err != nil {
		return m, nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordRender(view.Spec.Name, time.Since(renderStart))
	}

	clip, gradImg, err := l.scorer.Score(ctx, view.Image(), prompt)
	if err != nil {
		return m, nil, fmt.Errorf("score render: %w", err)
	}
	m.Clip = clip
	m.L2Latent = sqDist(cur.Latent, anchor.Latent)
	m.L2Param = sqDist(cur.Param, anchor.Param)

	var cons *multiview.Consistency
	if l.opts.MultiView && i%l.opts.ConsistencyInterval == 0 {
		cons, err = l.views.ConsistencyLoss(ctx, verts, tex)
		if err != nil {
			return m, nil, err
		}
		m.Consistency = cons.Loss
	}

	m.Total = m.Clip + cfg.LambdaLatent*m.L2Latent + cfg.LambdaParam*m.L2Param + l.opts.ConsistencyWeight*m.Consistency

	// 反向传播：图像 → 顶点/纹理 → 形状参数/潜变量
	gradVerts, gradTex := view.Backward(gradImg)
	if cons != nil {
		gv, gt := cons.Backward(l.opts.ConsistencyWeight)
		addInto(gradVerts, gv)
		addInto(gradTex.Pix, gt.Pix)
	}
	gradParam := l.assets.Basis.Backward(gradVerts)
	gradLatent := texBackward(gradTex)
	for k := range gradLatent {
		gradLatent[k] += 2 * cfg.LambdaLatent * (cur.Latent[k] - anchor.Latent[k])
	}
	for k := range gradParam {
		gradParam[k] += 2 * cfg.LambdaParam * (cur.Param[k] - anchor.Param[k])
	}

	m.IsBest, m.Score = l.tracker.Evaluate(i, m.Clip, m.L2Latent, m.L2Param, m.Total)
	l.observe(m, logger)
	if m.IsBest {
		if err := l.tracker.SaveBestState(ctx, cur.Latent, cur.Param, i); err != nil {
			// 快照持久化失败不影响内存中的最佳记录
			logger.Warn("persist best snapshot failed", zap.Int("iteration", i), zap.Error(err))
		}
	}
	if l.sink != nil {
		if rec, ok := l.tracker.Latest(); ok && rec.Iteration == i {
			if err := l.sink.AppendRecord(ctx, rec); err != nil {
				logger.Warn("mirror quality record failed", zap.Int("iteration", i), zap.Error(err))
			}
		}
	}

	if !allFinite(gradLatent) || !allFinite(gradParam) {
		logger.Warn("non-finite gradient, skipping update", zap.Int("iteration", i))
		if l.metrics != nil {
			l.metrics.RecordDegenerate("gradient")
		}
		return m, view.Image(), nil
	}
	optLatent.Step(cur.Latent, gradLatent)
	optParam.Step(cur.Param, gradParam)
	return m, view.Image(), nil
}

func (l *Loop) observe(m StepMetrics, logger *zap.Logger) {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"clip", m.Clip},
		{"l2_latent", m.L2Latent},
		{"l2_param", m.L2Param},
		{"consistency", m.Consistency},
		{"total", m.Total},
	} {
		if !quality.Finite(c.v) {
			logger.Warn("non-finite loss term",
				zap.Int("iteration", m.Iteration),
				zap.String("term", c.name),
				zap.Float64("value", c.v))
			if l.metrics != nil {
				l.metrics.RecordDegenerate(c.name)
			}
		}
		if l.metrics != nil {
			l.metrics.RecordLoss(c.name, c.v)
		}
	}
	if l.metrics != nil {
		l.metrics.RecordLoss("quality", m.Score)
		if m.IsBest {
			l.metrics.RecordBest(m.Iteration, m.Score)
		}
	}
	if m.IsBest {
		logger.Debug("new best", zap.Int("iteration", m.Iteration), zap.Float64("score", m.Score))
	}
}

// finish 写报告，然后重新加载最佳快照作为最终参数
func (l *Loop) finish(ctx context.Context, last State, logger *zap.Logger) (*Result, error) {
	res := &Result{}

	rep, err := l.tracker.Report()
	if err != nil {
		return nil, err
	}
	res.Report = rep
	if l.reports != nil {
		paths, err := l.reports.Write(rep, l.tracker.History())
		if l.metrics != nil {
			l.metrics.RecordArtifact("report", err)
		}
		if err != nil {
			logger.Warn("write optimization report failed", zap.Error(err))
		} else {
			res.Reports = paths
		}
	}

	final := last
	snap, err := l.tracker.LoadBest(ctx)
	switch {
	case err == nil:
		if len(snap.Latent) != len(last.Latent) || len(snap.Param) != len(last.Param) {
			return nil, types.Errorf(types.ErrShapeMismatch,
				"best snapshot has latent %d / param %d, run has %d / %d",
				len(snap.Latent), len(snap.Param), len(last.Latent), len(last.Param))
		}
		final = State{Latent: snap.Latent, Param: snap.Param}
		res.BestIteration, res.BestScore = snap.Iteration, snap.Score
		logger.Info("reloaded best snapshot",
			zap.Int("iteration", snap.Iteration),
			zap.Float64("score", snap.Score))
	case types.IsErrorCode(err, types.ErrSnapshotMissing):
		logger.Warn("no finite quality score observed, keeping final iterate")
		res.BestIteration, res.BestScore = -1, math.Inf(1)
	default:
		return nil, fmt.Errorf("reload best snapshot: %w", err)
	}
	res.State = final.clone()

	tex, _, err := l.texture.Synthesize(ctx, res.State.Latent)
	if err != nil {
		return nil, fmt.Errorf("synthesize final texture: %w", err)
	}
	res.Texture = tex
	res.Vertices = l.assets.Vertices(res.State.Param)
	return res, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func addInto(dst, src []float64) {
	for i := range src {
		dst[i] += src[i]
	}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !quality.Finite(x) {
			return false
		}
	}
	return true
}
