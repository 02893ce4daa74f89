package refine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/BaSui01/facesynth/internal/ctxkeys"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/quality"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/report"
	"github.com/BaSui01/facesynth/schedule"
	"github.com/BaSui01/facesynth/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

// tanhTexture 2×2 纹理，像素 = tanh(latent)
type tanhTexture struct{}

func (tanhTexture) Synthesize(ctx context.Context, latent []float64) (*render.Image, func(*render.Image) []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	img := render.NewImage(2, 2)
	for i := range img.Pix {
		img.Pix[i] = math.Tanh(latent[i])
	}
	back := func(grad *render.Image) []float64 {
		g := make([]float64, len(latent))
		for i, p := range img.Pix {
			g[i] = grad.Pix[i] * (1 - p*p)
		}
		return g
	}
	return img, back, nil
}

// targetScorer 均方误差到固定颜色
type targetScorer struct {
	target float64
	nan    bool
}

func (s targetScorer) Score(_ context.Context, img *render.Image, _ string) (float64, *render.Image, error) {
	grad := render.NewImage(img.W, img.H)
	n := float64(len(img.Pix))
	var loss float64
	for i, p := range img.Pix {
		d := p - s.target
		loss += d * d / n
		grad.Pix[i] = 2 * d / n
	}
	if s.nan {
		loss = math.NaN()
	}
	return loss, grad, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []quality.Record
}

func (s *memorySink) AppendRecord(_ context.Context, r quality.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func testAssets(t *testing.T) *mesh.Assets {
	t.Helper()
	verts := &mesh.Array{Shape: []int{4, 3}, Data: []float64{
		-0.5, -0.5, 0,
		0.5, -0.5, 0,
		0.5, 0.5, 0.1,
		-0.5, 0.5, 0,
	}}
	faces := &mesh.Array{Shape: []int{2, 3}, Data: []float64{0, 1, 2, 0, 2, 3}}
	basis, err := mesh.NewBasis(&mesh.Array{Shape: []int{2, 12}, Data: []float64{
		0, 0, 0, 0, 0, 0, 0, 0, 0.1, 0, 0, 0,
		-0.1, 0, 0, 0.1, 0, 0, 0.1, 0, 0, -0.1, 0, 0,
	}})
	require.NoError(t, err)
	a, err := mesh.NewAssets(nil, verts, faces, basis)
	require.NoError(t, err)
	return a
}

func testViews(t *testing.T, a *mesh.Assets) *multiview.Manager {
	t.Helper()
	opts := render.DefaultOptions()
	opts.ImageSize = 24
	r, err := render.New(render.SoftwareBackend, opts)
	require.NoError(t, err)
	m, err := multiview.NewManager(r, a.Faces, nil)
	require.NoError(t, err)
	return m
}

func initState() State {
	return State{
		Latent: []float64{0.1, -0.2, 0.3, 0, 0.5, -0.4, 0.2, 0.2, -0.1, 0.3, 0, -0.3},
		Param:  []float64{0, 0},
	}
}

func testOptions(dir string) Options {
	opts := DefaultOptions()
	opts.Steps = 20
	opts.Base.LRLatent = 0.05
	opts.Base.LRParam = 0.05
	opts.MultiView = true
	opts.SaveStep = 5
	opts.InterDir = filepath.Join(dir, "inter")
	return opts
}

// =============================================================================
// 🧪 Adam 测试
// =============================================================================

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	a := NewAdam(2, 0.1)
	p := []float64{1, 1}
	a.Step(p, []float64{3, -0.5})
	assert.InDelta(t, 0.9, p[0], 1e-6)
	assert.InDelta(t, 1.1, p[1], 1e-6)
	assert.Equal(t, 1, a.Steps())
}

func TestAdam_SetLRKeepsMoments(t *testing.T) {
	a := NewAdam(1, 0.1)
	p := []float64{0}
	a.Step(p, []float64{1})
	a.Step(p, []float64{1})
	a.SetLR(0.01)
	assert.Equal(t, 0.01, a.LR())
	assert.Equal(t, 2, a.Steps())

	before := p[0]
	a.Step(p, []float64{1})
	assert.InDelta(t, before-0.01, p[0], 1e-6)
	assert.Equal(t, 3, a.Steps())
}

func TestProperty_Adam_DescendsOnQuadratic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x0 := rapid.Float64Range(-10, 10).Draw(t, "x0")
		a := NewAdam(1, 0.05)
		p := []float64{x0}
		for i := 0; i < 200; i++ {
			a.Step(p, []float64{2 * p[0]})
		}
		// 末期在最小值附近振荡，幅度受学习率约束
		if math.Abs(p[0]) > math.Max(math.Abs(x0), 0.5) {
			t.Fatalf("moved away from minimum: %v -> %v", x0, p[0])
		}
	})
}

// =============================================================================
// 🧪 Options 测试
// =============================================================================

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.Steps = 0
	bad.SaveStep = -1
	bad.MultiView = true
	bad.ConsistencyInterval = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "steps")
	assert.Contains(t, err.Error(), "save_step")
	assert.Contains(t, err.Error(), "consistency_interval")
}

func TestNewLoop_RequiresCollaborators(t *testing.T) {
	a := testAssets(t)
	_, err := NewLoop(DefaultOptions(), a, nil, tanhTexture{}, targetScorer{}, quality.NewTracker(nil), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

// =============================================================================
// 🧪 Loop 测试
// =============================================================================

func TestLoop_Run(t *testing.T) {
	dir := t.TempDir()
	a := testAssets(t)
	views := testViews(t, a)
	store, err := quality.NewFileStore(dir)
	require.NoError(t, err)
	tracker := quality.NewTracker(nil, quality.WithStore(store))
	sink := &memorySink{}
	opts := testOptions(dir)

	loop, err := NewLoop(opts, a, views, tanhTexture{}, targetScorer{target: 0.8}, tracker, nil,
		WithReportWriter(report.NewWriter(dir, nil)),
		WithRecordSink(sink))
	require.NoError(t, err)

	init := initState()
	res, err := loop.Run(context.Background(), init, "a pale face")
	require.NoError(t, err)

	history := tracker.History()
	require.Len(t, history, opts.Steps)
	assert.Equal(t, history, sink.records)
	assert.Equal(t, initState(), init, "initial state must not be mutated")

	// 最终参数来自最佳快照
	bestIter, bestScore := tracker.Best()
	assert.Equal(t, bestIter, res.BestIteration)
	assert.Equal(t, bestScore, res.BestScore)
	snap, err := store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Latent, res.State.Latent)
	assert.Equal(t, snap.Param, res.State.Param)
	assert.Equal(t, a.Vertices(res.State.Param), res.Vertices)

	// 快照参数复现最佳迭代的 clip 损失
	tex, _, err := tanhTexture{}.Synthesize(context.Background(), snap.Latent)
	require.NoError(t, err)
	view, err := views.RenderView(context.Background(), a.Vertices(snap.Param), tex, multiview.DefaultView)
	require.NoError(t, err)
	clip, _, _ := targetScorer{target: 0.8}.Score(context.Background(), view.Image(), "")
	assert.InDelta(t, history[bestIter].ClipLoss, clip, 1e-12)

	// 一致性损失只在 i%5==0 时计入
	sched := schedule.New(opts.Steps, opts.Base)
	for _, r := range history {
		cfg := sched.Params(r.Iteration)
		base := r.ClipLoss + cfg.LambdaLatent*r.L2Latent + cfg.LambdaParam*r.L2Param
		if r.Iteration%opts.ConsistencyInterval != 0 {
			assert.InDelta(t, base, r.TotalLoss, 1e-12, "iteration %d", r.Iteration)
		} else {
			assert.GreaterOrEqual(t, r.TotalLoss, base-1e-12, "iteration %d", r.Iteration)
		}
	}

	assert.Less(t, history[len(history)-1].ClipLoss, history[0].ClipLoss)
	assert.Equal(t, 0.0, history[0].L2Latent)

	// 中间产物
	for _, i := range []int{0, 5, 10, 15} {
		texPath, renderPath := IntermediatePaths(opts.InterDir, i)
		assert.FileExists(t, texPath)
		assert.FileExists(t, renderPath)
	}
	texPath, _ := IntermediatePaths(opts.InterDir, 3)
	assert.NoFileExists(t, texPath)

	assert.FileExists(t, res.Reports.JSON)
	assert.FileExists(t, res.Reports.Chart)
	assert.Equal(t, history[len(history)-1].ClipLoss, res.Report.FinalMetrics.ClipLoss)
}

func TestLoop_IntermediateRenderIsScoredFrame(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := testAssets(t)
	views := testViews(t, a)
	opts := testOptions(dir)
	opts.Steps = 1
	opts.SaveStep = 1
	opts.MultiView = false

	loop, err := NewLoop(opts, a, views, tanhTexture{}, targetScorer{target: 0.8}, quality.NewTracker(nil), nil)
	require.NoError(t, err)
	_, err = loop.Run(ctx, initState(), "a pale face")
	require.NoError(t, err)

	// 第 0 步评分的是初始参数的渲染
	init := initState()
	tex, _, err := tanhTexture{}.Synthesize(ctx, init.Latent)
	require.NoError(t, err)
	view, err := views.RenderView(ctx, a.Vertices(init.Param), tex, multiview.DefaultView)
	require.NoError(t, err)
	want := filepath.Join(dir, "want_render.jpg")
	require.NoError(t, report.SaveJPEG(want, view.Image(), 0, 1))

	_, renderPath := IntermediatePaths(opts.InterDir, 0)
	got, err := os.ReadFile(renderPath)
	require.NoError(t, err)
	expected, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestLoop_RunNaNNeverBest(t *testing.T) {
	a := testAssets(t)
	tracker := quality.NewTracker(nil)
	opts := testOptions(t.TempDir())
	opts.SaveStep = 0

	loop, err := NewLoop(opts, a, testViews(t, a), tanhTexture{}, targetScorer{target: 0.8, nan: true}, tracker, nil)
	require.NoError(t, err)

	res, err := loop.Run(context.Background(), initState(), "x")
	require.NoError(t, err)
	assert.Equal(t, -1, res.BestIteration)
	assert.True(t, math.IsInf(res.BestScore, 1))
	assert.Len(t, tracker.History(), opts.Steps)
	assert.NotNil(t, res.Texture)
}

func TestLoop_RunLogsTraceAndRunID(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	core, logs := observer.New(zap.InfoLevel)

	a := testAssets(t)
	opts := testOptions(t.TempDir())
	opts.Steps = 3
	opts.SaveStep = 0
	loop, err := NewLoop(opts, a, testViews(t, a), tanhTexture{}, targetScorer{target: 0.8},
		quality.NewTracker(nil), zap.New(core), WithTracerProvider(tp))
	require.NoError(t, err)

	ctx := ctxkeys.WithRunID(context.Background(), "run-42")
	_, err = loop.Run(ctx, initState(), "a pale face")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	var traceID string
	for _, s := range spans {
		if s.Name == "refine.run" {
			traceID = s.SpanContext.TraceID().String()
		}
	}
	require.NotEmpty(t, traceID)

	started := logs.FilterMessage("refinement started").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, "run-42", fields["run_id"])
	assert.Equal(t, traceID, fields["trace_id"])
	assert.Equal(t, "a pale face", fields["prompt"])
}

func TestLoop_RunIgnoresSnapshotFromPreviousRun(t *testing.T) {
	ctx := context.Background()
	a := testAssets(t)
	store, err := quality.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, &quality.Snapshot{
		RunID:     "previous-run",
		Latent:    make([]float64, len(initState().Latent)),
		Param:     []float64{9, 9},
		Iteration: 77,
		Score:     0.01,
	}))

	tracker := quality.NewTracker(nil, quality.WithStore(store), quality.WithRunID("current-run"))
	opts := testOptions(t.TempDir())
	opts.Steps = 20
	opts.SaveStep = 0

	loop, err := NewLoop(opts, a, testViews(t, a), tanhTexture{}, targetScorer{target: 0.8, nan: true}, tracker, nil)
	require.NoError(t, err)

	res, err := loop.Run(ctx, initState(), "x")
	require.NoError(t, err)
	assert.Equal(t, -1, res.BestIteration)
	assert.True(t, math.IsInf(res.BestScore, 1))
	assert.NotEqual(t, []float64{9, 9}, res.State.Param)
	assert.Len(t, tracker.History(), 20)
}

func TestLoop_RunRejectsMismatchedSnapshot(t *testing.T) {
	ctx := context.Background()
	a := testAssets(t)
	store, err := quality.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, &quality.Snapshot{
		RunID:  "run-1",
		Latent: []float64{0.1},
		Param:  []float64{1, 2, 3},
	}))

	tracker := quality.NewTracker(nil, quality.WithStore(store), quality.WithRunID("run-1"))
	opts := testOptions(t.TempDir())
	opts.SaveStep = 0

	loop, err := NewLoop(opts, a, testViews(t, a), tanhTexture{}, targetScorer{target: 0.8, nan: true}, tracker, nil)
	require.NoError(t, err)

	_, err = loop.Run(ctx, initState(), "x")
	assert.True(t, types.IsErrorCode(err, types.ErrShapeMismatch))
}

func TestLoop_RunRejectsBadInput(t *testing.T) {
	a := testAssets(t)
	loop, err := NewLoop(testOptions(t.TempDir()), a, testViews(t, a), tanhTexture{}, targetScorer{}, quality.NewTracker(nil), nil)
	require.NoError(t, err)

	bad := initState()
	bad.Param = []float64{1, 2, 3}
	_, err = loop.Run(context.Background(), bad, "x")
	assert.True(t, types.IsErrorCode(err, types.ErrShapeMismatch))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loop.Run(ctx, initState(), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_Export(t *testing.T) {
	dir := t.TempDir()
	a := testAssets(t)
	opts := testOptions(dir)
	opts.Steps = 3
	opts.SaveStep = 0
	opts.SaveMultiView = true

	loop, err := NewLoop(opts, a, testViews(t, a), tanhTexture{}, targetScorer{target: 0.5}, quality.NewTracker(nil), nil)
	require.NoError(t, err)
	res, err := loop.Run(context.Background(), initState(), "x")
	require.NoError(t, err)

	out := filepath.Join(dir, "result", "face", "x")
	paths, err := loop.Export(context.Background(), res, out)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, PromptMeshFile), paths.Mesh)
	m, err := mesh.LoadOBJ(paths.Mesh)
	require.NoError(t, err)
	assert.InDeltaSlice(t, res.Vertices, m.Vertices, 1e-5)
	assert.FileExists(t, filepath.Join(out, mesh.MaterialFile))
	assert.FileExists(t, filepath.Join(out, mesh.TextureFile))

	require.Len(t, paths.Views, 5)
	for _, spec := range multiview.Views() {
		p := filepath.Join(out, ViewFile(spec.Name))
		assert.Equal(t, p, paths.Views[spec.Name])
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
