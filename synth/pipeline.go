package synth

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/facesynth/internal/ctxkeys"
	"github.com/BaSui01/facesynth/internal/metrics"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/quality"
	"github.com/BaSui01/facesynth/refine"
	"github.com/BaSui01/facesynth/report"
	"github.com/BaSui01/facesynth/types"
)

// ConcreteMeshFile 精修前的网格
const ConcreteMeshFile = "result_concrete.obj"

// =============================================================================
// 🔧 Refiner
// =============================================================================

// RefineRequest 一次提示词精修
type RefineRequest struct {
	Name         string
	Descriptions string
	Prompt       string
	// OutDir 结果目录，快照、报告、网格和多视角图都写在这里
	OutDir string
	Init   refine.State
}

// Refiner 执行精修并导出结果
type Refiner interface {
	Refine(ctx context.Context, req RefineRequest) (*refine.Result, *refine.ExportPaths, error)
}

// LoopRefiner 为每次请求组装质量跟踪器、存储与 refine.Loop。
// DB 非空时运行、历史记录和最佳快照同时镜像到数据库。
type LoopRefiner struct {
	Options refine.Options
	Assets  *mesh.Assets
	Views   *multiview.Manager
	Texture refine.TextureGenerator
	Scorer  refine.Scorer
	DB      *gorm.DB
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Refine 实现 Refiner
func (r *LoopRefiner) Refine(ctx context.Context, req RefineRequest) (*refine.Result, *refine.ExportPaths, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, ok := ctxkeys.RunID(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = ctxkeys.WithRunID(ctx, runID)
	}
	logger = logger.With(zap.String("run_id", runID))

	file, err := quality.NewFileStore(req.OutDir)
	if err != nil {
		return nil, nil, err
	}
	var store quality.SnapshotStore = file
	lopts := []refine.LoopOption{refine.WithReportWriter(report.NewWriter(req.OutDir, logger))}
	if r.Metrics != nil {
		lopts = append(lopts, refine.WithMetrics(r.Metrics))
	}

	var db *quality.DBStore
	if r.DB != nil {
		db, err = quality.NewDBStore(r.DB, runID)
		if err != nil {
			return nil, nil, err
		}
		if err := db.StartRun(ctx, req.Name, req.Descriptions, req.Prompt, r.Options.Steps); err != nil {
			return nil, nil, fmt.Errorf("record run: %w", err)
		}
		store = quality.MultiStore{file, db}
		lopts = append(lopts, refine.WithRecordSink(db))
	}

	tracker := quality.NewTracker(logger, quality.WithStore(store), quality.WithRunID(runID))
	loop, err := refine.NewLoop(r.Options, r.Assets, r.Views, r.Texture, r.Scorer, tracker, logger, lopts...)
	if err != nil {
		return nil, nil, err
	}

	res, err := loop.Run(ctx, req.Init, req.Prompt)
	if err == nil {
		var paths *refine.ExportPaths
		paths, err = loop.Export(ctx, res, req.OutDir)
		if err == nil {
			r.finish(ctx, db, quality.RunStatusCompleted, res.BestIteration, res.BestScore, logger)
			return res, paths, nil
		}
	}
	iter, score := tracker.Best()
	r.finish(context.WithoutCancel(ctx), db, quality.RunStatusFailed, iter, score, logger)
	return nil, nil, err
}

func (r *LoopRefiner) finish(ctx context.Context, db *quality.DBStore, status string, iter int, score float64, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.FinishRun(ctx, status, iter, score); err != nil {
		logger.Warn("update run status failed", zap.String("status", status), zap.Error(err))
	}
}

// =============================================================================
// 🧬 Pipeline
// =============================================================================

// Request 一次完整合成
type Request struct {
	Name         string
	Descriptions string
	// Prompt 为空时只做具体合成
	Prompt string
	Seed   int64
}

// Outcome 合成产物
type Outcome struct {
	Labels       *Labels
	Param        []float64
	Latent       []float64
	ConcreteMesh string
	Refined      *refine.Result
	Exported     *refine.ExportPaths
}

// Pipeline 文本 → 标签 → 初始形状与纹理 → result_concrete.obj → 按提示精修
type Pipeline struct {
	resultDir  string
	assets     *mesh.Assets
	classifier Classifier
	shape      ShapeGenerator
	texture    *LinearTextureGenerator
	refiner    Refiner
	logger     *zap.Logger
}

// NewPipeline refiner 可为 nil，此时带提示词的请求会被拒绝
func NewPipeline(resultDir string, assets *mesh.Assets, classifier Classifier, shape ShapeGenerator,
	texture *LinearTextureGenerator, refiner Refiner, logger *zap.Logger) (*Pipeline, error) {
	if assets == nil || classifier == nil || shape == nil || texture == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "pipeline requires assets, classifier, shape and texture generators")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resultDir:  resultDir,
		assets:     assets,
		classifier: classifier,
		shape:      shape,
		texture:    texture,
		refiner:    refiner,
		logger:     logger.With(zap.String("component", "pipeline")),
	}, nil
}

// Run 执行具体合成，提示词非空时继续精修
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "name is required")
	}
	if req.Prompt != "" && p.refiner == nil {
		return nil, types.NewError(types.ErrCapabilityUnavailable, "prompt refinement is not configured")
	}

	labels, err := p.classifier.Classify(ctx, req.Descriptions)
	if err != nil {
		return nil, fmt.Errorf("classify descriptions: %w", err)
	}
	param, err := p.shape.Generate(ctx, labels.Shape)
	if err != nil {
		return nil, err
	}
	if len(param) != p.assets.Basis.Rank {
		return nil, types.Errorf(types.ErrShapeMismatch, "shape generator produced %d params, basis rank is %d", len(param), p.assets.Basis.Rank)
	}

	noise := p.texture.Noise(rand.New(rand.NewSource(req.Seed)))
	latent, err := p.texture.Mapping(ctx, noise, labels.Texture)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Labels: labels, Param: param, Latent: latent}
	out.ConcreteMesh, err = p.writeConcrete(ctx, req.Name, param, latent)
	if err != nil {
		return nil, err
	}
	p.logger.Info("concrete synthesis done",
		zap.String("name", req.Name),
		zap.String("path", out.ConcreteMesh),
		zap.Ints("label_groups", labels.Groups[:]))

	if req.Prompt == "" {
		return out, nil
	}
	out.Refined, out.Exported, err = p.refiner.Refine(ctx, RefineRequest{
		Name:         req.Name,
		Descriptions: req.Descriptions,
		Prompt:       req.Prompt,
		OutDir:       filepath.Join(p.resultDir, req.Name, promptDir(req.Prompt)),
		Init:         refine.State{Latent: latent, Param: param},
	})
	if err != nil {
		return nil, fmt.Errorf("prompt synthesis: %w", err)
	}
	return out, nil
}

func (p *Pipeline) writeConcrete(ctx context.Context, name string, param, latent []float64) (string, error) {
	tex, _, err := p.texture.Synthesize(ctx, latent)
	if err != nil {
		return "", err
	}
	m, err := p.assets.ExportMesh(param)
	if err != nil {
		return "", err
	}
	m.Texture = tex.ToRGBA(-1, 1)
	path := filepath.Join(p.resultDir, name, ConcreteMeshFile)
	if err := mesh.Export(path, m); err != nil {
		return "", err
	}
	return path, nil
}

// promptDir 提示词原样作为目录名，路径分隔符替换为下划线
func promptDir(prompt string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(prompt))
}
