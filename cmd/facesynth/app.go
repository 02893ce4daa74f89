package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/config"
	"github.com/BaSui01/facesynth/embedding"
	"github.com/BaSui01/facesynth/internal/cache"
	"github.com/BaSui01/facesynth/internal/database"
	"github.com/BaSui01/facesynth/internal/metrics"
	"github.com/BaSui01/facesynth/internal/server"
	"github.com/BaSui01/facesynth/internal/telemetry"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/quality"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/synth"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 一次运行的全部组件，Close 按依赖逆序释放
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *synth.Pipeline

	otel    *telemetry.Providers
	metrics *metrics.Collector
	server  *server.Manager
	cache   *cache.Manager
	db      *database.PoolManager
}

// newApp 按配置装配流水线。显式启用的外部依赖不可用时直接失败。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.otel, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.otel, err = nil, nil
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		a.server = server.NewManager(nil, srvCfg, logger)
		if err = a.server.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	assets, err := mesh.LoadAssets(cfg.Assets)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New(cfg.RenderBackend, cfg.Render)
	if err != nil {
		return nil, err
	}
	views, err := multiview.NewManager(renderer, assets.Faces, logger)
	if err != nil {
		return nil, err
	}

	provider, err := a.embeddingProvider(cfg)
	if err != nil {
		return nil, err
	}

	layers := newLayerSource(cfg.Models)
	classifier, shape, texture, scorer, err := buildModels(layers, cfg, provider, assets.Basis.Rank)
	if err != nil {
		return nil, err
	}

	refiner := &synth.LoopRefiner{
		Options: cfg.RefineOptions(),
		Assets:  assets,
		Views:   views,
		Texture: texture,
		Scorer:  scorer,
		Metrics: a.metrics,
		Logger:  logger,
	}
	if cfg.Database.Enabled {
		a.db, err = database.Open(cfg.Database, logger, database.WithMetrics(a.metrics))
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err = quality.Migrate(a.db.DB()); err != nil {
				return nil, fmt.Errorf("migrate run tables: %w", err)
			}
		}
		refiner.DB = a.db.DB()
	}

	a.pipeline, err = synth.NewPipeline(cfg.Output.ResultDir, assets, classifier, shape, texture, refiner, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) embeddingProvider(cfg *config.Config) (embedding.Provider, error) {
	var jc embedding.JSONCache
	if cfg.Redis.Enabled {
		m, err := cache.NewManager(cfg.Redis.CacheConfig(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect embedding cache: %w", err)
		}
		a.cache = m
		jc = m
	}
	var opts []embedding.Option
	if a.metrics != nil {
		opts = append(opts, embedding.WithMetrics(a.metrics))
	}
	return embedding.New(cfg.Embedding, jc, a.logger, opts...)
}

// runContext 指标端点异常退出时取消本次运行
func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.server == nil {
		return context.WithCancel(ctx)
	}
	return watchErrors(ctx, a.server.Errors(), a.logger.With(zap.String("metrics_addr", a.server.ListenAddr())))
}

func watchErrors(ctx context.Context, errs <-chan error, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case err := <-errs:
			logger.Error("metrics endpoint failed, aborting run", zap.Error(err))
			cancel(fmt.Errorf("metrics endpoint: %w", err))
		}
	}()
	return ctx, func() { cancel(nil) }
}

// Close 释放资源。指标端点按 Linger 多保留一段时间。
func (a *app) Close(ctx context.Context) {
	if a.server != nil {
		if linger := a.cfg.Metrics.Linger; linger > 0 {
			a.logger.Info("keeping metrics endpoint alive", zap.Duration("linger", linger))
			select {
			case <-ctx.Done():
			case <-time.After(linger):
			}
		}
		if err := a.server.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.otel.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// =============================================================================
// 🧠 线性层
// =============================================================================

// layerSource 有权重目录时从 <dir>/<name>_w.npy 加载，否则按种子随机初始化
type layerSource struct {
	cfg config.ModelsConfig
	rng *rand.Rand
}

func newLayerSource(cfg config.ModelsConfig) *layerSource {
	return &layerSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.InitSeed))}
}

func (s *layerSource) layer(name string, out, in int) (*synth.Linear, error) {
	if s.cfg.Dir == "" {
		return synth.RandomLinear(out, in, s.cfg.InitScale, s.rng), nil
	}
	l, err := synth.LoadLinear(s.cfg.Prefix(name))
	if err != nil {
		return nil, fmt.Errorf("load %s weights: %w", name, err)
	}
	return l, nil
}

func buildModels(layers *layerSource, cfg *config.Config, provider embedding.Provider, rank int) (
	*synth.LinearClassifier, *synth.LinearShapeGenerator, *synth.LinearTextureGenerator, *synth.EmbeddingScorer, error) {
	dims := provider.Dimensions()
	tex := cfg.Texture
	grid := cfg.Models.ScoreGrid
	m := cfg.Models

	var errs []error
	classifierLayer, err := layers.layer(m.Classifier, synth.LabelGroups*synth.LabelClasses, dims)
	errs = append(errs, err)
	shapeLayer, err := layers.layer(m.Shape, rank, synth.ShapeLabelLen)
	errs = append(errs, err)
	mappingLayer, err := layers.layer(m.TextureMapping, tex.LatentDim, tex.NoiseDim+synth.TextureLabelLen)
	errs = append(errs, err)
	synthesisLayer, err := layers.layer(m.TextureSynthesis, tex.Grid*tex.Grid*3, tex.LatentDim)
	errs = append(errs, err)
	projection, err := layers.layer(m.ScorerProjection, dims, grid*grid*3)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, nil, nil, nil, err
	}

	classifier, err := synth.NewLinearClassifier(provider, classifierLayer)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	shape, err := synth.NewLinearShapeGenerator(shapeLayer, rank)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	texture, err := synth.NewLinearTextureGenerator(tex, mappingLayer, synthesisLayer)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	scorer, err := synth.NewEmbeddingScorer(provider, projection, grid)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return classifier, shape, texture, scorer, nil
}
