// =============================================================================
// 📦 FaceSynth 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/facesynth/embedding"
	"github.com/BaSui01/facesynth/internal/cache"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/refine"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/synth"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Refine:        DefaultRefineConfig(),
		RenderBackend: render.SoftwareBackend,
		Render:        render.DefaultOptions(),
		Texture:       synth.DefaultTextureConfig(),
		Models:        DefaultModelsConfig(),
		Output:        DefaultOutputConfig(),
		Assets:        mesh.DefaultAssetPaths(),
		Embedding:     embedding.DefaultConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		Metrics:       DefaultMetricsConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultRefineConfig 与 refine.DefaultOptions 保持一致
func DefaultRefineConfig() RefineConfig {
	opts := refine.DefaultOptions()
	return RefineConfig{
		Steps:               opts.Steps,
		LRLatent:            opts.Base.LRLatent,
		LRParam:             opts.Base.LRParam,
		LambdaLatent:        opts.Base.LambdaLatent,
		LambdaParam:         opts.Base.LambdaParam,
		MultiView:           opts.MultiView,
		ConsistencyWeight:   opts.ConsistencyWeight,
		ConsistencyInterval: opts.ConsistencyInterval,
		SaveMultiView:       opts.SaveMultiView,
		SaveStep:            opts.SaveStep,
	}
}

// DefaultModelsConfig 不指定权重目录，使用随机初始化
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		Classifier:       "classifier",
		Shape:            "shape",
		TextureMapping:   "texture_mapping",
		TextureSynthesis: "texture_synthesis",
		ScorerProjection: "scorer_projection",
		ScoreGrid:        synth.DefaultScoreGrid,
		InitSeed:         1,
		InitScale:        0.05,
	}
}

// DefaultOutputConfig 返回默认输出目录
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		ResultDir: "./result/final_result",
		InterDir:  refine.DefaultOptions().InterDir,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置，默认关闭
func DefaultRedisConfig() RedisConfig {
	c := cache.DefaultConfig()
	return RedisConfig{
		Addr:                c.Addr,
		PoolSize:            c.PoolSize,
		KeyPrefix:           c.KeyPrefix,
		DefaultTTL:          c.DefaultTTL,
		HealthCheckInterval: c.HealthCheckInterval,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，默认关闭
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "facesynth",
		Password:        "",
		Name:            "facesynth.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "facesynth",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "facesynth",
		SampleRate:   0.1,
	}
}
