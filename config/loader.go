// =============================================================================
// 📦 FaceSynth 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("facesynth.yaml").
//	    WithEnvPrefix("FACESYNTH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/facesynth/embedding"
	"github.com/BaSui01/facesynth/internal/cache"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/refine"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/schedule"
	"github.com/BaSui01/facesynth/synth"
	"github.com/BaSui01/facesynth/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FaceSynth 的完整配置结构
type Config struct {
	// Refine 提示词精修
	Refine RefineConfig `yaml:"refine" env:"REFINE"`

	// RenderBackend 渲染后端名称
	RenderBackend string `yaml:"render_backend" env:"RENDER_BACKEND"`

	// Render 可微渲染器
	Render render.Options `yaml:"render" env:"RENDER"`

	// Texture 纹理生成器尺寸
	Texture synth.TextureConfig `yaml:"texture" env:"TEXTURE"`

	// Models 线性层权重
	Models ModelsConfig `yaml:"models" env:"MODELS"`

	// Output 输出目录
	Output OutputConfig `yaml:"output" env:"OUTPUT"`

	// Assets 预定义资产
	Assets mesh.AssetPaths `yaml:"assets" env:"ASSETS"`

	// Embedding 文本嵌入
	Embedding embedding.Config `yaml:"embedding" env:"EMBEDDING"`

	// Redis 嵌入缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 运行记录
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Metrics Prometheus 端点
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RefineConfig 精修超参数
type RefineConfig struct {
	// 迭代次数
	Steps int `yaml:"steps" env:"STEPS"`
	// 基础学习率
	LRLatent float64 `yaml:"lr_latent" env:"LR_LATENT"`
	LRParam  float64 `yaml:"lr_param" env:"LR_PARAM"`
	// 基础正则权重
	LambdaLatent float64 `yaml:"lambda_latent" env:"LAMBDA_LATENT"`
	LambdaParam  float64 `yaml:"lambda_param" env:"LAMBDA_PARAM"`
	// 多视角一致性
	MultiView           bool    `yaml:"multi_view" env:"MULTI_VIEW"`
	ConsistencyWeight   float64 `yaml:"consistency_weight" env:"CONSISTENCY_WEIGHT"`
	ConsistencyInterval int     `yaml:"consistency_interval" env:"CONSISTENCY_INTERVAL"`
	// 导出全部视角
	SaveMultiView bool `yaml:"save_multi_view" env:"SAVE_MULTI_VIEW"`
	// 中间产物间隔，0 关闭
	SaveStep int `yaml:"save_step" env:"SAVE_STEP"`
	// 纹理噪声种子
	Seed int64 `yaml:"seed" env:"SEED"`
}

// ModelsConfig 线性层权重文件。Dir 为空时按 InitSeed 随机初始化。
type ModelsConfig struct {
	Dir              string `yaml:"dir" env:"DIR"`
	Classifier       string `yaml:"classifier" env:"CLASSIFIER"`
	Shape            string `yaml:"shape" env:"SHAPE"`
	TextureMapping   string `yaml:"texture_mapping" env:"TEXTURE_MAPPING"`
	TextureSynthesis string `yaml:"texture_synthesis" env:"TEXTURE_SYNTHESIS"`
	ScorerProjection string `yaml:"scorer_projection" env:"SCORER_PROJECTION"`
	// 评分器池化网格边长
	ScoreGrid int   `yaml:"score_grid" env:"SCORE_GRID"`
	InitSeed  int64 `yaml:"init_seed" env:"INIT_SEED"`
	// 随机初始化权重尺度
	InitScale float64 `yaml:"init_scale" env:"INIT_SCALE"`
}

// Prefix 返回权重文件前缀（不含 _w.npy）
func (m ModelsConfig) Prefix(name string) string {
	if m.Dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// OutputConfig 输出目录
type OutputConfig struct {
	// 最终结果，每个名字一个子目录
	ResultDir string `yaml:"result_dir" env:"RESULT_DIR"`
	// 中间产物
	InterDir string `yaml:"inter_dir" env:"INTER_DIR"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用嵌入缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// CacheConfig 转换为缓存管理器配置
func (r RedisConfig) CacheConfig() cache.Config {
	return cache.Config{
		Addr:                r.Addr,
		Password:            r.Password,
		DB:                  r.DB,
		DefaultTTL:          r.DefaultTTL,
		KeyPrefix:           r.KeyPrefix,
		PoolSize:            r.PoolSize,
		HealthCheckInterval: r.HealthCheckInterval,
	}
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否记录运行
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时建表
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MetricsConfig 指标端点
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 运行结束后保持端点的时长，便于抓取
	Linger time.Duration `yaml:"linger" env:"LINGER"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FACESYNTH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，没有 env tag 的字段跳过
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，一次返回全部问题
func (c *Config) Validate() error {
	var errs []string

	if err := c.RefineOptions().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Refine.SaveStep > 0 && c.Output.InterDir == "" {
		errs = append(errs, "output.inter_dir is required when save_step is set")
	}
	if c.Output.ResultDir == "" {
		errs = append(errs, "output.result_dir is required")
	}

	if !slices.Contains(render.Backends(), c.RenderBackend) {
		errs = append(errs, fmt.Sprintf("render backend %q is not available", c.RenderBackend))
	}
	if c.Render.ImageSize <= 0 {
		errs = append(errs, "render.image_size must be positive")
	}
	if err := c.Texture.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Models.ScoreGrid <= 0 {
		errs = append(errs, "models.score_grid must be positive")
	}

	switch c.Embedding.Provider {
	case "", embedding.ProviderHash, embedding.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding.dimensions must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if c.Database.Enabled && c.Database.DSN() == "" {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "config validation errors: "+strings.Join(errs, "; "))
	}

	return nil
}

// RefineOptions 组装优化循环选项
func (c *Config) RefineOptions() refine.Options {
	r := c.Refine
	return refine.Options{
		Steps: r.Steps,
		Base: schedule.Base{
			LRLatent:     r.LRLatent,
			LRParam:      r.LRParam,
			LambdaLatent: r.LambdaLatent,
			LambdaParam:  r.LambdaParam,
		},
		MultiView:           r.MultiView,
		ConsistencyWeight:   r.ConsistencyWeight,
		ConsistencyInterval: r.ConsistencyInterval,
		SaveMultiView:       r.SaveMultiView,
		SaveStep:            r.SaveStep,
		InterDir:            c.Output.InterDir,
	}
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
