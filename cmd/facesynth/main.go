// =============================================================================
// FaceSynth 主入口
// =============================================================================
// 文本驱动的 3D 人脸合成与提示词精修
//
// 使用方法:
//
//	facesynth run --name alice --descriptions "round face, brown eyes"
//	facesynth run --name alice --descriptions "..." --prompt "smiling" --config facesynth.yaml
//	facesynth schedule --steps 200        # 预览三阶段调度
//	facesynth views                       # 列出相机视角
//	facesynth version                     # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/facesynth/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

// dispatch 执行子命令并返回退出码
func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "run":
		return runSynth(args[1:], stdout, stderr)
	case "schedule":
		return runSchedule(args[1:], stdout, stderr)
	case "views":
		return runViews(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "FaceSynth %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `FaceSynth - text-driven 3D face synthesis

Usage:
  facesynth <command> [options]

Commands:
  run        Synthesize a face, then refine it when --prompt is given
  schedule   Print the three-stage hyper-parameter schedule
  views      List registered camera views
  version    Show version information
  help       Show this help message

Options for 'run':
  --config <path>          Path to configuration file (YAML)
  --name <name>            Output folder name (required)
  --descriptions <text>    Attribute descriptions for the classifier
  --prompt <text>          Refinement prompt; empty skips refinement
  --steps <n>              Optimization steps
  --multi-view             Enable the multi-view consistency term
  --save-multi-view        Export every registered view after refinement
  --save-step <n>          Intermediate artifact interval, 0 disables
  --seed <n>               Texture noise seed
  --result-dir <dir>       Final results root
  --inter-dir <dir>        Intermediate artifacts root

Examples:
  facesynth run --name alice --descriptions "oval face, thick eyebrows"
  facesynth run --name alice --descriptions "oval face" --prompt "Barack Obama" --steps 300
  facesynth schedule --steps 300 --json
  facesynth version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// loadConfig 默认值 → 文件 → 环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}
