package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/config"
	"github.com/BaSui01/facesynth/synth"
)

// runFlags run 子命令参数。只有显式给出的参数覆盖配置。
type runFlags struct {
	configPath    string
	name          string
	descriptions  string
	prompt        string
	steps         int
	multiView     bool
	saveMultiView bool
	saveStep      int
	seed          int64
	resultDir     string
	interDir      string
}

func parseRunFlags(args []string, stderr io.Writer) (*runFlags, *flag.FlagSet, error) {
	f := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.name, "name", "", "Output folder name")
	fs.StringVar(&f.descriptions, "descriptions", "", "Attribute descriptions")
	fs.StringVar(&f.prompt, "prompt", "", "Refinement prompt")
	fs.IntVar(&f.steps, "steps", 0, "Optimization steps")
	fs.BoolVar(&f.multiView, "multi-view", false, "Enable multi-view consistency")
	fs.BoolVar(&f.saveMultiView, "save-multi-view", false, "Export all registered views")
	fs.IntVar(&f.saveStep, "save-step", 0, "Intermediate artifact interval")
	fs.Int64Var(&f.seed, "seed", 0, "Texture noise seed")
	fs.StringVar(&f.resultDir, "result-dir", "", "Final results root")
	fs.StringVar(&f.interDir, "inter-dir", "", "Intermediate artifacts root")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// apply 把显式设置的参数写入配置
func (f *runFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "steps":
			cfg.Refine.Steps = f.steps
		case "multi-view":
			cfg.Refine.MultiView = f.multiView
		case "save-multi-view":
			cfg.Refine.SaveMultiView = f.saveMultiView
		case "save-step":
			cfg.Refine.SaveStep = f.saveStep
		case "seed":
			cfg.Refine.Seed = f.seed
		case "result-dir":
			cfg.Output.ResultDir = f.resultDir
		case "inter-dir":
			cfg.Output.InterDir = f.interDir
		}
	})
}

// runSynth 执行一次具体合成，提示词非空时继续精修
func runSynth(args []string, stdout, stderr io.Writer) int {
	flags, fs, err := parseRunFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.name == "" {
		fmt.Fprintln(stderr, "Error: --name is required")
		return 2
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	flags.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close(ctx)

	logger.Info("starting synthesis",
		zap.String("version", Version),
		zap.String("name", flags.name),
		zap.Bool("refine", flags.prompt != ""),
		zap.Int("steps", cfg.Refine.Steps))

	runCtx, cancel := a.runContext(ctx)
	defer cancel()
	out, err := a.pipeline.Run(runCtx, synth.Request{
		Name:         flags.name,
		Descriptions: flags.descriptions,
		Prompt:       flags.prompt,
		Seed:         cfg.Refine.Seed,
	})
	if err != nil {
		if cause := context.Cause(runCtx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w (%v)", err, cause)
		}
		logger.Error("synthesis failed", zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printOutcome(stdout, out)
	return 0
}

func printOutcome(w io.Writer, out *synth.Outcome) {
	fmt.Fprintf(w, "concrete: %s\n", out.ConcreteMesh)
	if out.Refined == nil {
		return
	}
	fmt.Fprintf(w, "best iteration: %d (score %.4f)\n", out.Refined.BestIteration, out.Refined.BestScore)
	if out.Exported != nil {
		fmt.Fprintf(w, "refined: %s\n", out.Exported.Mesh)
		names := make([]string, 0, len(out.Exported.Views))
		for name := range out.Exported.Views {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  view %s: %s\n", name, out.Exported.Views[name])
		}
	}
	if out.Refined.Reports.JSON != "" {
		fmt.Fprintf(w, "report: %s\n", out.Refined.Reports.JSON)
	}
}
