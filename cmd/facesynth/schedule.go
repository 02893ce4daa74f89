package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/schedule"
)

// spanRow 一个阶段区间及其起始步的超参数
type spanRow struct {
	schedule.Span
	Params schedule.StageConfig `json:"params"`
}

// runSchedule 预览三阶段调度
func runSchedule(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file")
	steps := fs.Int("steps", 0, "Optimization steps, overrides config")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *steps > 0 {
		cfg.Refine.Steps = *steps
	}
	opts := cfg.RefineOptions()
	s := schedule.New(opts.Steps, opts.Base)

	rows := make([]spanRow, 0, 3)
	for _, sp := range s.Spans() {
		rows = append(rows, spanRow{Span: sp, Params: s.Params(sp.Start)})
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTEPS\tLR_LATENT\tLR_PARAM\tLAMBDA_LATENT\tLAMBDA_PARAM")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t[%d,%d)\t%g\t%g\t%g\t%g\n",
			r.Stage, r.Start, r.End,
			r.Params.LRLatent, r.Params.LRParam, r.Params.LambdaLatent, r.Params.LambdaParam)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

// runViews 列出注册的相机视角
func runViews(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("views", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tELEVATION\tAZIMUTH")
	for _, v := range multiview.Views() {
		fmt.Fprintf(tw, "%s\t%g\t%g\n", v.Name, v.Elevation, v.Azimuth)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}
