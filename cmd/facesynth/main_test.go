package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/config"
	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/schedule"
	"github.com/BaSui01/facesynth/synth"
)

func TestDispatch_Commands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "no args", args: nil, wantCode: 1, stderr: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: 0, stdout: "Commands:"},
		{name: "version", args: []string{"version"}, wantCode: 0, stdout: "FaceSynth dev"},
		{name: "unknown", args: []string{"serve"}, wantCode: 1, stderr: "Unknown command: serve"},
		{name: "run without name", args: []string{"run"}, wantCode: 2, stderr: "--name is required"},
		{name: "run bad flag", args: []string{"run", "--bogus"}, wantCode: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := dispatch(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code)
			if tt.stdout != "" {
				assert.Contains(t, stdout.String(), tt.stdout)
			}
			if tt.stderr != "" {
				assert.Contains(t, stderr.String(), tt.stderr)
			}
		})
	}
}

func TestRunSchedule_JSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"schedule", "--steps", "10", "--json"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var rows []spanRow
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, schedule.StageTexture, rows[0].Stage)
	assert.Equal(t, 0, rows[0].Start)
	assert.Equal(t, 10, rows[2].End)
	for i := 1; i < len(rows); i++ {
		assert.Equal(t, rows[i-1].End, rows[i].Start)
	}
	assert.Equal(t, 1.0, rows[0].Params.Decay)
}

func TestRunSchedule_Table(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"schedule", "--steps", "100"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "STAGE")
	assert.Contains(t, stdout.String(), schedule.StageJoint)
}

func TestRunViews(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, dispatch([]string{"views"}, &stdout, &stderr))
	for _, v := range multiview.Views() {
		assert.Contains(t, stdout.String(), v.Name)
	}
}

func TestRunFlags_OnlyExplicitOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Refine.MultiView = true
	cfg.Refine.Steps = 42

	f, fs, err := parseRunFlags([]string{"--name", "a", "--save-step", "0", "--seed", "7", "--result-dir", "/tmp/out"}, io.Discard)
	require.NoError(t, err)
	f.apply(fs, cfg)

	assert.Equal(t, 42, cfg.Refine.Steps)
	assert.True(t, cfg.Refine.MultiView)
	assert.Equal(t, 0, cfg.Refine.SaveStep)
	assert.Equal(t, int64(7), cfg.Refine.Seed)
	assert.Equal(t, "/tmp/out", cfg.Output.ResultDir)
}

func TestParseRunFlags_Help(t *testing.T) {
	_, _, err := parseRunFlags([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

// writeTinyAssets 写出一个 4 顶点的四边形脸
func writeTinyAssets(t *testing.T, dir string) {
	t.Helper()
	obj := "v -0.5 -0.5 0\nv 0.5 -0.5 0\nv 0.5 0.5 0.1\nv -0.5 0.5 0\n" +
		"vt 0 0\nvt 1 0\nvt 1 1\nvt 0 1\n" +
		"f 1/1 2/2 3/3\nf 1/1 3/3 4/4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mean.obj"), []byte(obj), 0o644))

	arrays := map[string]*mesh.Array{
		"verts.npy": {Shape: []int{4, 3}, Data: []float64{
			-0.5, -0.5, 0, 0.5, -0.5, 0, 0.5, 0.5, 0.1, -0.5, 0.5, 0,
		}},
		"faces.npy": {Shape: []int{2, 3}, Data: []float64{0, 1, 2, 0, 2, 3}},
		"basis.npy": {Shape: []int{2, 12}, Data: []float64{
			0, 0, 0, 0, 0, 0, 0, 0, 0.1, 0, 0, 0,
			-0.1, 0, 0, 0.1, 0, 0, 0.1, 0, 0, -0.1, 0, 0,
		}},
	}
	for name, a := range arrays {
		var buf bytes.Buffer
		require.NoError(t, mesh.WriteNPY(&buf, a))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
	}
}

func writeTinyConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	assets := filepath.Join(dir, "predef")
	require.NoError(t, os.MkdirAll(assets, 0o755))
	writeTinyAssets(t, assets)

	yaml := fmt.Sprintf(`
refine:
  steps: 4
  save_step: 0
  save_multi_view: true
render:
  image_size: 24
texture:
  noise_dim: 4
  latent_dim: 4
  grid: 4
  size: 16
models:
  score_grid: 4
output:
  result_dir: %s
  inter_dir: %s
assets:
  dir: %s
  mean_mesh: mean.obj
  mean_verts: verts.npy
  faces: faces.npy
  basis: basis.npy
embedding:
  provider: hash
  dimensions: 8
log:
  level: error
  output_paths: ["stderr"]
%s`, filepath.Join(dir, "result"), filepath.Join(dir, "inter"), assets, extra)
	path := filepath.Join(dir, "facesynth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestRunSynth_ConcreteOnly(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTinyConfig(t, dir, "")

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "--config", cfgPath, "--name", "alice", "--descriptions", "round face"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	concrete := filepath.Join(dir, "result", "alice", synth.ConcreteMeshFile)
	assert.FileExists(t, concrete)
	assert.Contains(t, stdout.String(), "concrete: "+concrete)
	assert.NotContains(t, stdout.String(), "refined:")
}

func TestRunSynth_PromptWithDatabaseAndMetrics(t *testing.T) {
	dir := t.TempDir()
	extra := fmt.Sprintf(`
database:
  enabled: true
  driver: sqlite
  name: %s
metrics:
  enabled: true
  addr: "127.0.0.1:0"
  namespace: facesynth_cli_test
`, filepath.Join(dir, "runs.db"))
	cfgPath := writeTinyConfig(t, dir, extra)

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "--config", cfgPath, "--name", "bob",
		"--descriptions", "oval face", "--prompt", "smiling", "--steps", "3", "--seed", "9"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "best iteration:")
	assert.Contains(t, out, "refined: ")
	for _, v := range multiview.Views() {
		assert.Contains(t, out, "view "+v.Name)
	}
	assert.FileExists(t, filepath.Join(dir, "runs.db"))
	assert.DirExists(t, filepath.Join(dir, "result", "bob", "smiling"))
}

func TestRunSynth_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTinyConfig(t, dir, "render_backend: cuda\n")

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "--config", cfgPath, "--name", "carol"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Invalid config")
}

func TestRunSynth_MissingAssets(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTinyConfig(t, dir, "")
	require.NoError(t, os.Remove(filepath.Join(dir, "predef", "basis.npy")))

	var stdout, stderr bytes.Buffer
	code := dispatch([]string{"run", "--config", cfgPath, "--name", "dave"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "load basis")
}

func TestLayerSource_RandomIsSeeded(t *testing.T) {
	cfg := config.DefaultModelsConfig()
	a, err := newLayerSource(cfg).layer(cfg.Shape, 3, 5)
	require.NoError(t, err)
	b, err := newLayerSource(cfg).layer(cfg.Shape, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	cfg.Dir = t.TempDir()
	_, err = newLayerSource(cfg).layer(cfg.Shape, 3, 5)
	assert.ErrorContains(t, err, "load shape weights")
}

func TestWatchErrors_CancelsRunOnServerFailure(t *testing.T) {
	errs := make(chan error, 1)
	ctx, cancel := watchErrors(context.Background(), errs, zap.NewNop())
	defer cancel()

	errs <- errors.New("accept: connection reset")
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run context was not cancelled")
	}
	assert.ErrorContains(t, context.Cause(ctx), "metrics endpoint: accept: connection reset")
}

func TestWatchErrors_ReleaseWithoutFailure(t *testing.T) {
	errs := make(chan error)
	ctx, cancel := watchErrors(context.Background(), errs, zap.NewNop())
	cancel()

	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}
