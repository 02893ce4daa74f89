package refine

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/facesynth/mesh"
	"github.com/BaSui01/facesynth/multiview"
	"github.com/BaSui01/facesynth/render"
	"github.com/BaSui01/facesynth/report"
)

// 产物文件名
const (
	PromptMeshFile = "result_prompt.obj"
	TextureMapDir  = "texture_map"
	RenderDir      = "render"
)

// IntermediatePaths 返回第 i 步中间纹理与渲染图路径
func IntermediatePaths(interDir string, i int) (tex, rendered string) {
	return filepath.Join(interDir, TextureMapDir, fmt.Sprintf("%05d_tex.jpg", i)),
		filepath.Join(interDir, RenderDir, fmt.Sprintf("%05d_render.jpg", i))
}

// ViewFile 多视角导出文件名
func ViewFile(name string) string { return "view_" + name + ".jpg" }

// saveIntermediate 写出更新后的纹理，以及本步评分所用的正面渲染（更新前）。
// 失败只记日志。
func (l *Loop) saveIntermediate(ctx context.Context, i int, cur State, frame *render.Image, logger *zap.Logger) {
	texPath, renderPath := IntermediatePaths(l.opts.InterDir, i)

	tex, _, err := l.texture.Synthesize(ctx, cur.Latent)
	if err != nil {
		logger.Warn("synthesize intermediate texture failed", zap.Int("iteration", i), zap.Error(err))
	} else {
		err = report.SaveJPEG(texPath, tex, -1, 1)
		l.recordArtifact("texture", err)
		if err != nil {
			logger.Warn("write intermediate texture failed", zap.String("path", texPath), zap.Error(err))
		}
	}

	err = report.SaveJPEG(renderPath, frame, 0, 1)
	l.recordArtifact("render", err)
	if err != nil {
		logger.Warn("write intermediate render failed", zap.String("path", renderPath), zap.Error(err))
	}
}

func (l *Loop) recordArtifact(kind string, err error) {
	if l.metrics != nil {
		l.metrics.RecordArtifact(kind, err)
	}
}

// ExportPaths 导出的文件
type ExportPaths struct {
	Mesh  string
	Views map[string]string
}

// Export 将结果写到 dir：result_prompt.obj（含材质与贴图），
// SaveMultiView 打开时并发渲染并写出全部注册视角。
func (l *Loop) Export(ctx context.Context, res *Result, dir string) (*ExportPaths, error) {
	m, err := l.assets.ExportMesh(res.State.Param)
	if err != nil {
		return nil, fmt.Errorf("build final mesh: %w", err)
	}
	m.Texture = res.Texture.ToRGBA(-1, 1)

	out := &ExportPaths{Mesh: filepath.Join(dir, PromptMeshFile)}
	err = mesh.Export(out.Mesh, m)
	l.recordArtifact("mesh", err)
	if err != nil {
		return nil, err
	}
	l.logger.Info("exported refined mesh", zap.String("path", out.Mesh))

	if !l.opts.SaveMultiView {
		return out, nil
	}

	specs := multiview.Views()
	paths := make([]string, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for idx, spec := range specs {
		g.Go(func() error {
			view, err := l.views.RenderView(gctx, res.Vertices, res.Texture, spec.Name)
			if err != nil {
				return err
			}
			p := filepath.Join(dir, ViewFile(spec.Name))
			err = report.SaveJPEG(p, view.Image(), 0, 1)
			l.recordArtifact("view", err)
			if err != nil {
				return err
			}
			paths[idx] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export views: %w", err)
	}
	out.Views = make(map[string]string, len(specs))
	for idx, spec := range specs {
		out.Views[spec.Name] = paths[idx]
	}
	return out, nil
}
