package report

import (
	"fmt"
	"math"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/BaSui01/facesynth/quality"
)

// =============================================================================
// 📊 图表
// =============================================================================

type rgb struct{ r, g, b float64 }

var (
	colorBlue   = rgb{0.12, 0.35, 0.85}
	colorGreen  = rgb{0.1, 0.6, 0.2}
	colorOrange = rgb{1, 0.55, 0}
	colorPurple = rgb{0.5, 0.1, 0.6}
	colorRed    = rgb{0.85, 0.1, 0.1}
	colorGrid   = rgb{0.88, 0.88, 0.88}
	colorAxis   = rgb{0.2, 0.2, 0.2}
)

type series struct {
	label  string
	color  rgb
	values []float64
}

type panel struct {
	title  string
	ylabel string
	series []series
}

// panels 四个子图: CLIP 损失、正则项、总损失、质量分数
func panels(history []quality.Record) []panel {
	pick := func(f func(quality.Record) float64) []float64 {
		out := make([]float64, len(history))
		for i, r := range history {
			out[i] = f(r)
		}
		return out
	}
	return []panel{
		{
			title:  "CLIP Loss over Iterations",
			ylabel: "CLIP Loss",
			series: []series{{"CLIP Loss", colorBlue, pick(func(r quality.Record) float64 { return r.ClipLoss })}},
		},
		{
			title:  "Regularization over Iterations",
			ylabel: "L2 Regularization",
			series: []series{
				{"L2 Latent", colorGreen, pick(func(r quality.Record) float64 { return r.L2Latent })},
				{"L2 Param", colorOrange, pick(func(r quality.Record) float64 { return r.L2Param })},
			},
		},
		{
			title:  "Total Loss over Iterations",
			ylabel: "Total Loss",
			series: []series{{"Total Loss", colorPurple, pick(func(r quality.Record) float64 { return r.TotalLoss })}},
		},
		{
			title:  "Quality Score over Iterations (Lower is Better)",
			ylabel: "Quality Score",
			series: []series{{"Quality Score", colorRed, pick(func(r quality.Record) float64 { return r.QualityScore })}},
		},
	}
}

// Chart 绘制 2×2 折线图，每个子图在最佳迭代处画一条红色虚线
func Chart(history []quality.Record, bestIteration, width, height int) (*gg.Context, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid chart size %dx%d", width, height)
	}
	source, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("load chart font: %w", err)
	}
	defer source.Close()

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	if err := dc.Fill(); err != nil {
		dc.Close()
		return nil, err
	}

	iters := make([]float64, len(history))
	for i, r := range history {
		iters[i] = float64(r.Iteration)
	}

	cellW, cellH := float64(width)/2, float64(height)/2
	for i, p := range panels(history) {
		x0 := float64(i%2) * cellW
		y0 := float64(i/2) * cellH
		if err := drawPanel(dc, source, p, iters, float64(bestIteration), x0, y0, cellW, cellH); err != nil {
			dc.Close()
			return nil, err
		}
	}
	return dc, nil
}

func drawPanel(dc *gg.Context, source *text.FontSource, p panel, xs []float64, best, x0, y0, w, h float64) error {
	const (
		marginL = 80.0
		marginR = 20.0
		marginT = 40.0
		marginB = 50.0
	)
	left, right := x0+marginL, x0+w-marginR
	top, bottom := y0+marginT, y0+h-marginB

	xmin, xmax := finiteRange(xs)
	if xmin > best {
		xmin = best
	}
	if xmax < best {
		xmax = best
	}
	var all []float64
	for _, s := range p.series {
		all = append(all, s.values...)
	}
	ymin, ymax := finiteRange(all)

	sx := func(v float64) float64 { return left + (v-xmin)/(xmax-xmin)*(right-left) }
	sy := func(v float64) float64 { return bottom - (v-ymin)/(ymax-ymin)*(bottom-top) }

	// 网格
	dc.SetRGB(colorGrid.r, colorGrid.g, colorGrid.b)
	dc.SetLineWidth(1)
	for k := 0; k <= 4; k++ {
		gx := left + float64(k)/4*(right-left)
		gy := top + float64(k)/4*(bottom-top)
		dc.DrawLine(gx, top, gx, bottom)
		dc.DrawLine(left, gy, right, gy)
	}
	if err := dc.Stroke(); err != nil {
		return err
	}

	// 坐标轴
	dc.SetRGB(colorAxis.r, colorAxis.g, colorAxis.b)
	dc.SetLineWidth(1.5)
	dc.DrawRectangle(left, top, right-left, bottom-top)
	if err := dc.Stroke(); err != nil {
		return err
	}

	// 曲线，非有限值处断开
	dc.SetLineWidth(2)
	for _, s := range p.series {
		dc.SetRGB(s.color.r, s.color.g, s.color.b)
		pen := false
		for i, v := range s.values {
			if !quality.Finite(v) {
				pen = false
				continue
			}
			if pen {
				dc.LineTo(sx(xs[i]), sy(v))
			} else {
				dc.MoveTo(sx(xs[i]), sy(v))
				pen = true
			}
		}
		if err := dc.Stroke(); err != nil {
			return err
		}
	}

	// 最佳迭代标记
	dc.SetRGB(colorRed.r, colorRed.g, colorRed.b)
	dc.SetLineWidth(1.5)
	dc.SetDash(6, 4)
	dc.DrawLine(sx(best), top, sx(best), bottom)
	if err := dc.Stroke(); err != nil {
		return err
	}
	dc.ClearDash()

	// 文字
	dc.SetRGB(0, 0, 0)
	dc.SetFont(source.Face(16))
	dc.DrawStringAnchored(p.title, (left+right)/2, y0+marginT/2, 0.5, 0.5)
	dc.SetFont(source.Face(12))
	dc.DrawStringAnchored("Iteration", (left+right)/2, bottom+marginB*0.7, 0.5, 0.5)
	dc.DrawStringAnchored(p.ylabel, x0+4, top-6, 0, 0)
	dc.DrawStringAnchored(formatTick(xmin), left, bottom+14, 0.5, 0.5)
	dc.DrawStringAnchored(formatTick(xmax), right, bottom+14, 0.5, 0.5)
	dc.DrawStringAnchored(formatTick(ymax), left-6, top, 1, 0.5)
	dc.DrawStringAnchored(formatTick(ymin), left-6, bottom, 1, 0.5)

	// 图例
	labels := make([]series, 0, len(p.series)+1)
	labels = append(labels, p.series...)
	labels = append(labels, series{label: "Best", color: colorRed})
	ly := top + 16
	for _, s := range labels {
		dc.SetRGB(s.color.r, s.color.g, s.color.b)
		dc.SetLineWidth(2)
		dc.DrawLine(right-150, ly, right-125, ly)
		if err := dc.Stroke(); err != nil {
			return err
		}
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(s.label, right-118, ly, 0, 0.3)
		ly += 18
	}
	return nil
}

// finiteRange 返回有限值的范围，保证 max > min
func finiteRange(vs []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		if !quality.Finite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 1
	}
	if hi-lo < 1e-12 {
		pad := math.Max(math.Abs(lo)*0.05, 0.5)
		return lo - pad, hi + pad
	}
	return lo, hi
}

func formatTick(v float64) string {
	switch {
	case v == math.Trunc(v) && math.Abs(v) < 1e6:
		return fmt.Sprintf("%.0f", v)
	case math.Abs(v) >= 0.01 && math.Abs(v) < 1e4:
		return fmt.Sprintf("%.3f", v)
	default:
		return fmt.Sprintf("%.2e", v)
	}
}
