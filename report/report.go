package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/quality"
)

// 报告文件名
const (
	JSONFile  = "optimization_report.json"
	ChartFile = "optimization_report.png"
)

// Writer 报告输出器，消费 Tracker 的历史与摘要
type Writer struct {
	dir    string
	width  int
	height int
	logger *zap.Logger
}

// NewWriter 创建报告输出器
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		dir:    dir,
		width:  1500,
		height: 1000,
		logger: logger.With(zap.String("component", "report")),
	}
}

// Paths 报告文件路径
type Paths struct {
	JSON  string
	Chart string
}

// Write 写入 JSON 摘要和可视化图表
func (w *Writer) Write(rep *quality.Report, history []quality.Record) (Paths, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create report directory: %w", err)
	}
	paths := Paths{
		JSON:  filepath.Join(w.dir, JSONFile),
		Chart: filepath.Join(w.dir, ChartFile),
	}

	if err := WriteJSON(paths.JSON, rep); err != nil {
		return paths, err
	}

	dc, err := Chart(history, rep.BestIteration, w.width, w.height)
	if err != nil {
		return paths, fmt.Errorf("draw report chart: %w", err)
	}
	defer dc.Close()
	if err := dc.SavePNG(paths.Chart); err != nil {
		return paths, fmt.Errorf("save report chart: %w", err)
	}

	w.logger.Info("optimization report written",
		zap.String("json", paths.JSON),
		zap.String("chart", paths.Chart),
		zap.Int("best_iteration", rep.BestIteration),
		zap.Int("records", len(history)))
	return paths, nil
}

// WriteJSON 以 4 空格缩进写出摘要
func WriteJSON(path string, rep *quality.Report) error {
	data, err := json.MarshalIndent(rep, "", "    ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
