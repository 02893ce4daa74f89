package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/gg"

	"github.com/BaSui01/facesynth/render"
)

// JPEGQuality 中间结果与多视角图像的 JPEG 质量
const JPEGQuality = 95

// SaveJPEG 将 [lo, hi] 范围的图像写为 JPEG，目录不存在时创建
func SaveJPEG(path string, img *render.Image, lo, hi float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	dc := gg.NewContextForImage(img.ToRGBA(lo, hi))
	defer dc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dc.EncodeJPEG(f, JPEGQuality); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// SavePNG 将 [lo, hi] 范围的图像写为 PNG
func SavePNG(path string, img *render.Image, lo, hi float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	dc := gg.NewContextForImage(img.ToRGBA(lo, hi))
	defer dc.Close()
	return dc.SavePNG(path)
}
