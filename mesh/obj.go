package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BaSui01/facesynth/types"
)

// 导出时与 OBJ 同目录写出的材质文件名
const (
	MaterialFile = "material.mtl"
	TextureFile  = "material_0.png"
	materialName = "material_0"
)

// Mesh 三角网格。Vertices 为扁平 N·3 坐标，UVs 为扁平 M·2 纹理坐标。
// FaceUVs 为空时表示网格没有纹理坐标。
type Mesh struct {
	Vertices []float64
	UVs      []float64
	Faces    [][3]int
	FaceUVs  [][3]int
	Texture  image.Image
}

// NumVertices 返回顶点数
func (m *Mesh) NumVertices() int { return len(m.Vertices) / 3 }

// Clone 深拷贝网格几何；贴图按引用共享（image.Image 只读使用）。
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: append([]float64(nil), m.Vertices...),
		UVs:      append([]float64(nil), m.UVs...),
		Faces:    append([][3]int(nil), m.Faces...),
		FaceUVs:  append([][3]int(nil), m.FaceUVs...),
		Texture:  m.Texture,
	}
	return c
}

// WithDisplacement 返回 mean + disp 的新网格，disp 长度必须等于 len(Vertices)。
func (m *Mesh) WithDisplacement(disp []float64) (*Mesh, error) {
	if len(disp) != len(m.Vertices) {
		return nil, types.Errorf(types.ErrShapeMismatch,
			"displacement has %d values, mesh has %d", len(disp), len(m.Vertices))
	}
	c := m.Clone()
	for i := range c.Vertices {
		c.Vertices[i] += disp[i]
	}
	return c, nil
}

// LoadOBJ 从文件读取网格，不解析材质
func LoadOBJ(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Errorf(types.ErrAssetMissing, "asset not found: %s", path).WithCause(err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// ReadOBJ 解析 v / vt / f 记录。多边形按扇形三角化，顶点顺序保持文件顺序。
func ReadOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	hasUV := true

	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, objError(line, "vertex needs 3 coordinates")
			}
			for _, s := range fields[1:4] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, objError(line, err.Error())
				}
				m.Vertices = append(m.Vertices, v)
			}
		case "vt":
			if len(fields) < 3 {
				return nil, objError(line, "texture coordinate needs 2 values")
			}
			for _, s := range fields[1:3] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, objError(line, err.Error())
				}
				m.UVs = append(m.UVs, v)
			}
		case "f":
			if len(fields) < 4 {
				return nil, objError(line, "face needs at least 3 vertices")
			}
			vi := make([]int, 0, len(fields)-1)
			ti := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				v, t, err := parseFaceRef(ref, m.NumVertices(), len(m.UVs)/2)
				if err != nil {
					return nil, objError(line, err.Error())
				}
				vi = append(vi, v)
				ti = append(ti, t)
				if t < 0 {
					hasUV = false
				}
			}
			for k := 1; k+1 < len(vi); k++ {
				m.Faces = append(m.Faces, [3]int{vi[0], vi[k], vi[k+1]})
				m.FaceUVs = append(m.FaceUVs, [3]int{ti[0], ti[k], ti[k+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !hasUV {
		m.FaceUVs = nil
	}
	if len(m.Faces) == 0 {
		return nil, types.NewError(types.ErrAssetInvalid, "obj has no faces")
	}
	return m, nil
}

// parseFaceRef 解析 "v", "v/vt", "v//vn", "v/vt/vn"，返回 0 起始下标；缺失 vt 时 t=-1。
func parseFaceRef(ref string, nv, nt int) (int, int, error) {
	parts := strings.Split(ref, "/")
	v, err := resolveIndex(parts[0], nv)
	if err != nil {
		return 0, 0, err
	}
	t := -1
	if len(parts) > 1 && parts[1] != "" {
		t, err = resolveIndex(parts[1], nt)
		if err != nil {
			return 0, 0, err
		}
	}
	return v, t, nil
}

func resolveIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += n
	default:
		return 0, fmt.Errorf("index 0 is not valid")
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %s out of range", s)
	}
	return i, nil
}

func objError(line int, msg string) error {
	return types.Errorf(types.ErrAssetInvalid, "obj line %d: %s", line, msg)
}

// WriteOBJ 写出几何；mtllib 非空时引用材质
func WriteOBJ(w io.Writer, m *Mesh, mtllib string) error {
	bw := bufio.NewWriter(w)
	if mtllib != "" {
		fmt.Fprintf(bw, "mtllib %s\n", mtllib)
	}
	for i := 0; i+2 < len(m.Vertices); i += 3 {
		fmt.Fprintf(bw, "v %.8f %.8f %.8f\n", m.Vertices[i], m.Vertices[i+1], m.Vertices[i+2])
	}
	for i := 0; i+1 < len(m.UVs); i += 2 {
		fmt.Fprintf(bw, "vt %.8f %.8f\n", m.UVs[i], m.UVs[i+1])
	}
	if mtllib != "" {
		fmt.Fprintf(bw, "usemtl %s\n", materialName)
	}
	withUV := len(m.FaceUVs) == len(m.Faces)
	for k, f := range m.Faces {
		if withUV {
			t := m.FaceUVs[k]
			fmt.Fprintf(bw, "f %d/%d %d/%d %d/%d\n", f[0]+1, t[0]+1, f[1]+1, t[1]+1, f[2]+1, t[2]+1)
		} else {
			fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
		}
	}
	return bw.Flush()
}

// Export 将网格写到 path，并在同目录写出 material.mtl 与 material_0.png。
// 没有贴图时只写几何。
func Export(path string, m *Mesh) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	mtllib := ""
	if m.Texture != nil {
		mtllib = MaterialFile
		if err := writeMaterial(dir, m.Texture); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteOBJ(f, m, mtllib); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeMaterial(dir string, tex image.Image) error {
	mtl := fmt.Sprintf("newmtl %s\nKa 1.0 1.0 1.0\nKd 1.0 1.0 1.0\nKs 0.0 0.0 0.0\nmap_Kd %s\n", materialName, TextureFile)
	if err := os.WriteFile(filepath.Join(dir, MaterialFile), []byte(mtl), 0o644); err != nil {
		return fmt.Errorf("write material: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, TextureFile))
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}
	if err := png.Encode(f, tex); err != nil {
		f.Close()
		return fmt.Errorf("encode texture: %w", err)
	}
	return f.Close()
}
