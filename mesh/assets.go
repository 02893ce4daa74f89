package mesh

import (
	"fmt"
	"path/filepath"

	"github.com/BaSui01/facesynth/types"
)

// AssetPaths 资产文件位置。相对路径基于 Dir。
type AssetPaths struct {
	Dir       string `yaml:"dir" env:"DIR"`
	MeanMesh  string `yaml:"mean_mesh" env:"MEAN_MESH"`
	MeanVerts string `yaml:"mean_verts" env:"MEAN_VERTS"`
	Faces     string `yaml:"faces" env:"FACES"`
	Basis     string `yaml:"basis" env:"BASIS"`
}

// DefaultAssetPaths 返回与预定义资产目录一致的默认文件名
func DefaultAssetPaths() AssetPaths {
	return AssetPaths{
		Dir:       "./predef",
		MeanMesh:  "mean_face_3DMM_300.obj",
		MeanVerts: "mean_verts.npy",
		Faces:     "faces.npy",
		Basis:     "core_1627_300_weight_10.npy",
	}
}

// Resolve 返回 name 基于 Dir 的完整路径
func (p AssetPaths) Resolve(name string) string {
	if filepath.IsAbs(name) || p.Dir == "" {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// Assets 一次运行所需的静态资产，加载后只读。
type Assets struct {
	MeanMesh  *Mesh
	MeanVerts []float64
	Faces     [][3]int
	Basis     *Basis
}

// NumVertices 返回平均脸顶点数
func (a *Assets) NumVertices() int { return len(a.MeanVerts) / 3 }

// LoadAssets 加载并交叉校验所有资产。任何缺失或不一致都直接返回错误。
func LoadAssets(paths AssetPaths) (*Assets, error) {
	meanMesh, err := LoadOBJ(paths.Resolve(paths.MeanMesh))
	if err != nil {
		return nil, fmt.Errorf("load mean mesh: %w", err)
	}

	verts, err := LoadNPY(paths.Resolve(paths.MeanVerts))
	if err != nil {
		return nil, fmt.Errorf("load mean verts: %w", err)
	}

	faces, err := LoadNPY(paths.Resolve(paths.Faces))
	if err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}

	basisArr, err := LoadNPY(paths.Resolve(paths.Basis))
	if err != nil {
		return nil, fmt.Errorf("load basis: %w", err)
	}
	basis, err := NewBasis(basisArr)
	if err != nil {
		return nil, err
	}

	return NewAssets(meanMesh, verts, faces, basis)
}

// NewAssets 由已加载的数组组装资产并校验形状
func NewAssets(meanMesh *Mesh, verts, faces *Array, basis *Basis) (*Assets, error) {
	if len(verts.Shape) != 2 || verts.Shape[1] != 3 {
		return nil, types.Errorf(types.ErrAssetInvalid, "mean verts must be [N,3], got %v", verts.Shape)
	}
	n := verts.Shape[0]

	if len(faces.Shape) != 2 || faces.Shape[1] != 3 {
		return nil, types.Errorf(types.ErrAssetInvalid, "faces must be [F,3], got %v", faces.Shape)
	}
	tris := make([][3]int, faces.Shape[0])
	for i := range tris {
		for k := 0; k < 3; k++ {
			idx := int(faces.Data[i*3+k])
			if idx < 0 || idx >= n {
				return nil, types.Errorf(types.ErrAssetInvalid, "face %d references vertex %d of %d", i, idx, n)
			}
			tris[i][k] = idx
		}
	}

	if basis.NumVertices() != n {
		return nil, types.Errorf(types.ErrAssetInvalid,
			"basis covers %d vertices, mean verts has %d", basis.NumVertices(), n)
	}
	if meanMesh != nil && meanMesh.NumVertices() != n {
		return nil, types.Errorf(types.ErrAssetInvalid,
			"mean mesh has %d vertices, mean verts has %d", meanMesh.NumVertices(), n)
	}

	return &Assets{
		MeanMesh:  meanMesh,
		MeanVerts: verts.Data,
		Faces:     tris,
		Basis:     basis,
	}, nil
}

// Vertices 返回 mean + param·basis
func (a *Assets) Vertices(param []float64) []float64 {
	disp := a.Basis.Expand(param)
	for i := range disp {
		disp[i] += a.MeanVerts[i]
	}
	return disp
}

// ExportMesh 以平均脸拓扑和 UV 构造带位移的网格。
// 没有平均脸 OBJ 时使用 MeanVerts 与 Faces，不带 UV。
func (a *Assets) ExportMesh(param []float64) (*Mesh, error) {
	base := a.MeanMesh
	if base == nil {
		base = &Mesh{
			Vertices: append([]float64(nil), a.MeanVerts...),
			Faces:    a.Faces,
		}
	}
	return base.WithDisplacement(a.Basis.Expand(param))
}
