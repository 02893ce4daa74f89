package mesh

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/facesynth/types"
)

// =============================================================================
// 🧪 NPY 测试
// =============================================================================

func TestWriteReadNPY(t *testing.T) {
	in := &Array{Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4.5, -5, 6}}

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, in))
	// 头部按 64 字节对齐
	headerLen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:10]))
	assert.Equal(t, 0, (10+headerLen)%64)

	out, err := ReadNPY(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Shape, out.Shape)
	assert.Equal(t, in.Data, out.Data)
}

func TestReadNPY_Float32(t *testing.T) {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': (3,), }"
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	binary.Write(&buf, binary.LittleEndian, []float32{0.5, 1.5, -2})

	arr, err := ReadNPY(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, arr.Shape)
	assert.Equal(t, []float64{0.5, 1.5, -2}, arr.Data)
}

func TestReadNPY_Rejects(t *testing.T) {
	_, err := ReadNPY(strings.NewReader("not numpy at all"))
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))

	header := "{'descr': '<f8', 'fortran_order': True, 'shape': (1,), }"
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	_, err = ReadNPY(&buf)
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))
}

func TestLoadNPY_Missing(t *testing.T) {
	_, err := LoadNPY(filepath.Join(t.TempDir(), "nope.npy"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAssetMissing))
}

// =============================================================================
// 🧪 OBJ 测试
// =============================================================================

const quadOBJ = `# quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
`

func TestReadOBJ_FanTriangulation(t *testing.T) {
	m, err := ReadOBJ(strings.NewReader(quadOBJ))
	require.NoError(t, err)

	assert.Equal(t, 4, m.NumVertices())
	assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, m.Faces)
	assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, m.FaceUVs)
	assert.Len(t, m.UVs, 8)
}

func TestReadOBJ_NegativeIndicesAndNoUV(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\nf -3 -2 -1\n"
	m, err := ReadOBJ(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, [][3]int{{0, 1, 2}}, m.Faces)
	assert.Nil(t, m.FaceUVs)
}

func TestReadOBJ_Errors(t *testing.T) {
	_, err := ReadOBJ(strings.NewReader("v 0 0 0\n"))
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))

	_, err = ReadOBJ(strings.NewReader("v 0 0 0\nf 1 2 3\n"))
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))
}

func TestExport_WritesMaterial(t *testing.T) {
	m, err := ReadOBJ(strings.NewReader(quadOBJ))
	require.NoError(t, err)

	tex := image.NewRGBA(image.Rect(0, 0, 4, 4))
	tex.Set(1, 1, color.RGBA{255, 0, 0, 255})
	m.Texture = tex

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "result_concrete.obj")
	require.NoError(t, Export(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "mtllib material.mtl"))
	assert.Contains(t, string(data), "f 1/1 2/2 3/3")
	assert.FileExists(t, filepath.Join(dir, "sub", MaterialFile))
	assert.FileExists(t, filepath.Join(dir, "sub", TextureFile))

	back, err := LoadOBJ(path)
	require.NoError(t, err)
	assert.InDeltaSlice(t, m.Vertices, back.Vertices, 1e-9)
}

// =============================================================================
// 🧪 Basis / Assets 测试
// =============================================================================

func TestBasis_ExpandBackwardAdjoint(t *testing.T) {
	b := &Basis{Rank: 2, Cols: 6, Data: []float64{
		1, 0, 2, 0, 1, -1,
		0, 3, 0, 1, 0, 2,
	}}
	p := []float64{0.5, -2}
	g := []float64{1, 2, 3, 4, 5, 6}

	disp := b.Expand(p)
	assert.Equal(t, []float64{0.5, -6, 1, -2, 0.5, -4.5}, disp)

	// <Expand(p), g> == <p, Backward(g)>
	var lhs, rhs float64
	for i := range disp {
		lhs += disp[i] * g[i]
	}
	back := b.Backward(g)
	for i := range p {
		rhs += p[i] * back[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-12)
}

func TestNewAssets_Validation(t *testing.T) {
	verts := &Array{Shape: []int{3, 3}, Data: make([]float64, 9)}
	faces := &Array{Shape: []int{1, 3}, Data: []float64{0, 1, 2}}
	basis := &Basis{Rank: 1, Cols: 9, Data: make([]float64, 9)}

	a, err := NewAssets(nil, verts, faces, basis)
	require.NoError(t, err)
	assert.Equal(t, 3, a.NumVertices())

	badFaces := &Array{Shape: []int{1, 3}, Data: []float64{0, 1, 7}}
	_, err = NewAssets(nil, verts, badFaces, basis)
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))

	badBasis := &Basis{Rank: 1, Cols: 6, Data: make([]float64, 6)}
	_, err = NewAssets(nil, verts, faces, badBasis)
	assert.True(t, types.IsErrorCode(err, types.ErrAssetInvalid))
}

func TestLoadAssets_MissingIsFatal(t *testing.T) {
	paths := DefaultAssetPaths()
	paths.Dir = t.TempDir()

	_, err := LoadAssets(paths)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAssetMissing))
}
