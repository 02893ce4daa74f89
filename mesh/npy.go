package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/facesynth/types"
)

var npyMagic = []byte("\x93NUMPY")

var (
	descrPattern   = regexp.MustCompile(`'descr'\s*:\s*'([^']+)'`)
	fortranPattern = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapePattern   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Array 是从 .npy 文件读取的 C 顺序数组，数据统一转换为 float64。
type Array struct {
	Shape []int
	Data  []float64
}

// Len 返回元素总数
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// LoadNPY 从文件加载数组
func LoadNPY(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Errorf(types.ErrAssetMissing, "asset not found: %s", path).WithCause(err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	arr, err := ReadNPY(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return arr, nil
}

// ReadNPY 解析 NPY v1/v2/v3 格式。支持 <f4 <f8 <i4 <i8 四种小端类型。
func ReadNPY(r io.Reader) (*Array, error) {
	magic := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, types.NewError(types.ErrAssetInvalid, "truncated npy header").WithCause(err)
	}
	if !bytes.Equal(magic[:len(npyMagic)], npyMagic) {
		return nil, types.NewError(types.ErrAssetInvalid, "not an npy file")
	}

	major := magic[len(npyMagic)]
	var headerLen int
	switch major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, types.NewError(types.ErrAssetInvalid, "truncated npy header").WithCause(err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, types.NewError(types.ErrAssetInvalid, "truncated npy header").WithCause(err)
		}
		headerLen = int(n)
	default:
		return nil, types.Errorf(types.ErrAssetInvalid, "unsupported npy version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, types.NewError(types.ErrAssetInvalid, "truncated npy header").WithCause(err)
	}

	descr, shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}

	arr := &Array{Shape: shape}
	n := arr.Len()
	arr.Data = make([]float64, n)

	switch descr {
	case "<f8":
		buf := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, truncated(err)
		}
		copy(arr.Data, buf)
	case "<f4":
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, truncated(err)
		}
		for i, v := range buf {
			arr.Data[i] = float64(v)
		}
	case "<i8":
		buf := make([]int64, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, truncated(err)
		}
		for i, v := range buf {
			arr.Data[i] = float64(v)
		}
	case "<i4":
		buf := make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, truncated(err)
		}
		for i, v := range buf {
			arr.Data[i] = float64(v)
		}
	default:
		return nil, types.Errorf(types.ErrAssetInvalid, "unsupported npy dtype %q", descr)
	}

	return arr, nil
}

func truncated(err error) error {
	return types.NewError(types.ErrAssetInvalid, "truncated npy data").WithCause(err)
}

func parseNPYHeader(header string) (string, []int, error) {
	m := descrPattern.FindStringSubmatch(header)
	if m == nil {
		return "", nil, types.NewError(types.ErrAssetInvalid, "npy header missing descr")
	}
	descr := m[1]

	if fm := fortranPattern.FindStringSubmatch(header); fm != nil && fm[1] == "True" {
		return "", nil, types.NewError(types.ErrAssetInvalid, "fortran-ordered npy arrays are not supported")
	}

	sm := shapePattern.FindStringSubmatch(header)
	if sm == nil {
		return "", nil, types.NewError(types.ErrAssetInvalid, "npy header missing shape")
	}
	var shape []int
	for _, part := range strings.Split(sm[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return "", nil, types.Errorf(types.ErrAssetInvalid, "bad npy dimension %q", part)
		}
		shape = append(shape, d)
	}
	return descr, shape, nil
}

// WriteNPY 以 v1.0 格式写出 <f8 数组
func WriteNPY(w io.Writer, a *Array) error {
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shape)

	// 头部总长度按 64 字节对齐，以换行结尾
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, v := range a.Data {
		if err := binary.Write(w, binary.LittleEndian, math.Float64bits(v)); err != nil {
			return err
		}
	}
	return nil
}
