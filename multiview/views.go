package multiview

// ViewSpec 相机姿态（角度单位为度）
type ViewSpec struct {
	Name      string  `json:"name"`
	Elevation float64 `json:"elevation"`
	Azimuth   float64 `json:"azimuth"`
}

// DefaultView 未知视角回退目标
const DefaultView = "front"

// CameraDistance 相机到原点的距离
const CameraDistance = 2.7

// DefaultFOV 垂直视场角（度）
const DefaultFOV = 60.0

var registry = []ViewSpec{
	{Name: "front", Elevation: 0, Azimuth: 0},
	{Name: "left", Elevation: 0, Azimuth: -30},
	{Name: "right", Elevation: 0, Azimuth: 30},
	{Name: "top_left", Elevation: 15, Azimuth: -20},
	{Name: "top_right", Elevation: 15, Azimuth: 20},
}

// consistencyViews 参与一致性损失的视角
var consistencyViews = [3]string{"front", "left", "right"}

// Views 返回注册表副本，顺序固定
func Views() []ViewSpec {
	out := make([]ViewSpec, len(registry))
	copy(out, registry)
	return out
}

// Lookup 按名称查找视角
func Lookup(name string) (ViewSpec, bool) {
	for _, v := range registry {
		if v.Name == name {
			return v, true
		}
	}
	return ViewSpec{}, false
}

// Resolve 按名称查找视角，未知名称返回 front
func Resolve(name string) ViewSpec {
	if v, ok := Lookup(name); ok {
		return v
	}
	v, _ := Lookup(DefaultView)
	return v
}
