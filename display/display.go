// Package display 封装虚拟显示的投影事务。
//
// DisplayToken 由外部的虚拟显示子系统创建, 这里只消费不持有;
// 事务对象本体是平台内部类型, 以不透明内存块 + 已解析符号的方式操作。
package display

// Token 虚拟显示句柄。只是一个指针宽度的不透明值,
// 绝不解引用, 生命期归显示创建方所有。
type Token uintptr

// IsValid 句柄是否有效 (零值为无效哨兵)
func (t Token) IsValid() bool { return t != 0 }

// Rotation 显示旋转, 单位为顺时针 90 度档位
type Rotation int32

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 1
	Rotation180 Rotation = 2
	Rotation270 Rotation = 3
)

// Rect 平台 android::Rect 的内存布局 (4 个 int32)
type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

// Width 矩形宽
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height 矩形高
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Projection 显示投影参数, 每次 ConfigureDisplay 现场构造, 不做持久化
type Projection struct {
	Src      Rect
	Dst      Rect
	Rotation Rotation
}

// Valid 源 / 目标矩形必须为正尺寸
func (p Projection) Valid() bool {
	return p.Src.Width() > 0 && p.Src.Height() > 0 &&
		p.Dst.Width() > 0 && p.Dst.Height() > 0 &&
		p.Rotation >= Rotation0 && p.Rotation <= Rotation270
}
