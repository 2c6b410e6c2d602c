package display

import (
	"testing"

	"github.com/getcharzp/go-screenpipe/internal/abi"
)

// stubCalls 把原始调用替换为记录器, 测试里绝不真正跳转到假地址
func stubCalls(t *testing.T, status int32) *[]uintptr {
	t.Helper()
	var called []uintptr
	orig := syscallN
	syscallN = func(fn uintptr, args ...uintptr) (uintptr, uintptr, uintptr) {
		called = append(called, fn)
		return uintptr(uint32(status)), 0, 0
	}
	t.Cleanup(func() { syscallN = orig })
	return &called
}

func fullTxSyms() *abi.TransactionSymbols {
	return &abi.TransactionSymbols{
		Ctor:                 abi.Symbol{Addr: 0x10, Variant: "ctor"},
		Dtor:                 abi.Symbol{Addr: 0x11, Variant: "dtor"},
		Apply:                abi.Symbol{Addr: 0x12, Variant: "apply"},
		SetDisplaySurface:    abi.Symbol{Addr: 0x13, Variant: "setDisplaySurface"},
		SetDisplayProjection: abi.Symbol{Addr: 0x14, Variant: "setDisplayProjection"},
	}
}

func TestNewTransactionWithIncompleteTable(t *testing.T) {
	if _, err := NewTransactionWith(&abi.TransactionSymbols{}); err == nil {
		t.Fatal("能力表不完整时应拒绝构造")
	}
}

func TestProjectionValid(t *testing.T) {
	cases := []struct {
		name string
		p    Projection
		want bool
	}{
		{"正常", Projection{Src: Rect{Right: 720, Bottom: 1280}, Dst: Rect{Right: 720, Bottom: 1280}}, true},
		{"源矩形为空", Projection{Dst: Rect{Right: 1, Bottom: 1}}, false},
		{"目标矩形为负", Projection{Src: Rect{Right: 1, Bottom: 1}, Dst: Rect{Right: -1, Bottom: 1}}, false},
		{"旋转越界", Projection{Src: Rect{Right: 1, Bottom: 1}, Dst: Rect{Right: 1, Bottom: 1}, Rotation: 4}, false},
	}
	for _, c := range cases {
		if got := c.p.Valid(); got != c.want {
			t.Errorf("%s: Valid()=%v, 期望 %v", c.name, got, c.want)
		}
	}
}

func TestSetDisplaySurfaceRejectsInvalidToken(t *testing.T) {
	called := stubCalls(t, 0)
	tx, err := NewTransactionWith(fullTxSyms())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Initialize(); err != nil {
		t.Fatal(err)
	}
	before := len(*called)
	if tx.SetDisplaySurface(Token(0), 0x1234) {
		t.Fatal("无效 token 应被拒绝")
	}
	if len(*called) != before {
		t.Fatal("无效 token 不应触发任何原始调用")
	}
}

func TestSetDisplaySurfaceOptionalMissing(t *testing.T) {
	stubCalls(t, 0)
	syms := fullTxSyms()
	syms.SetDisplaySurface = abi.Symbol{}
	tx, err := NewTransactionWith(syms)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Initialize(); err != nil {
		t.Fatal(err)
	}
	// 可选符号缺失: 返回 false 但不视为致命
	if tx.SetDisplaySurface(Token(0x1), 0x2) {
		t.Fatal("符号缺失时应返回 false")
	}
}

func TestApplyReportsPlatformStatus(t *testing.T) {
	stubCalls(t, -22)
	tx, err := NewTransactionWith(fullTxSyms())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Initialize(); err != nil {
		t.Fatal(err)
	}
	if tx.Apply() {
		t.Fatal("平台返回非零状态时 Apply 应为 false")
	}
}

func TestConfigureDisplayHappyPath(t *testing.T) {
	called := stubCalls(t, 0)
	tx, err := NewTransactionWith(fullTxSyms())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Initialize(); err != nil {
		t.Fatal(err)
	}
	if !tx.ConfigureDisplay(Token(0xbeef), 0x1000, 1080, 2400, 720, 1600) {
		t.Fatal("配置显示应成功")
	}
	// ctor + setDisplaySurface + setDisplayProjection + apply
	if len(*called) != 4 {
		t.Fatalf("原始调用次数不对: %d", len(*called))
	}
}

func TestDestroyIdempotent(t *testing.T) {
	called := stubCalls(t, 0)
	tx, err := NewTransactionWith(fullTxSyms())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Initialize(); err != nil {
		t.Fatal(err)
	}
	tx.Destroy()
	tx.Destroy()
	// ctor + 一次 dtor
	if len(*called) != 2 {
		t.Fatalf("析构应只执行一次, 调用记录 %d", len(*called))
	}
}
