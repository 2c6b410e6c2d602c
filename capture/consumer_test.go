package capture

import (
	"testing"

	"github.com/getcharzp/go-screenpipe/internal/abi"
)

type rawCall struct {
	addr uintptr
	args []uintptr
}

// stubCalls 把原始调用入口替换成录制器, 所有调用都返回给定状态
func stubCalls(t *testing.T, status int32) *[]rawCall {
	t.Helper()
	var calls []rawCall
	orig := syscallN
	syscallN = func(addr uintptr, args ...uintptr) (uintptr, uintptr, uintptr) {
		calls = append(calls, rawCall{addr: addr, args: args})
		return uintptr(status), 0, 0
	}
	t.Cleanup(func() { syscallN = orig })
	return &calls
}

func testGLConsumerSymbols() *abi.GLConsumerSymbols {
	return &abi.GLConsumerSymbols{
		Ctor:                      abi.Symbol{Addr: 0x100},
		Dtor:                      abi.Symbol{Addr: 0x101},
		UpdateTexImage:            abi.Symbol{Addr: 0x102},
		ReleaseTexImage:           abi.Symbol{Addr: 0x103},
		GetTransformMatrix:        abi.Symbol{Addr: 0x104},
		GetTimestamp:              abi.Symbol{Addr: 0x105},
		AttachToContext:           abi.Symbol{Addr: 0x106},
		DetachFromContext:         abi.Symbol{Addr: 0x107},
		SetFrameAvailableListener: abi.Symbol{Addr: 0x108},
	}
}

func TestNewGLConsumerRejectsIncompleteTable(t *testing.T) {
	stubCalls(t, 0)
	syms := testGLConsumerSymbols()
	syms.UpdateTexImage = abi.Symbol{}
	if _, err := NewGLConsumer(syms, 0xdead, 1, true); err == nil {
		t.Fatal("不完整能力表应拒绝构造")
	}
}

func TestNewGLConsumerRejectsNilConsumer(t *testing.T) {
	stubCalls(t, 0)
	if _, err := NewGLConsumer(testGLConsumerSymbols(), 0, 1, true); err == nil {
		t.Fatal("空消费者端点应拒绝构造")
	}
}

func TestUpdateTexImageStatusHandling(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int32
		want   bool
	}{
		{"成功", 0, true},
		{"无新缓冲", -16, false},
		{"缓冲池耗尽", -11, false},
		{"平台错误", -22, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stubCalls(t, 0)
			c, err := NewGLConsumer(testGLConsumerSymbols(), 0xdead, 7, true)
			if err != nil {
				t.Fatal(err)
			}
			stubCalls(t, tc.status)
			if got := c.UpdateTexImage(); got != tc.want {
				t.Fatalf("status=%d: 期望 %v, 得到 %v", tc.status, tc.want, got)
			}
			wantFrames := uint64(0)
			if tc.want {
				wantFrames = 1
			}
			if c.FrameCount() != wantFrames {
				t.Fatalf("帧计数应为 %d, 得到 %d", wantFrames, c.FrameCount())
			}
		})
	}
}

func TestTransformMatrixLazyRefresh(t *testing.T) {
	stubCalls(t, 0)
	c, err := NewGLConsumer(testGLConsumerSymbols(), 0xdead, 7, true)
	if err != nil {
		t.Fatal(err)
	}

	if !c.UpdateTexImage() {
		t.Fatal("取帧失败")
	}
	calls := stubCalls(t, 0)
	var m [16]float32
	c.TransformMatrix(&m)
	c.TransformMatrix(&m)
	// 同一帧内矩阵只从平台读一次
	if len(*calls) != 1 {
		t.Fatalf("getTransformMatrix 应只调用 1 次, 实际 %d 次", len(*calls))
	}
}

func TestTransformMatrixAfterDestroy(t *testing.T) {
	stubCalls(t, 0)
	c, err := NewGLConsumer(testGLConsumerSymbols(), 0xdead, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	c.Destroy()

	var m [16]float32
	m[1] = 42
	c.TransformMatrix(&m)
	if m != identityMatrix {
		t.Fatalf("销毁后应写出单位阵: %v", m)
	}
}

func TestSetFrameAvailableCallbackMissingSymbol(t *testing.T) {
	stubCalls(t, 0)
	syms := testGLConsumerSymbols()
	syms.SetFrameAvailableListener = abi.Symbol{}
	c, err := NewGLConsumer(syms, 0xdead, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	if c.SetFrameAvailableCallback(func() {}) {
		t.Fatal("可选符号缺失时应返回 false")
	}
}

func TestSetFrameAvailableCallbackReregister(t *testing.T) {
	stubCalls(t, 0)
	c, err := NewGLConsumer(testGLConsumerSymbols(), 0xdead, 7, true)
	if err != nil {
		t.Fatal(err)
	}

	calls := stubCalls(t, 0)
	if !c.SetFrameAvailableCallback(func() {}) {
		t.Fatal("首次注册应成功")
	}
	if len(*calls) != 1 {
		t.Fatalf("首次注册应有 1 次原始调用, 实际 %d", len(*calls))
	}

	// 重复注册只换回调, 不再向平台注册, 也不再生成跳板
	var fired bool
	if !c.SetFrameAvailableCallback(func() { fired = true }) {
		t.Fatal("重复注册应成功")
	}
	if len(*calls) != 1 {
		t.Fatalf("重复注册不应追加原始调用, 实际 %d", len(*calls))
	}
	c.cb()
	if !fired {
		t.Fatal("重复注册后应生效新回调")
	}
}

func TestGLConsumerDestroyIdempotent(t *testing.T) {
	stubCalls(t, 0)
	c, err := NewGLConsumer(testGLConsumerSymbols(), 0xdead, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	calls := stubCalls(t, 0)
	c.Destroy()
	c.Destroy()
	if len(*calls) != 1 {
		t.Fatalf("析构应只调用 1 次, 实际 %d 次", len(*calls))
	}
	if c.UpdateTexImage() {
		t.Fatal("销毁后取帧应失败")
	}
}
