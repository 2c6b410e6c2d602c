package capture

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/getcharzp/go-screenpipe/display"
	"github.com/getcharzp/go-screenpipe/internal/abi"
)

// surfaceStorageSize 平台 Surface 对象的不透明存储大小
const surfaceStorageSize = 512

// acquirePollInterval AcquireFrameTimeout 的轮询间隔
const acquirePollInterval = 2 * time.Millisecond

// Frame GPU 侧帧的全部可见信息, 帧数据本体始终留在 GPU 纹理里
type Frame struct {
	TexID       uint32
	TimestampNs int64
	Transform   [16]float32
	Seq         uint64
}

// frameSource GLConsumer 的最小接口, 测试可注入模拟缓冲池的假实现
type frameSource interface {
	UpdateTexImage() bool
	ReleaseTexImage() bool
	TransformMatrix(out *[16]float32)
	Timestamp() int64
	SetFrameAvailableCallback(fn func()) bool
	Destroy()
}

// displayConfigurer 显示事务的最小接口
type displayConfigurer interface {
	ConfigureDisplay(token display.Token, producer uintptr, srcW, srcH, dstW, dstH int32) bool
	SetDisplaySurface(token display.Token, producer uintptr) bool
	Apply() bool
	Destroy()
}

// Pipeline 零拷贝取帧管线, 持有生产者 / 消费者端点、生产者 Surface
// 和 GL 消费者。状态机: 未初始化 → 已初始化 → 已连接显示 → 关停。
//
// 除帧到达回调外, 所有方法约定在持有 GL 上下文的单一线程上调用。
// 背压约束: 任一时刻至多一帧未释放, 不调用 ReleaseTexImage
// 就继续取帧, 生产者缓冲池 (通常 2-3 个) 耗尽后 AcquireFrame
// 会稳定返回"没有新帧", 而不是崩溃。
type Pipeline struct {
	width  int32
	height int32

	texID       uint32
	producer    uintptr
	consumerEnd uintptr
	surface     []byte        // 生产者 Surface 的不透明存储
	spProducer  uintptr       // Surface 构造所需的 sp<> 形状, 须保持存活
	source      frameSource
	tx          displayConfigurer
	syms        *abi.BufferQueueSymbols

	framePending atomic.Bool
	frameSeq     uint64

	initialized bool
	connected   bool
	token       display.Token
}

// NewPipeline 解析符号、创建 BufferQueue 生产者 / 消费者对、
// 生成 GL 纹理并构造消费者与生产者 Surface。
// 任一步失败都会回滚已创建的资源, 不泄漏纹理或库句柄。
func NewPipeline(width, height int32) (*Pipeline, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("取帧尺寸非法: %dx%d", width, height)
	}
	bqSyms, err := abi.DefaultBufferQueueSymbols()
	if err != nil {
		return nil, fmt.Errorf("BufferQueue 符号未就绪: %w", err)
	}
	glSyms, err := abi.DefaultGLConsumerSymbols()
	if err != nil {
		return nil, fmt.Errorf("GLConsumer 符号未就绪: %w", err)
	}

	p := &Pipeline{width: width, height: height, syms: bqSyms}

	// BufferQueue 生产者 / 消费者对; Android 12 之前的签名多一个 allocator
	if bqSyms.HasAllocatorParam {
		syscallN(bqSyms.CreateBufferQueue.Addr,
			uintptr(unsafe.Pointer(&p.producer)),
			uintptr(unsafe.Pointer(&p.consumerEnd)), 0)
	} else {
		syscallN(bqSyms.CreateBufferQueue.Addr,
			uintptr(unsafe.Pointer(&p.producer)),
			uintptr(unsafe.Pointer(&p.consumerEnd)))
	}
	if p.producer == 0 || p.consumerEnd == 0 {
		return nil, fmt.Errorf("创建 BufferQueue 失败")
	}

	syscallN(bqSyms.GenTextures.Addr, 1, uintptr(unsafe.Pointer(&p.texID)))
	if p.texID == 0 {
		return nil, fmt.Errorf("生成 GL 纹理失败")
	}

	source, err := NewGLConsumer(glSyms, p.consumerEnd, p.texID, true)
	if err != nil {
		p.deleteTexture()
		return nil, fmt.Errorf("构造 GL 消费者失败: %w", err)
	}
	p.source = source

	if err := p.createSurface(); err != nil {
		source.Destroy()
		p.deleteTexture()
		return nil, err
	}

	if !p.source.SetFrameAvailableCallback(func() { p.framePending.Store(true) }) {
		log.Warn().Msg("帧到达通知不可用, 取帧将退化为纯轮询")
	}

	p.initialized = true
	log.Info().Int32("width", width).Int32("height", height).
		Uint32("tex", p.texID).Msg("取帧管线初始化完成")
	return p, nil
}

// newPipelineWith 注入依赖的构造入口 (测试用)
func newPipelineWith(width, height int32, source frameSource, tx displayConfigurer) *Pipeline {
	p := &Pipeline{
		width: width, height: height,
		source: source, tx: tx,
		initialized: true,
	}
	source.SetFrameAvailableCallback(func() { p.framePending.Store(true) })
	return p
}

func (p *Pipeline) createSurface() error {
	p.surface = make([]byte, surfaceStorageSize)
	p.spProducer = p.producer
	_, _, errno := syscallN(p.syms.SurfaceCtor.Addr,
		uintptr(unsafe.Pointer(&p.surface[0])),
		uintptr(unsafe.Pointer(&p.spProducer)), 1)
	if errno != 0 {
		p.surface = nil
		return fmt.Errorf("构造生产者 Surface 失败, errno=%d", errno)
	}
	return nil
}

func (p *Pipeline) deleteTexture() {
	if p.texID != 0 && p.syms != nil {
		syscallN(p.syms.DeleteTextures.Addr, 1, uintptr(unsafe.Pointer(&p.texID)))
		p.texID = 0
	}
}

// surfacePtr 生产者 Surface 对象地址 (0 表示尚未创建)
func (p *Pipeline) surfacePtr() uintptr {
	if p.surface == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&p.surface[0]))
}

// IsInitialized 管线是否可用
func (p *Pipeline) IsInitialized() bool { return p.initialized }

// IsConnected 是否已连接到虚拟显示
func (p *Pipeline) IsConnected() bool { return p.connected }

// ConnectToDisplay 通过显示事务把生产者 Surface 挂到虚拟显示上。
// 换绑其它 token 必须先 DisconnectFromDisplay。
func (p *Pipeline) ConnectToDisplay(token display.Token, srcW, srcH int32) error {
	if !p.initialized {
		return fmt.Errorf("管线未初始化")
	}
	if p.connected {
		return fmt.Errorf("已连接显示, 换绑前需先断开")
	}
	if !token.IsValid() {
		return fmt.Errorf("显示句柄无效")
	}
	if p.tx == nil {
		tx, err := display.NewTransaction()
		if err != nil {
			return err
		}
		if err := tx.Initialize(); err != nil {
			return err
		}
		p.tx = tx
	}
	if !p.tx.ConfigureDisplay(token, p.surfacePtr(), srcW, srcH, p.width, p.height) {
		return fmt.Errorf("显示事务提交失败")
	}
	p.connected = true
	p.token = token
	log.Info().Int32("src_w", srcW).Int32("src_h", srcH).Msg("已连接虚拟显示")
	return nil
}

// DisconnectFromDisplay 解除显示绑定, 可重复调用
func (p *Pipeline) DisconnectFromDisplay() {
	if !p.connected {
		return
	}
	if p.tx != nil {
		// 把显示表面置空再提交, 让合成器停止向本管线供帧
		p.tx.SetDisplaySurface(p.token, 0)
		p.tx.Apply()
	}
	p.connected = false
	p.token = 0
}

// AcquireFrame 取最新一帧并绑定到纹理。
// 第二个返回值为 false 表示当前没有新帧, 属于正常结果;
// 硬失败由底层记日志, 对调用方同样表现为 false。
func (p *Pipeline) AcquireFrame() (Frame, bool) {
	if !p.initialized {
		return Frame{}, false
	}
	if !p.source.UpdateTexImage() {
		return Frame{}, false
	}
	p.framePending.Store(false)
	p.frameSeq++
	f := Frame{
		TexID:       p.texID,
		TimestampNs: p.source.Timestamp(),
		Seq:         p.frameSeq,
	}
	p.source.TransformMatrix(&f.Transform)
	return f, true
}

// AcquireFrameTimeout 轮询取帧直到成功或超时。
// 超时返回 false 是预期结果 (显示可能尚未开始合成), 调用方自行决定重试。
func (p *Pipeline) AcquireFrameTimeout(timeout time.Duration) (Frame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if f, ok := p.AcquireFrame(); ok {
			return f, true
		}
		if time.Now().After(deadline) {
			return Frame{}, false
		}
		time.Sleep(acquirePollInterval)
	}
}

// HasPendingFrame 是否可能有未消费的新帧。
// 只是竞态提示, 正确性不允许只依赖它。
func (p *Pipeline) HasPendingFrame() bool {
	return p.framePending.Load()
}

// ReleaseTexImage 归还当前帧的缓冲, 完成 GPU 读取后必须调用,
// 否则生产者会因缓冲池耗尽而停摆 (背压约束)。
func (p *Pipeline) ReleaseTexImage() {
	if !p.initialized {
		return
	}
	p.source.ReleaseTexImage()
}

// Shutdown 逆序释放全部资源: 断开显示 → 销毁 GL 消费者 →
// 销毁生产者 Surface → 删除纹理。可重复调用, 析构路径安全。
func (p *Pipeline) Shutdown() {
	if !p.initialized {
		return
	}
	p.DisconnectFromDisplay()
	if p.tx != nil {
		p.tx.Destroy()
		p.tx = nil
	}
	if p.source != nil {
		p.source.Destroy()
		p.source = nil
	}
	if p.surface != nil && p.syms != nil {
		syscallN(p.syms.SurfaceDtor.Addr, uintptr(unsafe.Pointer(&p.surface[0])))
	}
	p.surface = nil
	p.deleteTexture()
	p.producer = 0
	p.consumerEnd = 0
	p.initialized = false
	log.Info().Msg("取帧管线已关停")
}
