// Package capture 实现零拷贝取帧管线:
// 虚拟显示合成 → BufferQueue → GL 外部纹理, 全程不经过 CPU 内存。
package capture

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog/log"

	"github.com/getcharzp/go-screenpipe/internal/abi"
)

// 便于测试替换的原始调用入口
var syscallN = purego.SyscallN

// glConsumerStorageSize 平台 GLConsumer 对象的不透明存储大小
const glConsumerStorageSize = 1024

// GL_TEXTURE_EXTERNAL_OES 外部纹理目标
const glTextureExternalOES = 0x8D65

const (
	statusOK int32 = 0
	// 暂无新缓冲时平台返回 -EBUSY; 生产者缓冲池耗尽时表现为 -EAGAIN,
	// 两者对上层不可区分, 统一按"没有新帧"处理
	statusNoBuffer   int32 = -16
	statusWouldBlock int32 = -11
)

// identityMatrix 没有绑定帧时 TransformMatrix 给出的约定值
var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// frameListener 伪造的 FrameAvailableListener:
// 首字段指向我们自己的虚表, 槽位顺序与平台对象布局保持一致
// (两个析构槽 + onFrameAvailable)。对象本身绝不被平台持有引用计数,
// 生命期由 GLConsumer 保证。
type frameListener struct {
	vtable *[3]uintptr
}

// GLConsumer 把消费者端点绑定为一张 GL 外部纹理。
// 所有 GL 相关方法必须在持有 EGL 上下文的线程上调用;
// 帧到达回调可能在平台内部线程触发, 回调里只允许置位原子标记。
type GLConsumer struct {
	syms    *abi.GLConsumerSymbols
	storage []byte

	texID  uint32
	frames uint64

	matrix      [16]float32
	matrixValid bool

	listener *frameListener
	wp       [2]uintptr // wp<> 形状: (指针, 弱引用记录)
	cb       func()
}

// NewGLConsumer 在不透明存储上构造平台消费者对象并绑定纹理
func NewGLConsumer(syms *abi.GLConsumerSymbols, consumer uintptr, texID uint32, useFenceSync bool) (*GLConsumer, error) {
	if !syms.IsLoaded() {
		return nil, fmt.Errorf("GLConsumer 能力表不完整")
	}
	if consumer == 0 {
		return nil, fmt.Errorf("消费者端点为空")
	}
	c := &GLConsumer{
		syms:    syms,
		storage: make([]byte, glConsumerStorageSize),
		texID:   texID,
		matrix:  identityMatrix,
	}
	fence := uintptr(0)
	if useFenceSync {
		fence = 1
	}
	spConsumer := consumer
	_, _, errno := syscallN(syms.Ctor.Addr, c.this(),
		uintptr(unsafe.Pointer(&spConsumer)),
		uintptr(texID), glTextureExternalOES, fence, 0)
	if errno != 0 {
		return nil, fmt.Errorf("构造 GLConsumer 失败, errno=%d", errno)
	}
	return c, nil
}

func (c *GLConsumer) this() uintptr {
	return uintptr(unsafe.Pointer(&c.storage[0]))
}

// TexID 绑定的纹理 id
func (c *GLConsumer) TexID() uint32 { return c.texID }

// FrameCount 成功取到的帧数
func (c *GLConsumer) FrameCount() uint64 { return c.frames }

// UpdateTexImage 把队列里最旧的缓冲绑到纹理上。
// 返回 false 表示没有新帧 (正常结果, 不是错误);
// 平台报出其它状态时记错误日志后同样返回 false。
func (c *GLConsumer) UpdateTexImage() bool {
	if c.storage == nil {
		return false
	}
	r1, _, _ := syscallN(c.syms.UpdateTexImage.Addr, c.this())
	switch status := int32(r1); status {
	case statusOK:
		// 变换矩阵失效, 下次 TransformMatrix 惰性重算
		c.matrixValid = false
		c.frames++
		return true
	case statusNoBuffer, statusWouldBlock:
		return false
	default:
		log.Error().Int32("status", status).Msg("updateTexImage 失败")
		return false
	}
}

// ReleaseTexImage 把当前绑定的缓冲还给生产者。
// 必须在下一次 UpdateTexImage 之前调用, 否则生产者缓冲池会被占满。
func (c *GLConsumer) ReleaseTexImage() bool {
	if c.storage == nil {
		return false
	}
	r1, _, _ := syscallN(c.syms.ReleaseTexImage.Addr, c.this())
	if status := int32(r1); status != 0 {
		log.Error().Int32("status", status).Msg("releaseTexImage 失败")
		return false
	}
	return true
}

// TransformMatrix 写出当前帧的 4x4 纹理变换矩阵。
// 只有上一次 UpdateTexImage 成功后矩阵才有意义,
// 没有绑定帧时写出单位阵 (调用方责任)。
func (c *GLConsumer) TransformMatrix(out *[16]float32) {
	if c.storage == nil {
		*out = identityMatrix
		return
	}
	if !c.matrixValid {
		syscallN(c.syms.GetTransformMatrix.Addr, c.this(),
			uintptr(unsafe.Pointer(&c.matrix[0])))
		c.matrixValid = true
	}
	*out = c.matrix
}

// Timestamp 生产者打在当前缓冲上的纳秒时间戳
func (c *GLConsumer) Timestamp() int64 {
	if c.storage == nil {
		return 0
	}
	r1, _, _ := syscallN(c.syms.GetTimestamp.Addr, c.this())
	return int64(r1)
}

// SetFrameAvailableCallback 注册帧到达通知。
// 回调在平台内部线程触发, 必须非阻塞且可重入;
// 符号缺失时返回 false, 调用方应退化为轮询。
func (c *GLConsumer) SetFrameAvailableCallback(fn func()) bool {
	if c.storage == nil || fn == nil {
		return false
	}
	if !c.syms.SetFrameAvailableListener.Valid() {
		return false
	}
	c.cb = fn
	// purego 的回调跳板是进程级稀缺资源且无法释放,
	// 重复注册只换 cb, 不再生成新跳板
	if c.listener != nil {
		return true
	}
	onFrame := purego.NewCallback(func(this, item uintptr) uintptr {
		// 平台内部锁可能不容许重入, 这里只转发到轻量回调
		c.cb()
		return 0
	})
	noop := purego.NewCallback(func(this uintptr) uintptr { return 0 })
	c.listener = &frameListener{vtable: &[3]uintptr{noop, noop, onFrame}}
	c.wp[0] = uintptr(unsafe.Pointer(c.listener))
	c.wp[1] = 0
	syscallN(c.syms.SetFrameAvailableListener.Addr, c.this(),
		uintptr(unsafe.Pointer(&c.wp[0])))
	return true
}

// AttachToContext 把纹理绑定迁移到当前 EGL 上下文。
// 不允许在持有未释放帧时调用。
func (c *GLConsumer) AttachToContext(texID uint32) bool {
	if c.storage == nil {
		return false
	}
	r1, _, _ := syscallN(c.syms.AttachToContext.Addr, c.this(), uintptr(texID))
	if status := int32(r1); status != 0 {
		log.Error().Int32("status", status).Msg("attachToContext 失败")
		return false
	}
	c.texID = texID
	return true
}

// DetachFromContext 解除与当前 EGL 上下文的绑定
func (c *GLConsumer) DetachFromContext() bool {
	if c.storage == nil {
		return false
	}
	r1, _, _ := syscallN(c.syms.DetachFromContext.Addr, c.this())
	if status := int32(r1); status != 0 {
		log.Error().Int32("status", status).Msg("detachFromContext 失败")
		return false
	}
	return true
}

// Destroy 调用平台析构并废弃存储, 可重复调用
func (c *GLConsumer) Destroy() {
	if c.storage == nil {
		return
	}
	syscallN(c.syms.Dtor.Addr, c.this())
	c.storage = nil
	c.listener = nil
}
