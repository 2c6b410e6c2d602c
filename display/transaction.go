package display

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog/log"

	"github.com/getcharzp/go-screenpipe/internal/abi"
)

// transactionStorageSize 为平台 Transaction 对象预留的不透明存储。
// 实际类型无法在这里声明, 只按"大小与对齐足够"的约定分配,
// 构造与析构一律通过已解析的符号完成, 绝不按字段访问。
const transactionStorageSize = 1024

// 便于测试替换的原始调用入口
var syscallN = purego.SyscallN

// Transaction 包装一次特权显示事务:
// 把生产者 Surface 挂到虚拟显示上并原子提交投影。
type Transaction struct {
	syms        *abi.TransactionSymbols
	storage     []byte
	initialized bool
}

// NewTransaction 使用进程级能力表创建事务
func NewTransaction() (*Transaction, error) {
	syms, err := abi.DefaultTransactionSymbols()
	if err != nil {
		return nil, fmt.Errorf("显示事务符号未就绪: %w", err)
	}
	return NewTransactionWith(syms)
}

// NewTransactionWith 使用注入的能力表创建事务 (测试用)
func NewTransactionWith(syms *abi.TransactionSymbols) (*Transaction, error) {
	if !syms.IsLoaded() {
		return nil, fmt.Errorf("显示事务能力表不完整, 拒绝使用")
	}
	return &Transaction{syms: syms}, nil
}

// Initialize 分配不透明存储并调用平台构造函数
func (t *Transaction) Initialize() error {
	if t.initialized {
		return nil
	}
	t.storage = make([]byte, transactionStorageSize)
	if _, _, errno := syscallN(t.syms.Ctor.Addr, t.this()); errno != 0 {
		t.storage = nil
		return fmt.Errorf("构造显示事务对象失败, errno=%d", errno)
	}
	t.initialized = true
	return nil
}

func (t *Transaction) this() uintptr {
	return uintptr(unsafe.Pointer(&t.storage[0]))
}

// SetDisplaySurface 把生产者端点挂到虚拟显示上。
// 符号缺失时返回 false (非致命); 无效 token 直接拒绝。
func (t *Transaction) SetDisplaySurface(token Token, producer uintptr) bool {
	if !t.initialized || !token.IsValid() {
		return false
	}
	if !t.syms.SetDisplaySurface.Valid() {
		log.Warn().Msg("setDisplaySurface 不可用, 跳过显示表面绑定")
		return false
	}
	// 平台按 sp<> 智能句柄的形状收参: 单指针字段, 按引用传递
	spToken := uintptr(token)
	spProducer := producer
	syscallN(t.syms.SetDisplaySurface.Addr, t.this(),
		uintptr(unsafe.Pointer(&spToken)),
		uintptr(unsafe.Pointer(&spProducer)))
	return true
}

// SetDisplayProjection 设置源 / 目标矩形和旋转。
// 旋转的编码 (整型或枚举) 在符号解析期已判定, 这里不再分支猜测。
func (t *Transaction) SetDisplayProjection(token Token, p Projection) bool {
	if !t.initialized || !token.IsValid() {
		return false
	}
	if !p.Valid() {
		log.Error().Msg("投影参数非法, 矩形必须为正尺寸")
		return false
	}
	if !t.syms.SetDisplayProjection.Valid() {
		log.Warn().Msg("setDisplayProjection 不可用, 跳过投影配置")
		return false
	}
	spToken := uintptr(token)
	src, dst := p.Src, p.Dst
	// 两个变体的旋转参数底层都是 32 位整型且档位取值一致,
	// RotationAsEnum 只影响语义标注, 不影响编码
	rotation := uintptr(p.Rotation)
	syscallN(t.syms.SetDisplayProjection.Addr, t.this(),
		uintptr(unsafe.Pointer(&spToken)),
		rotation,
		uintptr(unsafe.Pointer(&src)),
		uintptr(unsafe.Pointer(&dst)))
	return true
}

// Apply 提交事务 (非同步变体), 平台返回非零状态视为失败
func (t *Transaction) Apply() bool {
	if !t.initialized {
		return false
	}
	r1, _, _ := syscallN(t.syms.Apply.Addr, t.this(), 0, 0)
	if status := int32(r1); status != 0 {
		log.Error().Int32("status", status).Msg("显示事务提交失败")
		return false
	}
	return true
}

// ConfigureDisplay 组合 surface 绑定 + 投影 + 提交。
// surface 可为 0 (仅配置投影); 可选步骤失败只记日志不中断。
func (t *Transaction) ConfigureDisplay(token Token, producer uintptr, srcW, srcH, dstW, dstH int32) bool {
	if !t.initialized {
		log.Error().Msg("事务未初始化, 无法配置显示")
		return false
	}
	if !token.IsValid() {
		log.Error().Msg("显示句柄无效")
		return false
	}
	if producer != 0 {
		if !t.SetDisplaySurface(token, producer) {
			log.Warn().Msg("显示表面绑定未生效")
		}
	}
	ok := t.SetDisplayProjection(token, Projection{
		Src:      Rect{Right: srcW, Bottom: srcH},
		Dst:      Rect{Right: dstW, Bottom: dstH},
		Rotation: Rotation0,
	})
	if !ok {
		log.Warn().Msg("投影配置未生效")
	}
	return t.Apply()
}

// Destroy 调用平台析构并释放存储, 可重复调用
func (t *Transaction) Destroy() {
	if !t.initialized {
		return
	}
	syscallN(t.syms.Dtor.Addr, t.this())
	t.storage = nil
	t.initialized = false
}
