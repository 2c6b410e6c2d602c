package abi

import "sync"

// 系统图形库的候选路径, 先试 soname 兜底再试绝对路径
var (
	libGUIPaths = []string{
		"libgui.so",
		"/system/lib64/libgui.so",
		"/system/lib/libgui.so",
	}
	libGLESPaths = []string{
		"libGLESv2.so",
		"/system/lib64/libGLESv2.so",
		"/system/lib/libGLESv2.so",
	}
)

// createBufferQueue 候选符号, 从新到旧; Android 12 起去掉了 allocator 参数
var createBufferQueueCandidates = []string{
	"_ZN7android11BufferQueue17createBufferQueueEPNS_2spINS_22IGraphicBufferProducerEEEPNS0_INS_22IGraphicBufferConsumerEEE",
	"_ZN7android11BufferQueue17createBufferQueueEPNS_2spINS_22IGraphicBufferProducerEEEPNS0_INS_22IGraphicBufferConsumerEEEb",
}

var surfaceCtorCandidates = []string{
	"_ZN7android7SurfaceC1ERKNS_2spINS_22IGraphicBufferProducerEEEb",
	"_ZN7android7SurfaceC2ERKNS_2spINS_22IGraphicBufferProducerEEEb",
}

var surfaceDtorCandidates = []string{
	"_ZN7android7SurfaceD1Ev",
	"_ZN7android7SurfaceD2Ev",
}

// BufferQueueSymbols BufferQueue 侧能力表。
// 进程内只解析一次, 之后只读, 任意线程可并发读取;
// 必需符号缺一则整表加载失败, 绝不暴露半成品。
type BufferQueueSymbols struct {
	gui  *Resolver
	gles *Resolver

	CreateBufferQueue Symbol
	// HasAllocatorParam 旧版 createBufferQueue 末尾带 allocator 开关
	HasAllocatorParam bool

	SurfaceCtor Symbol
	SurfaceDtor Symbol

	GenTextures    Symbol
	DeleteTextures Symbol
}

// LoadBufferQueueSymbols 解析 BufferQueue 能力表, loader 为 nil 走 dlopen
func LoadBufferQueueSymbols(loader Loader) (*BufferQueueSymbols, error) {
	gui := NewResolver(loader)
	if err := gui.Open(libGUIPaths...); err != nil {
		return nil, err
	}
	gles := NewResolver(loader)
	if err := gles.Open(libGLESPaths...); err != nil {
		gui.Close()
		return nil, err
	}

	t := &BufferQueueSymbols{gui: gui, gles: gles}
	// Android 12 (内核 5.4 起) 去掉了 allocator 参数, 新内核优先试新签名
	bqCandidates := orderCandidates(createBufferQueueCandidates, DetectHost().preferModern(5, 4))
	var err error
	if t.CreateBufferQueue, err = gui.Resolve("createBufferQueue", bqCandidates); err != nil {
		t.Close()
		return nil, err
	}
	t.HasAllocatorParam = t.CreateBufferQueue.Variant == createBufferQueueCandidates[1]
	if t.SurfaceCtor, err = gui.Resolve("Surface::Surface", surfaceCtorCandidates); err != nil {
		t.Close()
		return nil, err
	}
	if t.SurfaceDtor, err = gui.Resolve("Surface::~Surface", surfaceDtorCandidates); err != nil {
		t.Close()
		return nil, err
	}
	if t.GenTextures, err = gles.Resolve("glGenTextures", []string{"glGenTextures"}); err != nil {
		t.Close()
		return nil, err
	}
	if t.DeleteTextures, err = gles.Resolve("glDeleteTextures", []string{"glDeleteTextures"}); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// IsLoaded 必需符号是否全部就位
func (t *BufferQueueSymbols) IsLoaded() bool {
	return t != nil &&
		t.CreateBufferQueue.Valid() &&
		t.SurfaceCtor.Valid() && t.SurfaceDtor.Valid() &&
		t.GenTextures.Valid() && t.DeleteTextures.Valid()
}

// Close 释放库句柄
func (t *BufferQueueSymbols) Close() {
	if t == nil {
		return
	}
	if t.gui != nil {
		t.gui.Close()
	}
	if t.gles != nil {
		t.gles.Close()
	}
}

// GLConsumer 构造参数: (consumer, tex, texTarget, useFenceSync, isControlledByApp)
var glConsumerCtorCandidates = []string{
	"_ZN7android10GLConsumerC1ERKNS_2spINS_22IGraphicBufferConsumerEEEjjbb",
	"_ZN7android10GLConsumerC2ERKNS_2spINS_22IGraphicBufferConsumerEEEjjbb",
	// 更早的版本首参带 EGL 上下文纹理
	"_ZN7android10GLConsumerC1EjRKNS_2spINS_22IGraphicBufferConsumerEEEjbb",
}

var glConsumerDtorCandidates = []string{
	"_ZN7android10GLConsumerD1Ev",
	"_ZN7android10GLConsumerD2Ev",
}

// GLConsumerSymbols GLConsumer 侧能力表, 约束同 BufferQueueSymbols
type GLConsumerSymbols struct {
	gui *Resolver

	Ctor Symbol
	Dtor Symbol

	UpdateTexImage     Symbol
	ReleaseTexImage    Symbol
	GetTransformMatrix Symbol
	GetTimestamp       Symbol
	AttachToContext    Symbol
	DetachFromContext  Symbol

	// SetFrameAvailableListener 可选; 缺失时只能轮询取帧
	SetFrameAvailableListener Symbol
}

// LoadGLConsumerSymbols 解析 GLConsumer 能力表
func LoadGLConsumerSymbols(loader Loader) (*GLConsumerSymbols, error) {
	gui := NewResolver(loader)
	if err := gui.Open(libGUIPaths...); err != nil {
		return nil, err
	}
	t := &GLConsumerSymbols{gui: gui}

	required := []struct {
		dst        *Symbol
		name       string
		candidates []string
	}{
		{&t.Ctor, "GLConsumer::GLConsumer", glConsumerCtorCandidates},
		{&t.Dtor, "GLConsumer::~GLConsumer", glConsumerDtorCandidates},
		{&t.UpdateTexImage, "updateTexImage", []string{"_ZN7android10GLConsumer14updateTexImageEv"}},
		{&t.ReleaseTexImage, "releaseTexImage", []string{"_ZN7android10GLConsumer15releaseTexImageEv"}},
		{&t.GetTransformMatrix, "getTransformMatrix", []string{"_ZN7android10GLConsumer18getTransformMatrixEPf"}},
		{&t.GetTimestamp, "getTimestamp", []string{"_ZN7android10GLConsumer12getTimestampEv"}},
		{&t.AttachToContext, "attachToContext", []string{"_ZN7android10GLConsumer15attachToContextEj"}},
		{&t.DetachFromContext, "detachFromContext", []string{"_ZN7android10GLConsumer17detachFromContextEv"}},
	}
	for _, rq := range required {
		sym, err := gui.Resolve(rq.name, rq.candidates)
		if err != nil {
			gui.Close()
			return nil, err
		}
		*rq.dst = sym
	}
	t.SetFrameAvailableListener = gui.ResolveOptional("setFrameAvailableListener", []string{
		"_ZN7android12ConsumerBase25setFrameAvailableListenerERKNS_2wpINS0_22FrameAvailableListenerEEE",
	})
	return t, nil
}

// IsLoaded 必需符号是否全部就位
func (t *GLConsumerSymbols) IsLoaded() bool {
	return t != nil && t.Ctor.Valid() && t.Dtor.Valid() &&
		t.UpdateTexImage.Valid() && t.ReleaseTexImage.Valid() &&
		t.GetTransformMatrix.Valid() && t.GetTimestamp.Valid() &&
		t.AttachToContext.Valid() && t.DetachFromContext.Valid()
}

// Close 释放库句柄
func (t *GLConsumerSymbols) Close() {
	if t != nil && t.gui != nil {
		t.gui.Close()
	}
}

// TransactionSymbols SurfaceComposerClient::Transaction 能力表。
// apply 为必需; setDisplaySurface / setDisplayProjection 可选,
// 缺失时对应操作退化为带告警的空操作。
type TransactionSymbols struct {
	gui *Resolver

	Ctor  Symbol
	Dtor  Symbol
	Apply Symbol

	SetDisplaySurface    Symbol
	SetDisplayProjection Symbol
	// RotationAsEnum Android 11 起投影旋转参数由整型改为 ui::Rotation 枚举,
	// 在解析期一次性判定, 调用路径不再做版本分支
	RotationAsEnum bool
}

var transactionProjectionCandidates = []string{
	// Android 11+: ui::Rotation
	"_ZN7android21SurfaceComposerClient11Transaction20setDisplayProjectionERKNS_2spINS_7IBinderEEENS_2ui8RotationERKNS_4RectESA_",
	// Android 8 - 10: uint32_t
	"_ZN7android21SurfaceComposerClient11Transaction20setDisplayProjectionERKNS_2spINS_7IBinderEEEjRKNS_4RectESA_",
}

// LoadTransactionSymbols 解析事务能力表
func LoadTransactionSymbols(loader Loader) (*TransactionSymbols, error) {
	gui := NewResolver(loader)
	if err := gui.Open(libGUIPaths...); err != nil {
		return nil, err
	}
	t := &TransactionSymbols{gui: gui}
	var err error
	if t.Ctor, err = gui.Resolve("Transaction::Transaction", []string{
		"_ZN7android21SurfaceComposerClient11TransactionC1Ev",
		"_ZN7android21SurfaceComposerClient11TransactionC2Ev",
	}); err != nil {
		gui.Close()
		return nil, err
	}
	if t.Dtor, err = gui.Resolve("Transaction::~Transaction", []string{
		"_ZN7android21SurfaceComposerClient11TransactionD1Ev",
		"_ZN7android21SurfaceComposerClient11TransactionD2Ev",
	}); err != nil {
		gui.Close()
		return nil, err
	}
	if t.Apply, err = gui.Resolve("Transaction::apply", []string{
		"_ZN7android21SurfaceComposerClient11Transaction5applyEbb",
		"_ZN7android21SurfaceComposerClient11Transaction5applyEb",
	}); err != nil {
		gui.Close()
		return nil, err
	}
	t.SetDisplaySurface = gui.ResolveOptional("setDisplaySurface", []string{
		"_ZN7android21SurfaceComposerClient11Transaction17setDisplaySurfaceERKNS_2spINS_7IBinderEEERKNS1_INS_22IGraphicBufferProducerEEE",
		"_ZN7android21SurfaceComposerClient11Transaction17setDisplaySurfaceERKNS_2spINS_7IBinderEEERKNS1_INS_7SurfaceEEE",
	})
	// Android 11 (内核 4.14 起) 旋转参数改成 ui::Rotation 枚举
	projCandidates := orderCandidates(transactionProjectionCandidates, DetectHost().preferModern(4, 14))
	t.SetDisplayProjection = gui.ResolveOptional("setDisplayProjection", projCandidates)
	t.RotationAsEnum = t.SetDisplayProjection.Variant == transactionProjectionCandidates[0]
	return t, nil
}

// IsLoaded 必需符号是否全部就位
func (t *TransactionSymbols) IsLoaded() bool {
	return t != nil && t.Ctor.Valid() && t.Dtor.Valid() && t.Apply.Valid()
}

// Close 释放库句柄
func (t *TransactionSymbols) Close() {
	if t != nil && t.gui != nil {
		t.gui.Close()
	}
}

// 进程级单例, 懒加载一次后只读
var (
	bufferQueueOnce sync.Once
	bufferQueueTbl  *BufferQueueSymbols
	bufferQueueErr  error

	glConsumerOnce sync.Once
	glConsumerTbl  *GLConsumerSymbols
	glConsumerErr  error

	transactionOnce sync.Once
	transactionTbl  *TransactionSymbols
	transactionErr  error
)

// DefaultBufferQueueSymbols 进程级 BufferQueue 能力表
func DefaultBufferQueueSymbols() (*BufferQueueSymbols, error) {
	bufferQueueOnce.Do(func() {
		bufferQueueTbl, bufferQueueErr = LoadBufferQueueSymbols(nil)
	})
	return bufferQueueTbl, bufferQueueErr
}

// DefaultGLConsumerSymbols 进程级 GLConsumer 能力表
func DefaultGLConsumerSymbols() (*GLConsumerSymbols, error) {
	glConsumerOnce.Do(func() {
		glConsumerTbl, glConsumerErr = LoadGLConsumerSymbols(nil)
	})
	return glConsumerTbl, glConsumerErr
}

// DefaultTransactionSymbols 进程级事务能力表
func DefaultTransactionSymbols() (*TransactionSymbols, error) {
	transactionOnce.Do(func() {
		transactionTbl, transactionErr = LoadTransactionSymbols(nil)
	})
	return transactionTbl, transactionErr
}

// ReleaseDefaults 关闭进程级能力表持有的库句柄, 仅供进程收尾调用
func ReleaseDefaults() {
	if bufferQueueTbl != nil {
		bufferQueueTbl.Close()
	}
	if glConsumerTbl != nil {
		glConsumerTbl.Close()
	}
	if transactionTbl != nil {
		transactionTbl.Close()
	}
}
