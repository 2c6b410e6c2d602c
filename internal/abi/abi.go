// Package abi 在运行期解析系统图形库中的私有符号。
//
// Android 各版本对 BufferQueue / GLConsumer / SurfaceComposerClient 的
// C++ 符号修饰并不一致, 这里给每个逻辑能力维护一个按优先级排序的
// 候选符号名列表, 解析时取第一个命中的变体。
package abi

import (
	"fmt"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog/log"
)

// Loader 动态库加载接口, 生产环境走 dlopen/dlsym, 测试注入假实现
type Loader interface {
	Open(path string) (uintptr, error)
	Lookup(handle uintptr, name string) (uintptr, error)
	Close(handle uintptr) error
}

type dlLoader struct{}

func (dlLoader) Open(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func (dlLoader) Lookup(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func (dlLoader) Close(handle uintptr) error {
	return purego.Dlclose(handle)
}

// Symbol 已解析的符号, Variant 记录实际命中的候选名, 便于排查版本差异
type Symbol struct {
	Addr    uintptr
	Variant string
}

// Valid 符号是否已解析
func (s Symbol) Valid() bool { return s.Addr != 0 }

// Resolver 持有一个已打开的动态库句柄, 解析完成后只读共享
type Resolver struct {
	loader Loader
	handle uintptr
	path   string
}

// NewResolver 创建解析器, loader 为 nil 时使用 dlopen
func NewResolver(loader Loader) *Resolver {
	if loader == nil {
		loader = dlLoader{}
	}
	return &Resolver{loader: loader}
}

// Open 依次尝试候选路径, 打开第一个成功的库
func (r *Resolver) Open(paths ...string) error {
	if r.handle != 0 {
		return nil
	}
	var lastErr error
	for _, p := range paths {
		handle, err := r.loader.Open(p)
		if err == nil && handle != 0 {
			r.handle = handle
			r.path = p
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("打开动态库失败 %v: %w", paths, lastErr)
}

// Path 实际打开的库路径
func (r *Resolver) Path() string { return r.path }

// Resolve 按顺序尝试候选符号名, 返回第一个命中的; 全部落空视为错误
func (r *Resolver) Resolve(name string, candidates []string) (Symbol, error) {
	if r.handle == 0 {
		return Symbol{}, fmt.Errorf("库未打开, 无法解析 %s", name)
	}
	for i, c := range candidates {
		addr, err := r.loader.Lookup(r.handle, c)
		if err == nil && addr != 0 {
			if i > 0 {
				log.Debug().Str("capability", name).Str("variant", c).
					Str("lib", r.path).Msg("符号命中备选变体")
			}
			return Symbol{Addr: addr, Variant: c}, nil
		}
	}
	return Symbol{}, fmt.Errorf("符号解析失败 %s (候选 %d 个, 库 %s)", name, len(candidates), r.path)
}

// ResolveOptional 可选符号, 缺失时记录告警并返回零值, 不视为错误
func (r *Resolver) ResolveOptional(name string, candidates []string) Symbol {
	sym, err := r.Resolve(name, candidates)
	if err != nil {
		log.Warn().Str("capability", name).Str("lib", r.path).
			Msg("可选符号缺失, 对应功能将被跳过")
		return Symbol{}
	}
	return sym
}

// Close 关闭库句柄, 只应在进程收尾阶段调用
func (r *Resolver) Close() error {
	if r.handle == 0 {
		return nil
	}
	err := r.loader.Close(r.handle)
	r.handle = 0
	return err
}
