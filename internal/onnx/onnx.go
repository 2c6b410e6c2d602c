// Package onnx 封装 onnxruntime 引擎与会话选项的创建
package onnx

import (
	"fmt"

	ort "github.com/getcharzp/onnxruntime_purego"
)

// Config onnxruntime 引擎配置
type Config struct {
	ModelPath          string
	DictPath           string
	OnnxRuntimeLibPath string

	OnnxEngine     *ort.Engine
	SessionOptions *ort.SessionOptions
}

// New 初始化 onnxruntime 引擎
func (c *Config) New() error {
	if c.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("未指定 onnxruntime 动态库路径")
	}
	engine, err := ort.NewEngine(c.OnnxRuntimeLibPath)
	if err != nil {
		return fmt.Errorf("初始化 onnxruntime 失败: %w", err)
	}
	c.OnnxEngine = engine

	opts, err := engine.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建会话选项失败: %w", err)
	}
	c.SessionOptions = opts
	return nil
}
