package screenpipe

import (
	"fmt"
	"runtime"
)

// Version 构建版本号, 由链接器注入
var Version = "dev"

// DefaultOnnxLibraryPath 根据运行时环境判断加载哪个推理库文件
func DefaultOnnxLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux", "android":
		ext = "so"
	default:
		return baseDir + libName + "_arm64.so" // 默认按设备端 arm64 处理
	}

	// 拼接完整路径: ./lib/onnxruntime + _ + amd64/arm64 + . + so/dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
