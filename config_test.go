package screenpipe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.Width != 720 || cfg.Capture.Height != 1280 {
		t.Fatalf("缺省采集尺寸错误: %dx%d", cfg.Capture.Width, cfg.Capture.Height)
	}
	if cfg.Telemetry.Port != 33212 {
		t.Fatalf("缺省遥测端口错误: %d", cfg.Telemetry.Port)
	}
	if cfg.Recognizer.OnnxRuntimeLibPath == "" {
		t.Fatal("缺省推理库路径不应为空")
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
capture:
  width: 1080
  height: 2400
recognizer:
  model_path: /data/rec.onnx
  accelerator: npu
telemetry:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.Width != 1080 || cfg.Capture.Height != 2400 {
		t.Fatalf("采集尺寸未覆盖: %dx%d", cfg.Capture.Width, cfg.Capture.Height)
	}
	if cfg.Recognizer.ModelPath != "/data/rec.onnx" {
		t.Fatalf("模型路径未覆盖: %s", cfg.Recognizer.ModelPath)
	}
	if cfg.Recognizer.Accelerator != "npu" {
		t.Fatalf("加速器未覆盖: %s", cfg.Recognizer.Accelerator)
	}
	// 未出现的字段保持缺省值
	if cfg.Recognizer.DictPath != "./models/dict.txt" {
		t.Fatalf("字符集路径不应被清空: %s", cfg.Recognizer.DictPath)
	}
	if cfg.Telemetry.Enabled {
		t.Fatal("遥测开关未覆盖")
	}
	if cfg.Telemetry.Port != 33212 {
		t.Fatalf("遥测端口不应被清空: %d", cfg.Telemetry.Port)
	}
}

func TestLoadConfigRejectsZeroCaptureSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  width: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("零尺寸应报错")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/no/such/config.yaml"); err == nil {
		t.Fatal("缺失文件应报错")
	}
}
