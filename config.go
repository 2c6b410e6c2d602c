package screenpipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CaptureConfig 采集管线配置
type CaptureConfig struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// RecognizerConfig 文本识别配置
type RecognizerConfig struct {
	ModelPath          string `yaml:"model_path"`
	DictPath           string `yaml:"dict_path"`
	OnnxRuntimeLibPath string `yaml:"onnx_runtime_lib_path"`
	Accelerator        string `yaml:"accelerator"`
}

// TelemetryConfig 调试遥测配置
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	RateHz  int  `yaml:"rate_hz"`
}

// Config 守护进程配置
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// DefaultConfig 缺省配置, 文件中未给出的字段按此取值
func DefaultConfig() Config {
	return Config{
		Capture: CaptureConfig{
			Width:  720,
			Height: 1280,
		},
		Recognizer: RecognizerConfig{
			ModelPath:          "./models/rec.onnx",
			DictPath:           "./models/dict.txt",
			OnnxRuntimeLibPath: DefaultOnnxLibraryPath(),
			Accelerator:        "cpu",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Port:    33212,
			RateHz:  10,
		},
	}
}

// LoadConfig 从 YAML 文件加载配置, path 为空时直接用缺省值
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Capture.Width == 0 || c.Capture.Height == 0 {
		return fmt.Errorf("采集尺寸非法: %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Telemetry.Enabled && (c.Telemetry.Port < 0 || c.Telemetry.Port > 65535) {
		return fmt.Errorf("遥测端口非法: %d", c.Telemetry.Port)
	}
	return nil
}
