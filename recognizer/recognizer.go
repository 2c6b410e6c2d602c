// Package recognizer 实现定长输入的 CTC 文本识别:
// 旋转框透视裁剪 + 重采样 → 推理 → 贪心 CTC 解码。
package recognizer

import (
	"fmt"
	"time"

	ort "github.com/getcharzp/onnxruntime_purego"
	"github.com/rs/zerolog/log"
	"github.com/up-zero/gotool/convertutil"

	"github.com/getcharzp/go-screenpipe/internal/onnx"
	"github.com/getcharzp/go-screenpipe/internal/util"
)

const (
	recInputHeight   = 48
	recInputWidth    = 320
	recInputChannels = 3

	// ctcBlankIndex 类别 0 保留给 CTC 空白符, 字典第 i 行对应类别 i+1
	ctcBlankIndex = 0

	// downsampleRatio 模型时间步数与输入宽度之比的兜底值
	downsampleRatio = 8
)

// Accelerator 推理加速器类型
type Accelerator string

const (
	AcceleratorCPU Accelerator = "cpu"
	AcceleratorGPU Accelerator = "gpu"
	AcceleratorNPU Accelerator = "npu"
)

// Config 识别器配置
type Config struct {
	ModelPath          string
	DictPath           string
	OnnxRuntimeLibPath string
	Accelerator        Accelerator

	// InputName / OutputName 模型输入输出节点名, 留空用 Paddle 识别模型的默认值
	InputName  string
	OutputName string
}

// RotatedRect 旋转框: 中心 + 宽高 + 角度 (度), 由上游检测器按调用给出
type RotatedRect struct {
	CenterX float32
	CenterY float32
	Width   float32
	Height  float32
	Angle   float32
}

// Result 一次识别的结果, 置信度为逐字符最大概率的算术平均
type Result struct {
	Text       string
	Confidence float32
	ElapsedMS  float64
}

// runner 推理后端的最小接口, 测试注入假实现
type runner interface {
	Run(input []float32, shape []int64) ([]float32, error)
	Destroy()
}

type ortRunner struct {
	session    *ort.Session
	inputName  string
	outputName string
}

func (r *ortRunner) Run(input []float32, shape []int64) ([]float32, error) {
	tensor, err := ort.NewTensor(shape, input)
	if err != nil {
		return nil, fmt.Errorf("写入输入张量失败: %w", err)
	}
	defer tensor.Destroy()

	outputs, err := r.session.Run(map[string]*ort.Value{r.inputName: tensor})
	if err != nil {
		return nil, fmt.Errorf("识别推理失败: %w", err)
	}
	outputValue, ok := outputs[r.outputName]
	if !ok {
		return nil, fmt.Errorf("模型缺少输出节点 %s", r.outputName)
	}
	defer outputValue.Destroy()

	data, err := ort.GetTensorData[float32](outputValue)
	if err != nil {
		return nil, fmt.Errorf("读取输出张量失败: %w", err)
	}
	return data, nil
}

func (r *ortRunner) Destroy() {
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
}

// Recognizer 文本识别器。初始化成功后只读复用,
// 热路径上不做堆分配; 与取帧管线约定在同一线程上调用。
type Recognizer struct {
	run  runner
	dict []string

	timeSteps  int
	numClasses int
	inputBuf   []float32

	delegate Accelerator

	// 量化模型的反量化参数, 浮点模型为 1 / 0; 解码路径按浮点 logits 处理
	inputScale     float32
	inputZeroPoint int
}

// NewRecognizer 加载字典并创建推理会话。
// 构造失败返回 nil, 调用方应按"识别不可用"处理, 不做内部重试。
func NewRecognizer(cfg Config) (*Recognizer, error) {
	dict, err := util.LoadDict(cfg.DictPath)
	if err != nil {
		return nil, fmt.Errorf("加载字符集失败: %w", err)
	}
	if len(dict) == 0 {
		return nil, fmt.Errorf("字符集为空: %s", cfg.DictPath)
	}

	oc := new(onnx.Config)
	_ = convertutil.CopyProperties(cfg, oc)
	if err := oc.New(); err != nil {
		return nil, err
	}

	delegate := cfg.Accelerator
	if delegate == "" {
		delegate = AcceleratorCPU
	}
	if delegate != AcceleratorCPU {
		// 当前运行时只暴露默认执行器; 只尝试请求的这一种, 不做内部降级链
		log.Warn().Str("accelerator", string(delegate)).
			Msg("请求的加速器不可用, 按默认执行器继续")
		delegate = AcceleratorCPU
	}

	session, err := oc.OnnxEngine.NewSession(cfg.ModelPath, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建识别会话失败: %w", err)
	}

	inputName := cfg.InputName
	if inputName == "" {
		inputName = "x"
	}
	outputName := cfg.OutputName
	if outputName == "" {
		outputName = "softmax_0.tmp_0"
	}

	r := &Recognizer{
		run:        &ortRunner{session: session, inputName: inputName, outputName: outputName},
		dict:       dict,
		timeSteps:  recInputWidth / downsampleRatio,
		numClasses: len(dict) + 1,
		inputBuf:   make([]float32, recInputHeight*recInputWidth*recInputChannels),
		delegate:   delegate,
		inputScale: 1,
	}
	log.Info().Int("dict", len(dict)).Int("time_steps", r.timeSteps).
		Int("num_classes", r.numClasses).Str("delegate", string(delegate)).
		Msg("识别器就绪")
	return r, nil
}

// ActiveDelegate 实际生效的加速器
func (r *Recognizer) ActiveDelegate() Accelerator { return r.delegate }

// Recognize 识别旋转框内的文字。
// pix 为 RGBA 帧数据, stride 为行字节数。
// 任一阶段失败都退化为空结果 (空串 / 零置信度 / 零耗时), 只记日志不上抛。
func (r *Recognizer) Recognize(pix []byte, width, height, stride int, box RotatedRect) Result {
	if r == nil || r.run == nil {
		return Result{}
	}
	start := time.Now()

	if cropAndRotate(pix, width, height, stride, box, r.inputBuf) == 0 {
		log.Error().Msg("旋转框裁剪失败, 框尺寸非法")
		return Result{}
	}

	output, err := r.run.Run(r.inputBuf, []int64{1, recInputHeight, recInputWidth, recInputChannels})
	if err != nil {
		log.Error().Err(err).Msg("识别失败")
		return Result{}
	}

	// 输出形状可整除时以实际张量为准, 退化形状才用 宽度/8 的兜底
	steps := r.timeSteps
	if n := len(output); n > 0 && n%r.numClasses == 0 {
		steps = n / r.numClasses
	}
	text, confidence := ctcDecode(output, steps, r.numClasses, r.dict)

	return Result{
		Text:       text,
		Confidence: confidence,
		ElapsedMS:  float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

// Destroy 释放推理会话
func (r *Recognizer) Destroy() {
	if r != nil && r.run != nil {
		r.run.Destroy()
		r.run = nil
	}
}
