package recognizer

import (
	"fmt"
	"math"
	"testing"
)

type fakeRunner struct {
	output    []float32
	err       error
	runs      int
	destroyed int
	lastShape []int64
}

func (f *fakeRunner) Run(input []float32, shape []int64) ([]float32, error) {
	f.runs++
	f.lastShape = shape
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func (f *fakeRunner) Destroy() { f.destroyed++ }

func newTestRecognizer(run runner, dict []string) *Recognizer {
	return &Recognizer{
		run:        run,
		dict:       dict,
		timeSteps:  recInputWidth / downsampleRatio,
		numClasses: len(dict) + 1,
		inputBuf:   make([]float32, recInputHeight*recInputWidth*recInputChannels),
		delegate:   AcceleratorCPU,
		inputScale: 1,
	}
}

func TestRecognizeDecodesRunnerOutput(t *testing.T) {
	// 5 个时间步 x 3 类 (空白/a/b), 贪心路径为 空白 a a 空白 b → "ab"
	run := &fakeRunner{output: []float32{
		0.9, 0.05, 0.05,
		0.1, 0.8, 0.1,
		0.2, 0.7, 0.1,
		0.6, 0.2, 0.2,
		0.1, 0.2, 0.7,
	}}
	r := newTestRecognizer(run, []string{"a", "b"})
	pix, stride := gradientImage(64, 64)

	got := r.Recognize(pix, 64, 64, stride,
		RotatedRect{CenterX: 32, CenterY: 32, Width: 40, Height: 20})
	if got.Text != "ab" {
		t.Fatalf("识别结果应为 ab, 得到 %q", got.Text)
	}
	if math.Abs(float64(got.Confidence)-0.75) > 1e-6 {
		t.Fatalf("置信度应为 0.75, 得到 %v", got.Confidence)
	}
	if got.ElapsedMS < 0 {
		t.Fatalf("耗时不应为负: %v", got.ElapsedMS)
	}
	want := []int64{1, recInputHeight, recInputWidth, recInputChannels}
	if len(run.lastShape) != len(want) {
		t.Fatalf("输入形状维数错误: %v", run.lastShape)
	}
	for i, d := range want {
		if run.lastShape[i] != d {
			t.Fatalf("输入形状应为 %v, 得到 %v", want, run.lastShape)
		}
	}
}

func TestRecognizeRunnerFailure(t *testing.T) {
	run := &fakeRunner{err: fmt.Errorf("会话已关闭")}
	r := newTestRecognizer(run, []string{"a"})
	pix, stride := gradientImage(32, 32)

	got := r.Recognize(pix, 32, 32, stride,
		RotatedRect{CenterX: 16, CenterY: 16, Width: 20, Height: 10})
	if got.Text != "" || got.Confidence != 0 || got.ElapsedMS != 0 {
		t.Fatalf("推理失败应返回空结果, 得到 %+v", got)
	}
}

func TestRecognizeInvalidBoxSkipsInference(t *testing.T) {
	run := &fakeRunner{}
	r := newTestRecognizer(run, []string{"a"})
	pix, stride := gradientImage(32, 32)

	got := r.Recognize(pix, 32, 32, stride, RotatedRect{Width: 0, Height: 10})
	if got.Text != "" {
		t.Fatalf("非法框应返回空结果, 得到 %+v", got)
	}
	if run.runs != 0 {
		t.Fatal("非法框不应触发推理")
	}
}

func TestRecognizerDestroyIdempotent(t *testing.T) {
	run := &fakeRunner{}
	r := newTestRecognizer(run, []string{"a"})
	r.Destroy()
	r.Destroy()
	if run.destroyed != 1 {
		t.Fatalf("Destroy 应只释放一次, 实际 %d 次", run.destroyed)
	}
	if got := r.Recognize(nil, 0, 0, 0, RotatedRect{Width: 10, Height: 10}); got.Text != "" {
		t.Fatalf("销毁后识别应返回空结果, 得到 %+v", got)
	}
}
