package recognizer

import (
	"math"
	"testing"
)

func TestCtcDecodeCollapse(t *testing.T) {
	dict := []string{"a", "b"}
	// 逐步 argmax: blank, a, a, blank, b → 去重跳空得 "ab"
	logits := []float32{
		0.9, 0.05, 0.05,
		0.1, 0.8, 0.1,
		0.2, 0.7, 0.1,
		0.6, 0.2, 0.2,
		0.1, 0.2, 0.7,
	}
	text, conf := ctcDecode(logits, 5, 3, dict)
	if text != "ab" {
		t.Fatalf("解码结果应为 ab, 得到 %q", text)
	}
	want := float32((0.8 + 0.7) / 2)
	if math.Abs(float64(conf-want)) > 1e-6 {
		t.Fatalf("置信度应为发射字符概率均值 %v, 得到 %v", want, conf)
	}
}

func TestCtcDecodeAllBlank(t *testing.T) {
	logits := []float32{
		0.9, 0.1,
		0.8, 0.2,
	}
	text, conf := ctcDecode(logits, 2, 2, []string{"a"})
	if text != "" || conf != 0 {
		t.Fatalf("全空白应得空结果, 得到 %q / %v", text, conf)
	}
}

func TestCtcDecodeOutOfDictRange(t *testing.T) {
	// argmax 落在字典之外的类别时跳过, 不越界
	logits := []float32{
		0.1, 0.2, 0.7,
	}
	text, conf := ctcDecode(logits, 1, 3, []string{"a"})
	if text != "" || conf != 0 {
		t.Fatalf("越界类别应被跳过, 得到 %q / %v", text, conf)
	}
}

func TestCtcDecodeTruncatedLogits(t *testing.T) {
	// 声称 3 步但数据只够 1 步, 解码止步于数据边界
	logits := []float32{0.1, 0.8}
	text, _ := ctcDecode(logits, 3, 2, []string{"a"})
	if text != "a" {
		t.Fatalf("应只解码完整的时间步, 得到 %q", text)
	}
}

// 宽路径与标量路径必须逐位一致, 含相等值取最小下标的语义
func TestArgmaxWideMatchesScalar(t *testing.T) {
	for n := vectorWidth; n <= 40; n++ {
		row := make([]float32, n)
		seed := uint32(2463534242)
		for i := range row {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			row[i] = float32(seed%1000) / 1000
		}
		// 人为制造跨路相等的最大值
		row[n/2] = 2
		if n > vectorWidth {
			row[n-1] = 2
		}
		wi, wv := argmaxWide(row)
		si, sv := argmaxScalar(row)
		if wi != si || wv != sv {
			t.Fatalf("n=%d: 宽路径 (%d,%v) != 标量 (%d,%v)", n, wi, wv, si, sv)
		}
	}
}

func TestArgmaxRowShortInputFallback(t *testing.T) {
	row := []float32{0.1, 0.9, 0.3}
	idx, val := argmaxRow(row)
	if idx != 1 || val != 0.9 {
		t.Fatalf("短行回退结果不对: (%d,%v)", idx, val)
	}
}
