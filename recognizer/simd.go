package recognizer

import "golang.org/x/sys/cpu"

// vectorWidth 宽路径的展开宽度, 与平台向量寄存器的 float32 通道数对齐
const vectorWidth = 8

// hasVector 运行期特征检测: amd64 看 AVX2, arm64 看 ASIMD。
// 短输入一律走标量回退, 两条路径的结果逐位一致。
var hasVector = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// argmaxRow 行内最大值检索, 返回下标与值 (相等取最小下标)
func argmaxRow(row []float32) (int, float32) {
	if len(row) == 0 {
		return 0, 0
	}
	if hasVector && len(row) >= vectorWidth {
		return argmaxWide(row)
	}
	return argmaxScalar(row)
}

func argmaxScalar(row []float32) (int, float32) {
	maxIdx, maxVal := 0, row[0]
	for i := 1; i < len(row); i++ {
		if row[i] > maxVal {
			maxVal, maxIdx = row[i], i
		}
	}
	return maxIdx, maxVal
}

// argmaxWide 8 路并行检索。每路各自维护本路内最早的最大值,
// 归并时值相等取更小下标, 与标量路径的"首个最大值"语义严格一致。
func argmaxWide(row []float32) (int, float32) {
	var vals [vectorWidth]float32
	var idxs [vectorWidth]int
	for l := 0; l < vectorWidth; l++ {
		vals[l] = row[l]
		idxs[l] = l
	}
	n := len(row) / vectorWidth * vectorWidth
	for i := vectorWidth; i < n; i += vectorWidth {
		for l := 0; l < vectorWidth; l++ {
			if v := row[i+l]; v > vals[l] {
				vals[l] = v
				idxs[l] = i + l
			}
		}
	}
	maxIdx, maxVal := idxs[0], vals[0]
	for l := 1; l < vectorWidth; l++ {
		if vals[l] > maxVal || (vals[l] == maxVal && idxs[l] < maxIdx) {
			maxVal, maxIdx = vals[l], idxs[l]
		}
	}
	for i := n; i < len(row); i++ {
		if row[i] > maxVal {
			maxVal, maxIdx = row[i], i
		}
	}
	return maxIdx, maxVal
}
