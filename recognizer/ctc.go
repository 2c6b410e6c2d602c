package recognizer

import "strings"

// ctcDecode 贪心 CTC 解码。
// 逐时间步取 argmax, 跳过空白符 (类别 0) 与连续重复类别,
// argmax-1 映射进字典 (带越界检查); 置信度为发射字符的
// argmax 概率算术平均, 一个都没发射时为 0。
func ctcDecode(logits []float32, timeSteps, numClasses int, dict []string) (string, float32) {
	if numClasses <= 0 {
		return "", 0
	}
	var sb strings.Builder
	lastIdx := -1
	var confSum float32
	emitted := 0

	for t := 0; t < timeSteps; t++ {
		start := t * numClasses
		end := start + numClasses
		if end > len(logits) {
			break
		}
		maxIdx, maxVal := argmaxRow(logits[start:end])
		if maxIdx != ctcBlankIndex && maxIdx != lastIdx {
			if ci := maxIdx - 1; ci >= 0 && ci < len(dict) {
				sb.WriteString(dict[ci])
				confSum += maxVal
				emitted++
			}
		}
		lastIdx = maxIdx
	}
	if emitted == 0 {
		return "", 0
	}
	return sb.String(), confSum / float32(emitted)
}
