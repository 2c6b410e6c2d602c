package recognizer

import "math"

// bytesPerPixel 输入帧为 RGBA 布局
const bytesPerPixel = 4

// boxCorners 旋转框四角, 顺序: 左上 右上 右下 左下
func boxCorners(b RotatedRect) [4][2]float32 {
	a := float64(b.Angle) * math.Pi / 180
	c, s := float32(math.Cos(a)), float32(math.Sin(a))
	wx, wy := b.Width/2*c, b.Width/2*s
	hx, hy := -b.Height/2*s, b.Height/2*c
	return [4][2]float32{
		{b.CenterX - wx - hx, b.CenterY - wy - hy},
		{b.CenterX + wx - hx, b.CenterY + wy - hy},
		{b.CenterX + wx + hx, b.CenterY + wy + hy},
		{b.CenterX - wx + hx, b.CenterY - wy + hy},
	}
}

// targetWidthFor 按宽高比计算目标宽度, 限制在 [1, recInputWidth]
func targetWidthFor(w, h float32) int {
	tw := int(math.Round(float64(recInputHeight) * float64(w) / float64(h)))
	if tw < 1 {
		tw = 1
	}
	if tw > recInputWidth {
		tw = recInputWidth
	}
	return tw
}

// cropAndRotate 把旋转框内的图像裁剪重采样进 48x320x3 输入张量。
//
// 竖排框 (高 > 宽) 先换轴并循环移位四角, 统一成横排文字方向;
// 目标到源的映射用四边形的两条边向量构成 (平行四边形近似, 不做单应变换);
// 源坐标落在 [0, width-2] x [0, height-2] 之外的目标像素保持为零 (隐式留边)。
// 返回实际目标宽度, 框尺寸非法时返回 0。
func cropAndRotate(pix []byte, width, height, stride int, box RotatedRect, dst []float32) int {
	for i := range dst {
		dst[i] = 0
	}
	if box.Width <= 0 || box.Height <= 0 || width < 2 || height < 2 {
		return 0
	}

	corners := boxCorners(box)
	w, h := box.Width, box.Height
	if h > w {
		w, h = h, w
		corners = [4][2]float32{corners[1], corners[2], corners[3], corners[0]}
	}
	targetW := targetWidthFor(w, h)

	// 上边与左边两条边向量
	e1x := corners[1][0] - corners[0][0]
	e1y := corners[1][1] - corners[0][1]
	e2x := corners[3][0] - corners[0][0]
	e2y := corners[3][1] - corners[0][1]

	for dy := 0; dy < recInputHeight; dy++ {
		fy := (float32(dy) + 0.5) / recInputHeight
		rowX0 := corners[0][0] + fy*e2x
		rowY0 := corners[0][1] + fy*e2y
		row := dst[dy*recInputWidth*recInputChannels:]
		resampleRow(pix, width, height, stride, rowX0, rowY0, e1x, e1y, targetW, row)
	}
	return targetW
}

// resampleRow 对一行目标像素做双线性重采样,
// 向量路径与标量回退逐位一致, 仅展开方式不同
func resampleRow(pix []byte, width, height, stride int, x0, y0, e1x, e1y float32, targetW int, row []float32) {
	if hasVector && targetW >= 4 {
		resampleRowWide(pix, width, height, stride, x0, y0, e1x, e1y, targetW, row)
		return
	}
	for dx := 0; dx < targetW; dx++ {
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx, targetW, row)
	}
}

// resampleRowWide 4 路展开的重采样路径
func resampleRowWide(pix []byte, width, height, stride int, x0, y0, e1x, e1y float32, targetW int, row []float32) {
	n := targetW / 4 * 4
	for dx := 0; dx < n; dx += 4 {
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx, targetW, row)
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx+1, targetW, row)
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx+2, targetW, row)
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx+3, targetW, row)
	}
	for dx := n; dx < targetW; dx++ {
		samplePixel(pix, width, height, stride, x0, y0, e1x, e1y, dx, targetW, row)
	}
}

// samplePixel 对单个目标像素做 4 纹素双线性采样并归一化写入
func samplePixel(pix []byte, width, height, stride int, x0, y0, e1x, e1y float32, dx, targetW int, row []float32) {
	fx := (float32(dx) + 0.5) / float32(targetW)
	sx := x0 + fx*e1x
	sy := y0 + fx*e1y
	if sx < 0 || sy < 0 {
		return
	}
	ix, iy := int(sx), int(sy)
	if ix > width-2 || iy > height-2 {
		return
	}
	ax := sx - float32(ix)
	ay := sy - float32(iy)

	base00 := iy*stride + ix*bytesPerPixel
	base10 := base00 + bytesPerPixel
	base01 := base00 + stride
	base11 := base01 + bytesPerPixel

	w00 := (1 - ax) * (1 - ay)
	w10 := ax * (1 - ay)
	w01 := (1 - ax) * ay
	w11 := ax * ay

	out := row[dx*recInputChannels:]
	for ch := 0; ch < recInputChannels; ch++ {
		v := float32(pix[base00+ch])*w00 +
			float32(pix[base10+ch])*w10 +
			float32(pix[base01+ch])*w01 +
			float32(pix[base11+ch])*w11
		out[ch] = (v - 127.5) / 127.5
	}
}
