package telemetry

import (
	"fmt"
	"image"

	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/draw"
)

// SaveSnapshot 把一帧 RGBA 像素缩放后存成图片文件, 用于离线排查。
// maxDim 限制长边尺寸, 0 表示不缩放。只在调试路径调用, 不考虑分配开销。
func SaveSnapshot(path string, pix []byte, width, height, stride int, maxDim int) error {
	if width <= 0 || height <= 0 || stride < width*4 {
		return fmt.Errorf("帧尺寸非法: %dx%d stride=%d", width, height, stride)
	}
	if len(pix) < stride*height {
		return fmt.Errorf("帧数据不足: 需要 %d 字节, 实际 %d", stride*height, len(pix))
	}

	src := &image.RGBA{
		Pix:    pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, width, height),
	}

	var out image.Image = src
	if maxDim > 0 && (width > maxDim || height > maxDim) {
		dstW, dstH := width, height
		if dstW >= dstH {
			dstH = dstH * maxDim / dstW
			dstW = maxDim
		} else {
			dstW = dstW * maxDim / dstH
			dstH = maxDim
		}
		if dstW < 1 {
			dstW = 1
		}
		if dstH < 1 {
			dstH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		out = dst
	}

	return imageutil.Save(path, out, 90)
}
