package sam2

import (
	"image"
)

// resizeParams 长边缩放到 inputSize 后的比例与尺寸
func resizeParams(origW, origH int) (float32, int, int) {
	scale := float32(inputSize) / float32(max(origW, origH))
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)
	return scale, newW, newH
}

// encodePrompt 坐标缩放到模型输入尺度, 并展开标签
func encodePrompt(points []Point, scale float32) ([]float32, []int64) {
	coords := make([]float32, 0, len(points)*2)
	labels := make([]int64, 0, len(points))
	for _, pt := range points {
		coords = append(coords, pt.X*scale, pt.Y*scale)
		labels = append(labels, int64(pt.Label))
	}
	return coords, labels
}

// selectMask 选择输出的 mask 下标, 无输出时返回 -1
func selectMask(scores []float32, multimask bool) int {
	if len(scores) == 0 {
		return -1
	}
	if !multimask {
		return 0
	}
	bestIdx := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[bestIdx] {
			bestIdx = i
		}
	}
	return bestIdx
}

// normalizeAndPad 归一化和填充
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	bounds := src.Bounds()
	w, h := min(bounds.Dx(), targetW), min(bounds.Dy(), targetH)
	data := make([]float32, 3*targetW*targetH)
	plane := targetW * targetH

	rgba, fast := src.(*image.RGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var rf, gf, bf float32
			if fast {
				off := rgba.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				rf = float32(rgba.Pix[off]) / 255.0
				gf = float32(rgba.Pix[off+1]) / 255.0
				bf = float32(rgba.Pix[off+2]) / 255.0
			} else {
				r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				rf = float32(r) / 65535.0
				gf = float32(g) / 65535.0
				bf = float32(b) / 65535.0
			}

			// 目标索引 (CHW)
			idx := y*targetW + x
			data[idx] = (rf - MeanR) / StdR
			data[plane+idx] = (gf - MeanG) / StdG
			data[2*plane+idx] = (bf - MeanB) / StdB
		}
	}
	return data
}

// upscaleMaskLogits 原图尺寸的预测结果
func upscaleMaskLogits(logits []float32, logitsDim, validW, validH, dstW, dstH int) []uint8 {
	output := make([]uint8, dstW*dstH)
	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)

	for y := 0; y < dstH; y++ {
		srcY := min(int(float32(y)*yRatio), validH-1)
		for x := 0; x < dstW; x++ {
			srcX := min(int(float32(x)*xRatio), validW-1)
			if logits[srcY*logitsDim+srcX] > maskThreshold {
				output[y*dstW+x] = 255
			}
		}
	}
	return output
}

// maskArea 前景像素占比
func maskArea(mask []uint8) float32 {
	if len(mask) == 0 {
		return 0
	}
	n := 0
	for _, v := range mask {
		if v != 0 {
			n++
		}
	}
	return float32(n) / float32(len(mask))
}
