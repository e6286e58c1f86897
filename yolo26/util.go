package yolo26

import (
	"image"
	"math"

	"github.com/up-zero/gotool/imageutil"
	ort "github.com/yalue/onnxruntime_go"
)

// preprocess 预处理
func preprocess(img image.Image, inputSize int) (*ort.Tensor[float32], imageParams, error) {
	bounds := img.Bounds()
	params := imageParams{
		origW: bounds.Dx(),
		origH: bounds.Dy(),
	}

	scale := float32(inputSize) / float32(max(params.origW, params.origH))
	params.scale = scale

	newW := int(float32(params.origW) * scale)
	newH := int(float32(params.origH) * scale)

	resized := imageutil.Resize(img, newW, newH)
	data := toCHW(resized, newW, newH, inputSize)

	tensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(inputSize), int64(inputSize)), data)
	return tensor, params, err
}

// toCHW 准备 Tensor 数据 (CHW + Normalize 0-1), 右下补零
func toCHW(img image.Image, w, h, inputSize int) []float32 {
	b := img.Bounds()
	plane := inputSize * inputSize
	data := make([]float32, 3*plane)
	for y := 0; y < min(h, inputSize); y++ {
		for x := 0; x < min(w, inputSize); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()

			idx := y*inputSize + x
			data[idx] = float32(r) / 65535.0          // R
			data[plane+idx] = float32(g) / 65535.0    // G
			data[2*plane+idx] = float32(bl) / 65535.0 // B
		}
	}
	return data
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

// grayArea 前景像素占比
func grayArea(m *image.Gray) float32 {
	if len(m.Pix) == 0 {
		return 0
	}
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return float32(n) / float32(len(m.Pix))
}
