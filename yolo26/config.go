package yolo26

import (
	"github.com/getcharzp/sam2-td"
	"image"
)

// Config 引擎的初始化参数
type Config struct {
	ModelPath          string // ONNX 模型路径
	OnnxRuntimeLibPath string // ONNX Runtime 动态库路径

	// 推理参数
	ConfThreshold float32 // 置信度阈值 (默认 0.45)
	MaskThreshold float32 // Mask 二值化阈值 (默认 0.5)
	MaxResults    int     // 最多返回的实例数, 0 表示不限制

	// 模型参数
	InputSize     int // 默认 640
	NumClasses    int // 默认 80
	NumMaskCoeffs int // 默认 32

	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: vision.DefaultLibraryPath(),
		ConfThreshold:      0.45,
		MaskThreshold:      0.50,
		InputSize:          640,
		NumClasses:         80,
		NumMaskCoeffs:      32,
	}
}

// DefaultSegConfig 分割的默认配置
func DefaultSegConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelPath = "./yolo26_weights/yolo26m-seg.onnx"
	return cfg
}

// imageParams 图片尺寸信息
type imageParams struct {
	origW, origH int
	scale        float32
}

// SegResult 分割结果
type SegResult struct {
	// 分类ID，例如：
	//	0: person
	//  1: bicycle
	//  2: car
	// 详细映射参考：
	//	https://github.com/ultralytics/ultralytics/blob/main/ultralytics/cfg/datasets/coco.yaml
	ClassID int
	Score   float32
	Box     image.Rectangle // 分割出的矩形区域
	Mask    *image.Gray     // 解码后的 Mask
	Area    float32         // Mask 像素占原图的比例
}
