package yolo26

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/getcharzp/sam2-td"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
)

// SegEngine YOLO26-seg Engine
type SegEngine struct {
	onnx    *vision.OnnxConfig
	session *ort.DynamicAdvancedSession
	config  Config
}

// NewSegEngine 初始化分割引擎
func NewSegEngine(cfg Config) (*SegEngine, error) {
	if err := vision.CheckFiles(cfg.ModelPath); err != nil {
		return nil, err
	}
	oc := new(vision.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := oc.New(); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"images"}, []string{"output0", "output1"}, oc.SessionOptions)
	if err != nil {
		oc.Destroy()
		return nil, fmt.Errorf("创建 ONNX 会话失败: %w", err)
	}

	return &SegEngine{
		onnx:    oc,
		session: session,
		config:  cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *SegEngine) Destroy() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.onnx.Destroy()
}

// Predict 执行分割推理
func (e *SegEngine) Predict(img image.Image) ([]SegResult, error) {
	// 预处理
	inputTensor, params, err := preprocess(img, e.config.InputSize)
	if err != nil {
		return nil, fmt.Errorf("预处理失败: %w", err)
	}
	defer inputTensor.Destroy()

	// 推理
	outputs := make([]ort.Value, 2)
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("推理失败: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	// output0: Detections [1,300,38]
	// output1: Mask Protos [1, 32, 160, 160]
	out0, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output0 类型异常: %T", outputs[0])
	}
	out1, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output1 类型异常: %T", outputs[1])
	}
	shape1 := out1.GetShape()
	if len(shape1) != 4 {
		return nil, fmt.Errorf("Mask Protos 形状异常: %v", shape1)
	}

	dets := e.parseDetections(out0.GetData(), params)
	protos := out1.GetData()
	protoC, protoH, protoW := int(shape1[1]), int(shape1[2]), int(shape1[3])

	results := make([]SegResult, 0, len(dets))
	for _, d := range dets {
		mask := e.decodeMask(d.box, d.coeffs, protos, protoC, protoH, protoW, params)
		results = append(results, SegResult{
			ClassID: d.classID,
			Score:   d.score,
			Box:     d.box,
			Mask:    mask,
			Area:    grayArea(mask),
		})
	}
	return results, nil
}

// detection 单个检测框
type detection struct {
	box     image.Rectangle
	score   float32
	classID int
	coeffs  []float32
}

// parseDetections 解析检测输出, 按置信度降序
//
// 每行布局: [x1, y1, x2, y2, score, class, mask_coeffs...]
func (e *SegEngine) parseDetections(data []float32, params imageParams) []detection {
	const indexMask = 6
	dim := indexMask + e.config.NumMaskCoeffs

	var dets []detection
	for offset := 0; offset+dim <= len(data); offset += dim {
		score := data[offset+4]
		if score < e.config.ConfThreshold {
			continue
		}

		// 映射回原图
		origX1 := max(0, int(data[offset+0]/params.scale))
		origY1 := max(0, int(data[offset+1]/params.scale))
		origX2 := min(params.origW, int(data[offset+2]/params.scale))
		origY2 := min(params.origH, int(data[offset+3]/params.scale))

		dets = append(dets, detection{
			box:     image.Rect(origX1, origY1, origX2, origY2),
			score:   score,
			classID: int(data[offset+5]),
			coeffs:  data[offset+indexMask : offset+dim],
		})
	}

	sort.SliceStable(dets, func(i, j int) bool { return dets[i].score > dets[j].score })
	if e.config.MaxResults > 0 && len(dets) > e.config.MaxResults {
		dets = dets[:e.config.MaxResults]
	}
	return dets
}

// decodeMask Mask解码
//
// # Params:
//
//	origBox: 原图上的检测框
//	maskCoeffs: 当前检测框对应的 Mask 系数
//	protos: 模型 Output1 的原型数据
//	c, h, w: 原型数据的维度 (32, 160, 160)
//	params: 图片尺寸缩放参数
func (e *SegEngine) decodeMask(origBox image.Rectangle, maskCoeffs []float32, protos []float32, c, h, w int, params imageParams) *image.Gray {
	finalMask := image.NewGray(image.Rect(0, 0, params.origW, params.origH))

	// Mask 原型图相对于 InputSize(640) 的缩放比例
	maskStride := float32(e.config.InputSize) / float32(w)
	c = min(c, len(maskCoeffs))

	for y := origBox.Min.Y; y < origBox.Max.Y; y++ {
		for x := origBox.Min.X; x < origBox.Max.X; x++ {
			// 映射回 640 尺度, 再映射回 160 Mask 尺度
			mx := int(float32(x) * params.scale / maskStride)
			my := int(float32(y) * params.scale / maskStride)
			if mx < 0 || mx >= w || my < 0 || my >= h {
				continue
			}

			sum := float32(0.0)
			for k := 0; k < c; k++ {
				sum += maskCoeffs[k] * protos[k*h*w+my*w+mx]
			}
			if sigmoid(sum) > e.config.MaskThreshold {
				finalMask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return finalMask
}
