package sam2

import (
	"errors"
	"fmt"
	"image"
	"runtime"

	"github.com/getcharzp/sam2-td"
	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrDestroyed 图片特征已释放
var ErrDestroyed = errors.New("图片特征已销毁")

// ErrNoPoints 没有可用的提示点
var ErrNoPoints = errors.New("提示点为空")

// Engine 持有 ONNX Session，负责创建 ImageContext
type Engine struct {
	onnx           *vision.OnnxConfig
	encoderSession *ort.DynamicAdvancedSession
	decoderSession *ort.DynamicAdvancedSession
	config         Config
}

// NewEngine 初始化 sam2 引擎
func NewEngine(cfg Config) (*Engine, error) {
	if err := vision.CheckFiles(cfg.EncodeModelPath, cfg.DecodeModelPath); err != nil {
		return nil, err
	}
	onnxConfig := new(vision.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := onnxConfig.New(); err != nil {
		return nil, err
	}

	// encoder session
	encInputs := []string{"pixel_values"}
	encOutputs := []string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"}
	encSession, err := ort.NewDynamicAdvancedSession(cfg.EncodeModelPath, encInputs, encOutputs, onnxConfig.SessionOptions)
	if err != nil {
		onnxConfig.Destroy()
		return nil, fmt.Errorf("创建 Encoder ONNX 会话失败: %w", err)
	}

	// decoder session
	decInputs := []string{
		"input_points", "input_labels", "input_boxes",
		"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
	}
	decOutputs := []string{"iou_scores", "pred_masks", "object_score_logits"}
	decSession, err := ort.NewDynamicAdvancedSession(cfg.DecodeModelPath, decInputs, decOutputs, onnxConfig.SessionOptions)
	if err != nil {
		encSession.Destroy()
		onnxConfig.Destroy()
		return nil, fmt.Errorf("创建 Decoder ONNX 会话失败: %w", err)
	}

	return &Engine{
		onnx:           onnxConfig,
		encoderSession: encSession,
		decoderSession: decSession,
		config:         cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	defer e.onnx.Destroy()
	if e.encoderSession != nil {
		if err := e.encoderSession.Destroy(); err != nil {
			return fmt.Errorf("销毁 Encoder ONNX 会话失败: %w", err)
		}
		e.encoderSession = nil
	}
	if e.decoderSession != nil {
		if err := e.decoderSession.Destroy(); err != nil {
			return fmt.Errorf("销毁 Decoder ONNX 会话失败: %w", err)
		}
		e.decoderSession = nil
	}
	return nil
}

// ImageContext 包含特定图像的特征缓存和参数
type ImageContext struct {
	engine          *Engine
	imageEmbeddings []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int
	isDestroyed  bool
}

// EncodeImage 图像特征提取
func (e *Engine) EncodeImage(img image.Image) (*ImageContext, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, fmt.Errorf("图片尺寸为空")
	}

	scale, newW, newH := resizeParams(origW, origH)
	resizedImg := imageutil.Resize(img, newW, newH)
	tensorData := normalizeAndPad(resizedImg, inputSize, inputSize)

	inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	inputTensor, err := ort.NewTensor(inputShape, tensorData)
	if err != nil {
		return nil, fmt.Errorf("创建图片 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	// Encoder 推理
	outputs := make([]ort.Value, 3)
	if err := e.encoderSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("encoder 推理失败: %w", err)
	}

	ctx := &ImageContext{
		engine:          e,
		imageEmbeddings: outputs,
		origW:           origW,
		origH:           origH,
		scale:           scale,
		newW:            newW,
		newH:            newH,
	}

	// 设置 Finalizer 以防忘记 Destroy
	runtime.SetFinalizer(ctx, func(c *ImageContext) { c.Destroy() })

	return ctx, nil
}

// Destroy 释放图像特征缓存
func (ctx *ImageContext) Destroy() {
	if ctx.isDestroyed {
		return
	}
	for _, v := range ctx.imageEmbeddings {
		if v != nil {
			v.Destroy()
		}
	}
	ctx.imageEmbeddings = nil
	ctx.isDestroyed = true
}

// Size 原图尺寸
func (ctx *ImageContext) Size() (int, int) {
	return ctx.origW, ctx.origH
}

// Result Mask 预测结果
type Result struct {
	Mask   []uint8 // 0 or 255
	Score  float32
	Area   float32 // mask 像素占原图的比例
	Width  int
	Height int
}

// DecodeRaw Mask解码并返回原始结果
func (ctx *ImageContext) DecodeRaw(points []Point, opts DecodeOptions) (*Result, error) {
	if ctx.isDestroyed {
		return nil, ErrDestroyed
	}
	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	coords, labels := encodePrompt(points, ctx.scale)
	numPoints := int64(len(points))

	tPoints, err := ort.NewTensor(ort.NewShape(1, 1, numPoints, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Points Tensor 失败: %w", err)
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, 1, numPoints), labels)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Labels Tensor 失败: %w", err)
	}
	defer tLabels.Destroy()

	// box 通过 point 控制
	var emptyFloat []float32
	tBoxes, err := ort.NewTensor(ort.NewShape(1, 0, 4), emptyFloat)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Boxes Tensor 失败: %w", err)
	}
	defer tBoxes.Destroy()

	inputs := []ort.Value{
		tPoints,
		tLabels,
		tBoxes,
		ctx.imageEmbeddings[0],
		ctx.imageEmbeddings[1],
		ctx.imageEmbeddings[2],
	}
	outputs := make([]ort.Value, 3)

	// Decoder 推理
	if err := ctx.engine.decoderSession.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("decoder 推理失败: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scoresTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("iou_scores 类型异常: %T", outputs[0])
	}
	masksTensor, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("pred_masks 类型异常: %T", outputs[1])
	}
	rawScores := scoresTensor.GetData()
	rawMasks := masksTensor.GetData()

	idx := selectMask(rawScores, opts.Multimask)
	if idx < 0 {
		return nil, fmt.Errorf("decoder 未输出 mask")
	}

	// 提取对应的 Mask Logits (256x256)
	pixelsPerMask := maskDim * maskDim
	start := idx * pixelsPerMask
	end := start + pixelsPerMask
	if end > len(rawMasks) {
		return nil, fmt.Errorf("pred_masks 长度异常: %d", len(rawMasks))
	}

	validMaskW := int(float32(ctx.newW) / 4.0)
	validMaskH := int(float32(ctx.newH) / 4.0)
	finalMask := upscaleMaskLogits(rawMasks[start:end], maskDim, validMaskW, validMaskH, ctx.origW, ctx.origH)

	return &Result{
		Mask:   finalMask,
		Score:  rawScores[idx],
		Area:   maskArea(finalMask),
		Width:  ctx.origW,
		Height: ctx.origH,
	}, nil
}

// Decode Mask解码并返回图片
func (ctx *ImageContext) Decode(points []Point, opts DecodeOptions) (*image.Gray, *Result, error) {
	result, err := ctx.DecodeRaw(points, opts)
	if err != nil {
		return nil, nil, err
	}
	return result.Gray(), result, nil
}

// Gray 将 mask 转换为灰度图
func (r *Result) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	copy(img.Pix, r.Mask)
	return img
}
