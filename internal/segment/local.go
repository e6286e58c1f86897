package segment

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/texture"
	"github.com/getcharzp/sam2-td/sam2"
	"github.com/getcharzp/sam2-td/yolo26"
)

// Embedding 一帧图像的 SAM 2 特征, *sam2.ImageContext 实现该接口
type Embedding interface {
	DecodeRaw(points []sam2.Point, opts sam2.DecodeOptions) (*sam2.Result, error)
	Destroy()
}

// PromptModel 点 / 框提示分割模型
type PromptModel interface {
	Encode(img image.Image) (Embedding, error)
	Close() error
}

// AutoModel 全图实例分割模型
type AutoModel interface {
	Predict(img image.Image) ([]yolo26.SegResult, error)
	Close() error
}

type sam2Model struct{ *sam2.Engine }

func (m sam2Model) Encode(img image.Image) (Embedding, error) {
	ctx, err := m.EncodeImage(img)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

func (m sam2Model) Close() error { return m.Destroy() }

type yoloModel struct{ *yolo26.SegEngine }

func (m yoloModel) Close() error {
	m.Destroy()
	return nil
}

// Local 进程内推理
type Local struct {
	prompt PromptModel
	auto   AutoModel
	logger *zap.Logger

	mu       sync.Mutex
	cacheKey *texture.Frame
	cacheSeq uint64
	cache    Embedding
}

// NewLocal 加载 sam2 模型, autoCfg 不为 nil 时同时加载 yolo26-seg
func NewLocal(cfg sam2.Config, autoCfg *yolo26.Config, logger *zap.Logger) (*Local, error) {
	engine, err := sam2.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("加载 SAM 2 模型失败: %w", err)
	}
	var auto AutoModel
	if autoCfg != nil {
		seg, err := yolo26.NewSegEngine(*autoCfg)
		if err != nil {
			engine.Destroy()
			return nil, fmt.Errorf("加载自动分割模型失败: %w", err)
		}
		auto = yoloModel{seg}
	}
	logger.Info("模型加载完成",
		zap.String("encoder", cfg.EncodeModelPath),
		zap.String("decoder", cfg.DecodeModelPath),
		zap.Bool("auto", auto != nil))
	return NewLocalWithModels(sam2Model{engine}, auto, logger), nil
}

// NewLocalWithModels 使用已加载的模型, auto 可以为 nil
func NewLocalWithModels(pm PromptModel, auto AutoModel, logger *zap.Logger) *Local {
	return &Local{prompt: pm, auto: auto, logger: logger}
}

// Segment 按快照中的模式执行分割
//
// point: 多 mask 输出取最高分; box: 单 mask 输出; auto: 全部实例。
func (l *Local) Segment(ctx context.Context, frame *texture.Frame, snap prompt.Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch snap.Mode {
	case prompt.ModeAuto:
		return l.segmentAuto(frame)
	case prompt.ModePoint:
		if len(snap.Points) == 0 {
			return nil, ErrNoPrompt
		}
		points := make([]sam2.Point, len(snap.Points))
		for i, p := range snap.Points {
			label := sam2.LabelBackground
			if p.Positive {
				label = sam2.LabelForeground
			}
			points[i] = sam2.Point{X: float32(p.X), Y: float32(p.Y), Label: label}
		}
		return l.decode(frame, points, sam2.DecodeOptions{Multimask: true})
	case prompt.ModeBox:
		if snap.Box == nil {
			return nil, ErrNoPrompt
		}
		b := snap.Box
		points := sam2.BoxPoints(float32(b.X1), float32(b.Y1), float32(b.X2), float32(b.Y2))
		return l.decode(frame, points, sam2.DecodeOptions{Multimask: false})
	}
	return nil, ErrNoPrompt
}

func (l *Local) segmentAuto(frame *texture.Frame) (*Result, error) {
	if l.auto == nil {
		return &Result{}, nil
	}
	instances, err := l.auto.Predict(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("自动分割失败: %w", err)
	}
	res := &Result{Masks: make([]Mask, 0, len(instances))}
	for _, in := range instances {
		res.Masks = append(res.Masks, Mask{
			Image:   in.Mask,
			Score:   in.Score,
			Area:    in.Area,
			ClassID: in.ClassID,
		})
	}
	return res, nil
}

func (l *Local) decode(frame *texture.Frame, points []sam2.Point, opts sam2.DecodeOptions) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	emb, err := l.embedding(frame)
	if err != nil {
		return nil, err
	}
	out, err := emb.DecodeRaw(points, opts)
	if err != nil {
		return nil, fmt.Errorf("mask 解码失败: %w", err)
	}
	return &Result{Masks: []Mask{{
		Image: out.Gray(),
		Score: out.Score,
		Area:  out.Area,
	}}}, nil
}

// embedding 同一帧只编码一次, 调用方持有 l.mu
func (l *Local) embedding(frame *texture.Frame) (Embedding, error) {
	if l.cache != nil && l.cacheKey == frame && l.cacheSeq == frame.Seq {
		return l.cache, nil
	}
	l.dropCache()
	emb, err := l.prompt.Encode(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("图像编码失败: %w", err)
	}
	l.cache, l.cacheKey, l.cacheSeq = emb, frame, frame.Seq
	l.logger.Debug("图像特征已更新", zap.Uint64("seq", frame.Seq))
	return emb, nil
}

func (l *Local) dropCache() {
	if l.cache != nil {
		l.cache.Destroy()
	}
	l.cache, l.cacheKey, l.cacheSeq = nil, nil, 0
}

// Close 释放模型
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropCache()
	err := l.prompt.Close()
	if l.auto != nil {
		err = multierr.Append(err, l.auto.Close())
	}
	return err
}
