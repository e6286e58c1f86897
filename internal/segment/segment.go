// Package segment 分割后端: 本地 ONNX (sam2 + yolo26) 或远程 websocket 服务
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/texture"
	"github.com/getcharzp/sam2-td/sam2"
	"github.com/getcharzp/sam2-td/yolo26"
)

// ErrNoPrompt 当前模式下没有可用提示
var ErrNoPrompt = errors.New("没有可用的分割提示")

// Mask 单个分割结果
type Mask struct {
	Image   *image.Gray // 0 / 255
	Score   float32
	Area    float32 // 掩码像素占整帧的比例
	ClassID int     // 仅 auto 模式有效
}

// Result 一次分割的全部掩码
type Result struct {
	Masks []Mask
}

// Best 得分最高的掩码
func (r *Result) Best() (Mask, bool) {
	if r == nil || len(r.Masks) == 0 {
		return Mask{}, false
	}
	best := r.Masks[0]
	for _, m := range r.Masks[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return best, true
}

// Segmenter 分割后端
type Segmenter interface {
	Segment(ctx context.Context, frame *texture.Frame, snap prompt.Snapshot) (*Result, error)
	Close() error
}

// 后端类型
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendNone   = "none"
)

// Options 后端参数
type Options struct {
	Backend string

	SAM2 sam2.Config
	Auto *yolo26.Config // 为 nil 时 auto 模式不输出掩码

	RemoteURL string
	Timeout   time.Duration
}

// Open 根据 Backend 创建分割后端
func Open(opts Options, logger *zap.Logger) (Segmenter, error) {
	switch opts.Backend {
	case BackendLocal, "":
		l, err := NewLocal(opts.SAM2, opts.Auto, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case BackendRemote:
		r, err := NewRemote(opts.RemoteURL, opts.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendNone:
		logger.Warn("未启用分割后端, 所有结果为空")
		return Nop{}, nil
	}
	return nil, fmt.Errorf("未知的分割后端: %q", opts.Backend)
}

// Nop 不做任何分割
type Nop struct{}

func (Nop) Segment(ctx context.Context, _ *texture.Frame, _ prompt.Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (Nop) Close() error { return nil }

// grayArea 前景像素占比
func grayArea(img *image.Gray) float32 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	count := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[x] > 127 {
				count++
			}
		}
	}
	return float32(count) / float32(total)
}
