// Package texture 视频帧的输入输出通道
//
// TouchDesigner 端通过视频设备 / 流输出画面, 这里用 ffmpeg 管道收发 RGBA 原始帧。
package texture

import (
	"errors"
	"image"
	"image/draw"
	"time"
)

// ErrClosed 通道已关闭
var ErrClosed = errors.New("纹理通道已关闭")

// Frame 一帧画面
type Frame struct {
	Image *image.RGBA
	Seq   uint64 // 从 1 开始递增
	At    time.Time
}

// SourceStats 输入统计
type SourceStats struct {
	Received uint64 // 收到的帧数
	Dropped  uint64 // 未被取走就被覆盖的帧数
}

// Source 帧输入
type Source interface {
	// Receive 非阻塞, 没有新帧时返回 false
	Receive() (*Frame, bool)
	Stats() SourceStats
	Close() error
}

// Sink 帧输出
type Sink interface {
	Publish(img *image.RGBA) error
	Close() error
}

// Black 纯黑不透明画面
func Black(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	return img
}

// FlipVertical 上下翻转, 返回新图像
func FlipVertical(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		from := src.PixOffset(b.Min.X, b.Max.Y-1-y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[from:from+rowLen])
	}
	return dst
}
