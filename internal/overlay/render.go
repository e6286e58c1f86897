package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"

	"github.com/getcharzp/sam2-td"
	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/segment"
)

var (
	hudForeground = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	hudBackground = color.RGBA{A: 160}
)

// Render 在画面副本上叠加掩码与提示, 不修改 src
func Render(src *image.RGBA, snap prompt.Snapshot, res *segment.Result, style Style) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if res != nil {
		for i, m := range res.Masks {
			blendMask(dst, m.Image, maskColor(snap.Mode, i, style), style.Alpha)
		}
	}

	dc := gg.NewContextForRGBA(dst)
	switch snap.Mode {
	case prompt.ModePoint:
		for _, p := range snap.Points {
			c := style.Negative
			if p.Positive {
				c = style.Positive
			}
			dc.DrawCircle(float64(p.X), float64(p.Y), style.Radius)
			dc.SetColor(c)
			dc.Fill()
		}
	case prompt.ModeBox:
		if snap.Box != nil {
			bx := snap.Box
			dc.DrawRectangle(float64(bx.X1), float64(bx.Y1), float64(bx.X2-bx.X1), float64(bx.Y2-bx.Y1))
			dc.SetColor(style.BoxLine)
			dc.SetLineWidth(style.BoxWidth)
			dc.Stroke()
		}
	}
	return dst
}

func maskColor(mode prompt.Mode, i int, style Style) color.RGBA {
	switch mode {
	case prompt.ModePoint:
		return style.PointMask
	case prompt.ModeBox:
		return style.BoxMask
	}
	return style.paletteColor(i)
}

// blendMask 对掩码前景像素做 alpha 混合: dst = dst*(1-a) + c*a
func blendMask(dst *image.RGBA, mask *image.Gray, c color.RGBA, alpha float64) {
	if mask == nil || alpha <= 0 {
		return
	}
	alpha = min(alpha, 1)
	a := uint32(alpha * 256)
	inv := 256 - a
	r := dst.Bounds().Intersect(mask.Bounds().Sub(mask.Bounds().Min))
	mb := mask.Bounds().Min
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if mask.Pix[mask.PixOffset(x+mb.X, y+mb.Y)] <= 127 {
				continue
			}
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+4 : i+4]
			px[0] = uint8((uint32(px[0])*inv + uint32(c.R)*a) >> 8)
			px[1] = uint8((uint32(px[1])*inv + uint32(c.G)*a) >> 8)
			px[2] = uint8((uint32(px[2])*inv + uint32(c.B)*a) >> 8)
		}
	}
}

// Renderer 带状态文字的绘制器, 样式可在运行时替换
type Renderer struct {
	mu    sync.Mutex
	style Style
	text  *vision.TextDrawer
}

// NewRenderer 创建绘制器, fontPath 为空时使用内置字体
func NewRenderer(style Style, fontPath string) (*Renderer, error) {
	text, err := vision.NewTextDrawer(fontPath)
	if err != nil {
		return nil, err
	}
	if err := text.SetSize(20); err != nil {
		text.Close()
		return nil, fmt.Errorf("设置字体大小失败: %w", err)
	}
	return &Renderer{style: style, text: text}, nil
}

// SetStyle 替换样式
func (r *Renderer) SetStyle(style Style) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.style = style
}

// Style 当前样式
func (r *Renderer) Style() Style {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.style
}

// Render 叠加掩码, 并按样式绘制状态文字
func (r *Renderer) Render(src *image.RGBA, snap prompt.Snapshot, res *segment.Result) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	dst := Render(src, snap, res, r.style)
	if r.style.HUD {
		r.text.DrawLabel(dst, hudLine(snap, res), 10, 10, hudForeground, hudBackground)
	}
	return dst
}

func hudLine(snap prompt.Snapshot, res *segment.Result) string {
	count := 0
	if res != nil {
		count = len(res.Masks)
	}
	line := fmt.Sprintf("mode: %s  masks: %d", snap.Mode, count)
	if best, ok := res.Best(); ok {
		line += fmt.Sprintf("  score: %.3f", best.Score)
	}
	return line
}

// Close 释放字体
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.Close()
}
