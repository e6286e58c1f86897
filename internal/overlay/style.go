// Package overlay 把分割结果叠加到画面上
package overlay

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Style 绘制样式
type Style struct {
	PointMask color.RGBA   // point 模式的掩码颜色
	BoxMask   color.RGBA   // box 模式的掩码颜色
	Positive  color.RGBA   // 包含点
	Negative  color.RGBA   // 排除点
	BoxLine   color.RGBA   // 提示框
	Palette   []color.RGBA // auto 模式按实例循环取色

	Alpha    float64 // 掩码不透明度 [0,1]
	Radius   float64 // 提示点半径
	BoxWidth float64 // 提示框线宽
	HUD      bool    // 左上角显示状态文字
}

// DefaultStyle 绿色点掩码, 青色框掩码, 50% 透明度
func DefaultStyle() Style {
	return Style{
		PointMask: color.RGBA{G: 255, A: 255},
		BoxMask:   color.RGBA{G: 255, B: 255, A: 255},
		Positive:  color.RGBA{G: 255, A: 255},
		Negative:  color.RGBA{R: 255, A: 255},
		BoxLine:   color.RGBA{G: 255, B: 255, A: 255},
		Palette:   DefaultPalette(12),
		Alpha:     0.5,
		Radius:    8,
		BoxWidth:  2,
		HUD:       true,
	}
}

// DefaultPalette 在色相环上均匀取 n 种颜色
func DefaultPalette(n int) []color.RGBA {
	p := make([]color.RGBA, n)
	for i := range p {
		c := colorful.Hsv(float64(i)*360/float64(n), 0.85, 1)
		r, g, b := c.Clamped().RGB255()
		p[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// ParseColor 解析 "#rrggbb" 格式的颜色
func ParseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("颜色格式错误 %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// paletteColor auto 模式第 i 个实例的颜色
func (s Style) paletteColor(i int) color.RGBA {
	if len(s.Palette) == 0 {
		return s.PointMask
	}
	return s.Palette[i%len(s.Palette)]
}
