// Package prompt 保存 TouchDesigner 发来的分割提示 (点 / 框) 与当前模式
package prompt

import (
	"errors"
	"fmt"
	"sync"
)

// Mode 分割模式
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModePoint Mode = "point"
	ModeBox   Mode = "box"
)

var (
	// ErrUnknownMode 不支持的模式
	ErrUnknownMode = errors.New("未知的分割模式")
	// ErrOutOfRange 归一化坐标超出 [0,1]
	ErrOutOfRange = errors.New("坐标超出 [0,1] 范围")
)

// ParseMode 解析模式字符串
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModePoint, ModeBox:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Point 像素坐标下的提示点
type Point struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Positive bool `json:"positive"` // true 为包含, false 为排除
}

// Box 像素坐标下的提示框, 保证 X1<=X2, Y1<=Y2
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Snapshot 某一时刻的提示快照, 与 State 不共享内存
type Snapshot struct {
	Mode   Mode    `json:"mode"`
	Points []Point `json:"points"`
	Box    *Box    `json:"box,omitempty"`
}

// HasPrompt 当前模式下是否有可用提示
func (s Snapshot) HasPrompt() bool {
	switch s.Mode {
	case ModePoint:
		return len(s.Points) > 0
	case ModeBox:
		return s.Box != nil
	}
	return false
}

// State 提示状态, 由 OSC 接收协程写入, 帧循环读取
type State struct {
	mu          sync.Mutex
	width       int
	height      int
	mode        Mode
	points      []Point
	box         *Box
	needsUpdate bool
}

// NewState 创建提示状态, width/height 为帧的像素尺寸
func NewState(width, height int) *State {
	return &State{width: width, height: height, mode: ModeAuto}
}

// SetMode 切换模式并清空已有提示
func (s *State) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.clearLocked()
	return nil
}

// Mode 当前模式
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// AddPoint 追加提示点, x/y 为归一化坐标, label 非 0 表示包含
func (s *State) AddPoint(x, y float64, label int) (Point, error) {
	if !inRange(x) || !inRange(y) {
		return Point{}, fmt.Errorf("%w: (%g, %g)", ErrOutOfRange, x, y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Point{
		X:        toPixel(x, s.width),
		Y:        toPixel(y, s.height),
		Positive: label != 0,
	}
	s.points = append(s.points, p)
	s.needsUpdate = true
	return p, nil
}

// SetBox 设置提示框, 覆盖之前的框
func (s *State) SetBox(x1, y1, x2, y2 float64) (Box, error) {
	for _, v := range [...]float64{x1, y1, x2, y2} {
		if !inRange(v) {
			return Box{}, fmt.Errorf("%w: (%g, %g, %g, %g)", ErrOutOfRange, x1, y1, x2, y2)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bx1, bx2 := toPixel(x1, s.width), toPixel(x2, s.width)
	by1, by2 := toPixel(y1, s.height), toPixel(y2, s.height)
	b := Box{X1: min(bx1, bx2), Y1: min(by1, by2), X2: max(bx1, bx2), Y2: max(by1, by2)}
	s.box = &b
	s.needsUpdate = true
	return b, nil
}

// Clear 清空所有提示
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *State) clearLocked() {
	s.points = nil
	s.box = nil
	s.needsUpdate = true
}

// ConsumeUpdate 返回并复位"提示已变化"标记
func (s *State) ConsumeUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	needs := s.needsUpdate
	s.needsUpdate = false
	return needs
}

// Snapshot 复制当前状态
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Mode: s.mode}
	if len(s.points) > 0 {
		snap.Points = append([]Point(nil), s.points...)
	}
	if s.box != nil {
		b := *s.box
		snap.Box = &b
	}
	return snap
}

func inRange(v float64) bool {
	return v >= 0 && v <= 1
}

func toPixel(v float64, size int) int {
	return int(v * float64(size))
}
