// Package oscio 处理与 TouchDesigner 之间的 OSC 控制消息与统计输出
package oscio

import (
	"errors"
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/prompt"
)

// OSC 地址
const (
	AddrMode  = "/sam/mode"
	AddrPoint = "/sam/point"
	AddrBox   = "/sam/box"
	AddrClear = "/sam/clear"

	AddrMaskCount = "/sam/masks/count"
)

// ErrBadArguments 参数个数或类型不符
var ErrBadArguments = errors.New("OSC 参数错误")

type handlerFunc func(msg *osc.Message) error

// Router 按地址分发 OSC 消息到提示状态, 实现 osc.Dispatcher
type Router struct {
	state    *prompt.State
	logger   *zap.Logger
	handlers map[string]handlerFunc
}

var _ osc.Dispatcher = (*Router)(nil)

// NewRouter 创建路由
func NewRouter(state *prompt.State, logger *zap.Logger) *Router {
	r := &Router{state: state, logger: logger}
	r.handlers = map[string]handlerFunc{
		AddrMode:  r.handleMode,
		AddrPoint: r.handlePoint,
		AddrBox:   r.handleBox,
		AddrClear: r.handleClear,
	}
	return r
}

// Dispatch 处理一个 OSC 包, Bundle 会递归展开
func (r *Router) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		r.Handle(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			r.Handle(m)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	}
}

// Handle 处理单条消息, 错误只记录日志
func (r *Router) Handle(msg *osc.Message) error {
	h, ok := r.handlers[msg.Address]
	if !ok {
		r.logger.Debug("未处理的 OSC 消息", zap.String("address", msg.Address), zap.Any("args", msg.Arguments))
		return nil
	}
	if err := h(msg); err != nil {
		r.logger.Warn("OSC 消息处理失败",
			zap.String("address", msg.Address), zap.Any("args", msg.Arguments), zap.Error(err))
		return err
	}
	return nil
}

func (r *Router) handleMode(msg *osc.Message) error {
	if len(msg.Arguments) != 1 {
		return fmt.Errorf("%w: %s 需要 1 个参数", ErrBadArguments, msg.Address)
	}
	s, ok := msg.Arguments[0].(string)
	if !ok {
		return fmt.Errorf("%w: 模式必须是字符串, 实际 %T", ErrBadArguments, msg.Arguments[0])
	}
	mode, err := prompt.ParseMode(s)
	if err != nil {
		return err
	}
	if err := r.state.SetMode(mode); err != nil {
		return err
	}
	r.logger.Info("切换模式", zap.String("mode", string(mode)))
	return nil
}

func (r *Router) handlePoint(msg *osc.Message) error {
	n := len(msg.Arguments)
	if n != 2 && n != 3 {
		return fmt.Errorf("%w: %s 需要 2 或 3 个参数", ErrBadArguments, msg.Address)
	}
	xy, err := floats(msg.Arguments[:2])
	if err != nil {
		return err
	}
	label := 1
	if n == 3 {
		v, ok := toFloat(msg.Arguments[2])
		if !ok {
			return fmt.Errorf("%w: label 类型 %T", ErrBadArguments, msg.Arguments[2])
		}
		// 小数 label 不截断, 只区分是否为 0
		if v == 0 {
			label = 0
		}
	}
	p, err := r.state.AddPoint(xy[0], xy[1], label)
	if err != nil {
		return err
	}
	r.logger.Info("添加提示点", zap.Int("x", p.X), zap.Int("y", p.Y), zap.Bool("positive", p.Positive))
	return nil
}

func (r *Router) handleBox(msg *osc.Message) error {
	if len(msg.Arguments) != 4 {
		return fmt.Errorf("%w: %s 需要 4 个参数", ErrBadArguments, msg.Address)
	}
	v, err := floats(msg.Arguments)
	if err != nil {
		return err
	}
	b, err := r.state.SetBox(v[0], v[1], v[2], v[3])
	if err != nil {
		return err
	}
	r.logger.Info("设置提示框", zap.Int("x1", b.X1), zap.Int("y1", b.Y1), zap.Int("x2", b.X2), zap.Int("y2", b.Y2))
	return nil
}

func (r *Router) handleClear(*osc.Message) error {
	r.state.Clear()
	r.logger.Info("清空提示")
	return nil
}

func floats(args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, ok := toFloat(a)
		if !ok {
			return nil, fmt.Errorf("%w: 第 %d 个参数类型 %T", ErrBadArguments, i, a)
		}
		out[i] = v
	}
	return out, nil
}

// toFloat 接受 OSC 的数值与布尔类型
func toFloat(a any) (float64, bool) {
	switch v := a.(type) {
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
