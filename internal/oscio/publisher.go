package oscio

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/bridge"
	"github.com/getcharzp/sam2-td/internal/prompt"
)

// Publisher 将统计结果以 OSC 消息发送给 TouchDesigner
type Publisher struct {
	client *osc.Client
	logger *zap.Logger
}

// NewPublisher 创建发送端
func NewPublisher(host string, port int, logger *zap.Logger) *Publisher {
	return &Publisher{client: osc.NewClient(host, port), logger: logger}
}

// Publish 发送 /sam/masks/count 以及每个掩码的 score / area (/class)
func (p *Publisher) Publish(ctx context.Context, r bridge.Report) error {
	p.logger.Debug("发送统计", zap.Uint64("seq", r.Seq), zap.Int("count", r.Count()))
	for _, msg := range Messages(r) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.client.Send(msg); err != nil {
			return fmt.Errorf("发送 %s 失败: %w", msg.Address, err)
		}
	}
	return nil
}

// Messages 将统计结果转换为 OSC 消息, 只使用 int32 / float32
func Messages(r bridge.Report) []*osc.Message {
	msgs := make([]*osc.Message, 0, 1+3*len(r.Masks))
	msgs = append(msgs, osc.NewMessage(AddrMaskCount, int32(len(r.Masks))))
	for i, m := range r.Masks {
		prefix := fmt.Sprintf("/sam/mask/%d/", i)
		msgs = append(msgs,
			osc.NewMessage(prefix+"score", m.Score),
			osc.NewMessage(prefix+"area", m.Area),
		)
		if r.Mode == prompt.ModeAuto {
			msgs = append(msgs, osc.NewMessage(prefix+"class", int32(m.ClassID)))
		}
	}
	return msgs
}

// Send 向 host:port 发送一条消息
func Send(host string, port int, address string, args ...any) error {
	if !strings.HasPrefix(address, "/") {
		return fmt.Errorf("%w: 地址必须以 / 开头: %q", ErrBadArguments, address)
	}
	return osc.NewClient(host, port).Send(osc.NewMessage(address, args...))
}

// ParseArgs 把命令行参数转换为 OSC 参数: 整数 → int32, 小数 → float32, 其余为字符串
func ParseArgs(ss []string) []any {
	args := make([]any, 0, len(ss))
	for _, s := range ss {
		if i, err := strconv.ParseInt(s, 10, 32); err == nil {
			args = append(args, int32(i))
			continue
		}
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			args = append(args, float32(f))
			continue
		}
		args = append(args, s)
	}
	return args
}
