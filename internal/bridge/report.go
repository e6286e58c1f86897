package bridge

import (
	"context"
	"time"

	"github.com/getcharzp/sam2-td/internal/prompt"
)

// MaskStat 单个掩码的统计信息
type MaskStat struct {
	Score   float32 `json:"score"`
	Area    float32 `json:"area"`               // 掩码像素 / (W*H)
	ClassID int     `json:"class_id,omitempty"` // 仅 auto 模式有效
}

// Report 一次推理后的统计结果
type Report struct {
	Seq     uint64        `json:"seq"`
	Mode    prompt.Mode   `json:"mode"`
	Masks   []MaskStat    `json:"masks"`
	Latency time.Duration `json:"latency_ns"`
	At      time.Time     `json:"at"`
}

// Count 掩码数量
func (r Report) Count() int {
	return len(r.Masks)
}

// Reporter 统计结果的接收方 (OSC, MQTT)
type Reporter interface {
	Publish(ctx context.Context, r Report) error
}

// ReporterFunc 函数适配器
type ReporterFunc func(ctx context.Context, r Report) error

func (f ReporterFunc) Publish(ctx context.Context, r Report) error {
	return f(ctx, r)
}
