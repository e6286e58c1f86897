// Package bridge 帧循环: 收帧, 按节奏推理, 输出可视化与统计
package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/getcharzp/sam2-td/internal/overlay"
	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/segment"
	"github.com/getcharzp/sam2-td/internal/texture"
)

const latencyWindow = 120

// Options 帧循环参数
type Options struct {
	Width, Height   int
	FlipY           bool          // 输入输出均为自下而上的纹理坐标
	ProcessInterval int           // 每 N 帧推理一次, 提示变化时立即推理
	IdleSleep       time.Duration // 每帧之间的休眠
	StatusEvery     int           // 每 N 帧打印一次状态

	State     *prompt.State
	Source    texture.Source
	Sink      texture.Sink
	Segmenter segment.Segmenter
	Renderer  *overlay.Renderer
	Reporters []Reporter

	Clock  clock.Clock
	Logger *zap.Logger
}

// Stats 运行统计
type Stats struct {
	Frames      uint64        `json:"frames"`
	Inferences  uint64        `json:"inferences"`
	Failures    uint64        `json:"failures"`
	Received    uint64        `json:"received"`
	Dropped     uint64        `json:"dropped"`
	Mode        prompt.Mode   `json:"mode"`
	LastCount   int           `json:"last_count"`
	LastScore   float32       `json:"last_score"`
	LatencyMean time.Duration `json:"latency_mean_ns"`
	LatencyP95  time.Duration `json:"latency_p95_ns"`
	Uptime      time.Duration `json:"uptime_ns"`
	InputError  string        `json:"input_error,omitempty"` // 输入进程异常退出的原因
}

// erringSource 会异步失败的输入, 如 *texture.FFmpegSource
type erringSource interface {
	Err() error
}

// Bridge 帧循环, Step 只能在一个协程内调用
type Bridge struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	interval int
	start    time.Time

	lastFrame *texture.Frame
	blank     *texture.Frame
	lastViz   *image.RGBA

	mu        sync.Mutex
	stats     Stats
	latencies []float64 // 毫秒
}

// New 校验参数并创建帧循环
func New(opts Options) (*Bridge, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("画面尺寸无效: %dx%d", opts.Width, opts.Height)
	}
	if opts.State == nil || opts.Source == nil || opts.Sink == nil || opts.Segmenter == nil {
		return nil, errors.New("State, Source, Sink, Segmenter 不能为空")
	}
	if opts.Renderer == nil {
		r, err := overlay.NewRenderer(overlay.DefaultStyle(), "")
		if err != nil {
			return nil, err
		}
		opts.Renderer = r
	}
	if opts.ProcessInterval <= 0 {
		opts.ProcessInterval = 30
	}
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = 300
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		interval: opts.ProcessInterval,
		start:    opts.Clock.Now(),
		blank:    &texture.Frame{Image: texture.Black(opts.Width, opts.Height)},
	}, nil
}

// SetProcessInterval 修改推理间隔 (配置热更新)
func (b *Bridge) SetProcessInterval(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = n
}

// SetStyle 修改绘制样式 (配置热更新)
func (b *Bridge) SetStyle(style overlay.Style) {
	b.opts.Renderer.SetStyle(style)
}

// Run 循环执行 Step 直到 ctx 取消
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("帧循环已启动",
		zap.Int("width", b.opts.Width), zap.Int("height", b.opts.Height),
		zap.Int("process_interval", b.processInterval()))
	defer func() {
		s := b.Stats()
		b.logger.Info("帧循环已停止",
			zap.Uint64("frames", s.Frames),
			zap.Uint64("inferences", s.Inferences),
			zap.Uint64("failures", s.Failures))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		b.Step(ctx)
		if b.opts.IdleSleep > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-b.clock.After(b.opts.IdleSleep):
			}
		}
	}
}

// Step 执行一次循环: 取帧, 视情况推理, 输出画面与统计
func (b *Bridge) Step(ctx context.Context) {
	b.mu.Lock()
	frameCount := b.stats.Frames
	interval := b.interval
	b.mu.Unlock()

	frame := b.acquire(frameCount)

	needsUpdate := b.opts.State.ConsumeUpdate()
	var viz *image.RGBA
	if needsUpdate || frameCount%uint64(interval) == 0 {
		if needsUpdate {
			b.logger.Debug("提示已变化, 立即推理")
		}
		viz = b.process(ctx, frame)
	} else if b.lastViz != nil {
		viz = b.lastViz
	} else {
		viz = frame.Image
	}

	out := viz
	if b.opts.FlipY {
		out = texture.FlipVertical(viz)
	}
	if err := b.opts.Sink.Publish(out); err != nil {
		b.logger.Error("输出画面失败", zap.Error(err))
	}

	src := b.opts.Source.Stats()
	inputErr := b.sourceError()
	b.mu.Lock()
	b.stats.Frames++
	b.stats.Received = src.Received
	b.stats.Dropped = src.Dropped
	frames := b.stats.Frames
	firstErr := inputErr != "" && b.stats.InputError == ""
	b.stats.InputError = inputErr
	b.mu.Unlock()

	if firstErr {
		b.logger.Error("视频输入已中断, 继续输出最后一帧", zap.String("error", inputErr))
	}

	if frames%uint64(b.opts.StatusEvery) == 0 {
		b.logger.Info("运行状态",
			zap.Uint64("frames", frames),
			zap.String("mode", string(b.opts.State.Mode())),
			zap.Uint64("received", src.Received),
			zap.Uint64("dropped", src.Dropped))
	}
}

func (b *Bridge) sourceError() string {
	es, ok := b.opts.Source.(erringSource)
	if !ok {
		return ""
	}
	if err := es.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// acquire 优先取新帧, 否则复用上一帧, 再否则使用黑帧
func (b *Bridge) acquire(frameCount uint64) *texture.Frame {
	if f, ok := b.opts.Source.Receive(); ok {
		img := f.Image
		if b.opts.FlipY {
			img = texture.FlipVertical(img)
		}
		img = b.fit(img)
		first := b.lastFrame == nil
		b.lastFrame = &texture.Frame{Image: img, Seq: f.Seq, At: f.At}

		if first {
			b.logger.Info("开始接收视频帧", zap.Uint64("seq", f.Seq))
		} else if frameCount%uint64(b.opts.StatusEvery) == 0 {
			b.logger.Info("持续接收视频帧", zap.Uint64("frame", frameCount))
		}
		return b.lastFrame
	}
	if b.lastFrame != nil {
		return b.lastFrame
	}
	if frameCount == 0 {
		b.logger.Info("未检测到输入, 等待视频...")
	}
	return b.blank
}

// fit 缩放到输出尺寸
func (b *Bridge) fit(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	if bounds.Dx() == b.opts.Width && bounds.Dy() == b.opts.Height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.opts.Width, b.opts.Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst
}

// process 推理并绘制, 失败时返回原始画面且不覆盖上一次的可视化
func (b *Bridge) process(ctx context.Context, frame *texture.Frame) *image.RGBA {
	snap := b.opts.State.Snapshot()
	started := b.clock.Now()

	res, err := b.opts.Segmenter.Segment(ctx, frame, snap)
	if errors.Is(err, segment.ErrNoPrompt) {
		res, err = &segment.Result{}, nil
	}
	if err != nil {
		b.mu.Lock()
		b.stats.Failures++
		b.mu.Unlock()
		b.logger.Error("分割失败", zap.String("mode", string(snap.Mode)), zap.Error(err))
		return frame.Image
	}
	latency := b.clock.Since(started)

	viz := b.opts.Renderer.Render(frame.Image, snap, res)
	b.lastViz = viz

	report := Report{
		Seq:     frame.Seq,
		Mode:    snap.Mode,
		Masks:   make([]MaskStat, 0, len(res.Masks)),
		Latency: latency,
		At:      b.clock.Now(),
	}
	for _, m := range res.Masks {
		report.Masks = append(report.Masks, MaskStat{Score: m.Score, Area: m.Area, ClassID: m.ClassID})
	}
	b.record(report, res)
	b.publish(ctx, report)
	return viz
}

func (b *Bridge) record(r Report, res *segment.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Inferences++
	b.stats.LastCount = r.Count()
	b.stats.LastScore = 0
	if best, ok := res.Best(); ok {
		b.stats.LastScore = best.Score
	}
	b.latencies = append(b.latencies, float64(r.Latency)/float64(time.Millisecond))
	if len(b.latencies) > latencyWindow {
		b.latencies = b.latencies[len(b.latencies)-latencyWindow:]
	}
}

func (b *Bridge) publish(ctx context.Context, r Report) {
	for _, rep := range b.opts.Reporters {
		if err := rep.Publish(ctx, r); err != nil {
			b.logger.Warn("发送统计失败", zap.Error(err))
		}
	}
}

func (b *Bridge) processInterval() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// Stats 返回统计快照, 可在任意协程调用
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Mode = b.opts.State.Mode()
	s.Uptime = b.clock.Since(b.start)
	if len(b.latencies) > 0 {
		if mean, err := stats.Mean(b.latencies); err == nil {
			s.LatencyMean = msToDuration(mean)
		}
		if p95, err := stats.Percentile(b.latencies, 95); err == nil {
			s.LatencyP95 = msToDuration(p95)
		}
	}
	return s
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
