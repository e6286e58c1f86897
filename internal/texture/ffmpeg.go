package texture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// Options ffmpeg 通道参数
type Options struct {
	Width  int
	Height int

	Input      string            // 输入 URL / 设备名, 为空时使用 BlankSource
	InputArgs  map[string]string // 如 {"f": "v4l2"}
	Output     string            // 输出 URL, 为空时使用 DiscardSink
	OutputArgs map[string]string // 如 {"f": "mpegts"}
}

func rawVideoArgs(width, height int) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", width, height),
	}
}

func kwargs(base ffmpeg.KwArgs, extra map[string]string) ffmpeg.KwArgs {
	out := ffmpeg.KwArgs{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// FFmpegSource 从 ffmpeg 子进程读取 RGBA 原始帧
type FFmpegSource struct {
	mb     *mailbox
	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    atomic.Value
	logger *zap.Logger
}

// NewFFmpegSource 启动 ffmpeg, 将输入缩放为 Width x Height 的 RGBA
func NewFFmpegSource(opts Options, logger *zap.Logger) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("未找到 ffmpeg: %w", err)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("画面尺寸无效: %dx%d", opts.Width, opts.Height)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FFmpegSource{mb: newMailbox(), cancel: cancel, logger: logger}
	pr, pw := io.Pipe()

	stream := ffmpeg.Input(opts.Input, kwargs(nil, opts.InputArgs)).
		Output("pipe:", rawVideoArgs(opts.Width, opts.Height))
	stream.Context = ctx

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		err := stream.WithOutput(pw).Run()
		if err != nil && ctx.Err() == nil {
			s.err.Store(fmt.Errorf("ffmpeg 输入进程退出: %w", err))
			logger.Error("ffmpeg 输入进程退出", zap.String("input", opts.Input), zap.Error(err))
		}
		pw.Close()
	}()
	go func() {
		defer s.wg.Done()
		if err := readFrames(ctx, pr, opts.Width, opts.Height, s.mb); err != nil {
			logger.Warn("读取帧失败", zap.Error(err))
		}
		pr.Close()
	}()

	logger.Info("ffmpeg 输入已启动", zap.String("input", opts.Input),
		zap.Int("width", opts.Width), zap.Int("height", opts.Height))
	return s, nil
}

// readFrames 从 r 中按固定大小切分帧, 直到 EOF 或 ctx 取消
func readFrames(ctx context.Context, r io.Reader, width, height int, mb *mailbox) error {
	for ctx.Err() == nil {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		if _, err := io.ReadFull(r, img.Pix); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("读取原始帧失败: %w", err)
		}
		if !mb.put(img) {
			return nil
		}
	}
	return nil
}

func (s *FFmpegSource) Receive() (*Frame, bool) {
	return s.mb.take()
}

func (s *FFmpegSource) Stats() SourceStats {
	return s.mb.stats()
}

// Err ffmpeg 进程异常退出时的错误
func (s *FFmpegSource) Err() error {
	if err, ok := s.err.Load().(error); ok {
		return err
	}
	return nil
}

// Close 结束 ffmpeg 并等待读取协程退出
func (s *FFmpegSource) Close() error {
	s.cancel()
	s.mb.close()
	s.wg.Wait()
	return nil
}

// FFmpegSink 将 RGBA 原始帧写入 ffmpeg 子进程
type FFmpegSink struct {
	width, height int

	mu     sync.Mutex
	pw     *io.PipeWriter
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewFFmpegSink 启动 ffmpeg, 从管道读取 Width x Height 的 RGBA 并写到 Output
func NewFFmpegSink(opts Options, logger *zap.Logger) (*FFmpegSink, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("未找到 ffmpeg: %w", err)
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("输出地址不能为空")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	s := &FFmpegSink{
		width:  opts.Width,
		height: opts.Height,
		pw:     pw,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	stream := ffmpeg.Input("pipe:", rawVideoArgs(opts.Width, opts.Height)).
		Output(opts.Output, kwargs(nil, opts.OutputArgs)).
		OverWriteOutput()
	stream.Context = ctx

	go func() {
		defer close(s.done)
		err := stream.WithInput(pr).Run()
		if err != nil && ctx.Err() == nil {
			logger.Error("ffmpeg 输出进程退出", zap.String("output", opts.Output), zap.Error(err))
			s.err = fmt.Errorf("ffmpeg 输出进程退出: %w", err)
		}
		pr.Close()
	}()

	logger.Info("ffmpeg 输出已启动", zap.String("output", opts.Output))
	return s, nil
}

// Publish 写入一帧, 尺寸必须与启动参数一致
func (s *FFmpegSink) Publish(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFrame(s.pw, img, s.width, s.height)
}

func writeFrame(w io.Writer, img *image.RGBA, width, height int) error {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("帧尺寸 %dx%d 与输出 %dx%d 不一致", b.Dx(), b.Dy(), width, height)
	}
	rowLen := width * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		if _, err := w.Write(img.Pix[:rowLen*height]); err != nil {
			return fmt.Errorf("写入帧失败: %w", err)
		}
		return nil
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return fmt.Errorf("写入帧失败: %w", err)
		}
	}
	return nil
}

// Close 关闭管道, 等待 ffmpeg 退出
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pw.Close()
	s.mu.Unlock()

	<-s.done
	s.cancel()
	return s.err
}

// OpenSource 根据参数选择输入
func OpenSource(opts Options, logger *zap.Logger) (Source, error) {
	if opts.Input == "" {
		logger.Warn("未配置视频输入, 将输出黑帧")
		return BlankSource{}, nil
	}
	s, err := NewFFmpegSource(opts, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSink 根据参数选择输出
func OpenSink(opts Options, logger *zap.Logger) (Sink, error) {
	if opts.Output == "" {
		logger.Warn("未配置视频输出, 画面将被丢弃")
		return &DiscardSink{}, nil
	}
	s, err := NewFFmpegSink(opts, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
