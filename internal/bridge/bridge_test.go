package bridge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/getcharzp/sam2-td/internal/overlay"
	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/segment"
	"github.com/getcharzp/sam2-td/internal/texture"
)

type fakeSource struct {
	mu     sync.Mutex
	queue  []*texture.Frame
	seq    uint64
	stats  texture.SourceStats
	closed bool
}

func (s *fakeSource) push(img *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.stats.Received++
	s.queue = append(s.queue, &texture.Frame{Image: img, Seq: s.seq})
}

func (s *fakeSource) Receive() (*texture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	return f, true
}

func (s *fakeSource) Stats() texture.SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []*image.RGBA
	onPub  func(n int)
}

func (s *recordingSink) Publish(img *image.RGBA) error {
	s.mu.Lock()
	s.frames = append(s.frames, img)
	n := len(s.frames)
	s.mu.Unlock()
	if s.onPub != nil {
		s.onPub(n)
	}
	return nil
}

func (s *recordingSink) last() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *recordingSink) Close() error { return nil }

type fakeSegmenter struct {
	calls   int
	frames  []*texture.Frame
	result  *segment.Result
	err     error
	advance time.Duration
	clock   *clock.Mock
}

func (f *fakeSegmenter) Segment(_ context.Context, frame *texture.Frame, snap prompt.Snapshot) (*segment.Result, error) {
	f.calls++
	f.frames = append(f.frames, frame)
	if f.clock != nil {
		f.clock.Add(f.advance)
	}
	if f.err != nil {
		return nil, f.err
	}
	if snap.Mode != prompt.ModeAuto && !snap.HasPrompt() {
		return nil, segment.ErrNoPrompt
	}
	if f.result != nil {
		return f.result, nil
	}
	return &segment.Result{}, nil
}

func (f *fakeSegmenter) Close() error { return nil }

type harness struct {
	bridge  *Bridge
	state   *prompt.State
	source  *fakeSource
	sink    *recordingSink
	seg     *fakeSegmenter
	reports []Report
	clock   *clock.Mock
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	style := overlay.DefaultStyle()
	style.HUD = false
	renderer, err := overlay.NewRenderer(style, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(renderer.Close)

	h := &harness{
		state:  prompt.NewState(4, 4),
		source: &fakeSource{},
		sink:   &recordingSink{},
		clock:  clock.NewMock(),
	}
	h.seg = &fakeSegmenter{clock: h.clock}
	opts := Options{
		Width:           4,
		Height:          4,
		ProcessInterval: 30,
		State:           h.state,
		Source:          h.source,
		Sink:            h.sink,
		Segmenter:       h.seg,
		Renderer:        renderer,
		Reporters: []Reporter{ReporterFunc(func(_ context.Context, r Report) error {
			h.reports = append(h.reports, r)
			return nil
		})},
		Clock:  h.clock,
		Logger: zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.bridge, err = New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Width: 0, Height: 4}); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := New(Options{Width: 4, Height: 4}); err == nil {
		t.Error("expected error for missing components")
	}
}

func TestStep_ProcessesEveryNthFrame(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ProcessInterval = 3 })
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		h.bridge.Step(ctx)
	}
	if h.seg.calls != 3 {
		t.Errorf("expected inference on frames 0, 3, 6; got %d calls", h.seg.calls)
	}
	if len(h.reports) != 3 {
		t.Errorf("expected 3 reports, got %d", len(h.reports))
	}
	if len(h.sink.frames) != 7 {
		t.Errorf("expected a published frame per step, got %d", len(h.sink.frames))
	}
	if s := h.bridge.Stats(); s.Frames != 7 || s.Inferences != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestStep_PromptChangeTriggersInference(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ProcessInterval = 100 })
	ctx := context.Background()

	h.bridge.Step(ctx) // 第 0 帧
	h.state.SetMode(prompt.ModePoint)
	h.state.AddPoint(0.5, 0.5, 1)
	h.bridge.Step(ctx)
	h.bridge.Step(ctx)

	if h.seg.calls != 2 {
		t.Errorf("expected 2 inferences, got %d", h.seg.calls)
	}
}

func TestStep_FrameFallback(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ProcessInterval = 1 })
	ctx := context.Background()

	h.bridge.Step(ctx)
	if got := h.sink.last().RGBAAt(0, 0); got != (color.RGBA{A: 255}) {
		t.Errorf("expected black frame without input, got %v", got)
	}
	if h.seg.frames[0].Seq != 0 {
		t.Error("black frame should carry seq 0")
	}

	red := color.RGBA{R: 255, A: 255}
	h.source.push(solid(4, 4, red))
	h.bridge.Step(ctx)
	if got := h.sink.last().RGBAAt(0, 0); got != red {
		t.Errorf("expected received frame, got %v", got)
	}

	// 没有新帧时复用上一帧, 且是同一个 Frame
	h.bridge.Step(ctx)
	if got := h.sink.last().RGBAAt(0, 0); got != red {
		t.Errorf("expected last frame to be reused, got %v", got)
	}
	if h.seg.frames[1] != h.seg.frames[2] {
		t.Error("reused frame should be the same value so embeddings can be cached")
	}
}

func TestStep_FailureShowsRawFrame(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ProcessInterval = 2 })
	ctx := context.Background()
	h.state.SetMode(prompt.ModePoint)
	h.state.AddPoint(0.5, 0.5, 1)
	h.source.push(solid(4, 4, color.RGBA{B: 255, A: 255}))

	mask := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	h.seg.result = &segment.Result{Masks: []segment.Mask{{Image: mask, Score: 0.9, Area: 1}}}
	h.bridge.Step(ctx) // 第 0 帧推理成功
	good := h.sink.last()
	if good.RGBAAt(0, 0).G == 0 {
		t.Fatal("expected green mask overlay")
	}

	h.bridge.Step(ctx) // 第 1 帧复用可视化
	if h.sink.last() != good {
		t.Error("expected last visualisation to be reused")
	}

	h.seg.err = errors.New("model crashed")
	h.bridge.Step(ctx) // 第 2 帧推理失败
	if got := h.sink.last().RGBAAt(0, 0); got != (color.RGBA{B: 255, A: 255}) {
		t.Errorf("expected raw frame on failure, got %v", got)
	}

	h.seg.err = nil
	h.bridge.Step(ctx) // 第 3 帧
	if h.sink.last() != good {
		t.Error("failed inference must not replace the last visualisation")
	}

	s := h.bridge.Stats()
	if s.Failures != 1 || s.Inferences != 1 || s.LastCount != 1 || s.LastScore != 0.9 {
		t.Errorf("unexpected stats %+v", s)
	}
	if len(h.reports) != 1 {
		t.Errorf("failed inference must not be reported, got %d reports", len(h.reports))
	}
}

func TestStep_NoPromptReportsZero(t *testing.T) {
	h := newHarness(t, nil)
	h.state.SetMode(prompt.ModeBox)
	h.bridge.Step(context.Background())

	if len(h.reports) != 1 || h.reports[0].Count() != 0 || h.reports[0].Mode != prompt.ModeBox {
		t.Fatalf("expected a zero-mask box report, got %+v", h.reports)
	}
	if s := h.bridge.Stats(); s.Failures != 0 {
		t.Errorf("missing prompts are not failures, got %d", s.Failures)
	}
}

func TestStep_ReportContent(t *testing.T) {
	h := newHarness(t, nil)
	h.seg.advance = 40 * time.Millisecond
	h.seg.result = &segment.Result{Masks: []segment.Mask{
		{Score: 0.5, Area: 0.1, ClassID: 3},
		{Score: 0.8, Area: 0.2, ClassID: 7},
	}}
	h.source.push(solid(4, 4, color.RGBA{A: 255}))
	h.bridge.Step(context.Background())

	r := h.reports[0]
	if r.Seq != 1 || r.Mode != prompt.ModeAuto || r.Latency != 40*time.Millisecond {
		t.Errorf("unexpected report header %+v", r)
	}
	if len(r.Masks) != 2 || r.Masks[1] != (MaskStat{Score: 0.8, Area: 0.2, ClassID: 7}) {
		t.Errorf("unexpected mask stats %+v", r.Masks)
	}

	s := h.bridge.Stats()
	if s.LatencyMean != 40*time.Millisecond || s.LatencyP95 != 40*time.Millisecond {
		t.Errorf("unexpected latency %v / %v", s.LatencyMean, s.LatencyP95)
	}
	if s.LastScore != 0.8 || s.LastCount != 2 || s.Received != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestStep_FlipAndResize(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FlipY = true })

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		src.SetRGBA(x, 0, color.RGBA{R: 255, A: 255})
	}
	h.source.push(src)
	h.bridge.Step(context.Background())

	// 推理看到的是翻转后的画面
	if got := h.seg.frames[0].Image.RGBAAt(0, 3); got.R != 255 {
		t.Errorf("expected flipped input, got %v", got)
	}
	// 输出再次翻转回纹理坐标
	if got := h.sink.last().RGBAAt(0, 0); got.R != 255 {
		t.Errorf("expected output flipped back, got %v", got)
	}

	h.source.push(solid(8, 8, color.RGBA{G: 255, A: 255}))
	h.bridge.Step(context.Background())
	if b := h.sink.last().Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("expected output resized to 4x4, got %v", b)
	}
}

func TestStep_ReporterErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var delivered int
	h := newHarness(t, func(o *Options) {
		o.Logger = zap.New(core)
		o.Reporters = []Reporter{
			ReporterFunc(func(context.Context, Report) error { return errors.New("udp down") }),
			ReporterFunc(func(context.Context, Report) error { delivered++; return nil }),
		}
	})
	h.bridge.Step(context.Background())

	if delivered != 1 {
		t.Error("a failing reporter must not block the others")
	}
	if logs.FilterMessage("发送统计失败").Len() != 1 {
		t.Error("expected reporter failure to be logged")
	}
}

func TestSetProcessInterval(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.SetProcessInterval(1)
	h.bridge.SetProcessInterval(0) // 忽略
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		h.bridge.Step(ctx)
	}
	if h.seg.calls != 4 {
		t.Errorf("expected inference on every frame, got %d", h.seg.calls)
	}
}

func TestSetStyle(t *testing.T) {
	h := newHarness(t, nil)
	style := overlay.DefaultStyle()
	style.Alpha = 0.2
	style.HUD = false
	h.bridge.SetStyle(style)
	if got := h.bridge.opts.Renderer.Style().Alpha; got != 0.2 {
		t.Errorf("expected alpha 0.2, got %f", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, nil)
	h.sink.onPub = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.bridge.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if s := h.bridge.Stats(); s.Frames != 5 {
		t.Errorf("expected 5 frames, got %d", s.Frames)
	}
}

type failingSource struct {
	fakeSource
	mu  sync.Mutex
	err error
}

func (s *failingSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *failingSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func TestStep_InputErrorSurfacesInStats(t *testing.T) {
	src := &failingSource{}
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, func(o *Options) {
		o.Source = src
		o.Logger = zap.New(core)
	})
	ctx := context.Background()

	src.push(solid(4, 4, color.RGBA{R: 9, A: 255}))
	h.bridge.Step(ctx)
	if got := h.bridge.Stats().InputError; got != "" {
		t.Fatalf("expected no input error, got %q", got)
	}

	src.fail(errors.New("ffmpeg exited"))
	h.bridge.Step(ctx)
	h.bridge.Step(ctx)
	if got := h.bridge.Stats().InputError; got != "ffmpeg exited" {
		t.Errorf("expected input error in stats, got %q", got)
	}
	if n := logs.FilterMessage("视频输入已中断, 继续输出最后一帧").Len(); n != 1 {
		t.Errorf("expected the failure to be logged once, got %d", n)
	}
	if got := h.sink.last().RGBAAt(0, 0).R; got != 9 {
		t.Errorf("expected the last frame to keep playing, got R=%d", got)
	}
}
