package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/getcharzp/sam2-td/internal/bridge"
	"github.com/getcharzp/sam2-td/internal/config"
	"github.com/getcharzp/sam2-td/internal/emitter"
	"github.com/getcharzp/sam2-td/internal/oscio"
	"github.com/getcharzp/sam2-td/internal/overlay"
	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/segment"
	"github.com/getcharzp/sam2-td/internal/status"
	"github.com/getcharzp/sam2-td/internal/texture"
)

// NewServeCommand 运行桥接服务
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "接收视频与 OSC 提示, 输出分割画面与统计",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "interval",
				Usage: "每 N 帧推理一次",
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "ffmpeg 输入 URL / 设备",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "ffmpeg 输出 URL",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) (err error) {
	cfg, logger, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var overrides flagOverrides
	if cmd.IsSet("interval") {
		overrides.interval = int(cmd.Int("interval"))
		cfg.Loop.ProcessInterval = overrides.interval
	}
	if cmd.IsSet("input") {
		cfg.Video.Input = cmd.String("input")
	}
	if cmd.IsSet("output") {
		cfg.Video.Output = cmd.String("output")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var closers []func() error
	defer func() {
		var closeErr error
		for i := len(closers) - 1; i >= 0; i-- {
			closeErr = multierr.Append(closeErr, closers[i]())
		}
		if closeErr != nil {
			logger.Warn("释放资源失败", zap.Error(closeErr))
		}
	}()

	logger.Info("加载分割模型", zap.String("backend", cfg.Model.Backend))
	seg, err := segment.Open(cfg.Model.SegmentOptions(), logger.Named("segment"))
	if err != nil {
		return err
	}
	closers = append(closers, seg.Close)

	texLogger := logger.Named("texture")
	source, err := texture.OpenSource(cfg.Video.Texture(), texLogger)
	if err != nil {
		return err
	}
	closers = append(closers, source.Close)
	texLogger.Info("视频输入", zap.String("name", cfg.Video.InputName), zap.String("input", cfg.Video.Input))

	sink, err := texture.OpenSink(cfg.Video.Texture(), texLogger)
	if err != nil {
		return err
	}
	closers = append(closers, sink.Close)
	texLogger.Info("视频输出", zap.String("name", cfg.Video.OutputName), zap.String("output", cfg.Video.Output))

	style, err := cfg.Overlay.Style()
	if err != nil {
		return err
	}
	renderer, err := overlay.NewRenderer(style, cfg.Overlay.Font)
	if err != nil {
		return err
	}
	closers = append(closers, func() error { renderer.Close(); return nil })

	state := prompt.NewState(cfg.Video.Width, cfg.Video.Height)
	oscLogger := logger.Named("osc")
	oscServer, err := oscio.Listen(cfg.OSC.Listen, oscio.NewRouter(state, oscLogger), oscLogger)
	if err != nil {
		return err
	}
	closers = append(closers, oscServer.Close)

	reporters := []bridge.Reporter{oscio.NewPublisher(cfg.OSC.SendHost, cfg.OSC.SendPort, oscLogger)}
	if cfg.MQTT.Broker != "" {
		mq, err := emitter.NewMQTT(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("MQTT 不可用, 仅发送 OSC 统计", zap.Error(err))
		} else {
			closers = append(closers, mq.Close)
			reporters = append(reporters, mq)
		}
	}

	b, err := bridge.New(bridge.Options{
		Width:           cfg.Video.Width,
		Height:          cfg.Video.Height,
		FlipY:           cfg.Video.FlipY,
		ProcessInterval: cfg.Loop.ProcessInterval,
		IdleSleep:       cfg.Loop.IdleSleep,
		StatusEvery:     cfg.Loop.StatusEvery,
		State:           state,
		Source:          source,
		Sink:            sink,
		Segmenter:       seg,
		Renderer:        renderer,
		Reporters:       reporters,
		Logger:          logger.Named("bridge"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return oscServer.Serve(gctx) })
	if cfg.Status.Listen != "" {
		srv := status.NewServer(cfg.Status.Listen, b, state, logger.Named("status"))
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if path := cmd.String("config"); config.Exists(path) {
		g.Go(func() error {
			return config.Watch(gctx, path, logger.Named("config"), func(c *config.Config) {
				applyReload(b, c, overrides)
			})
		})
	}

	printBanner(cfg)
	err = g.Wait()
	logger.Info("已退出", zap.Uint64("total_frames", b.Stats().Frames))
	return err
}

// flagOverrides 命令行指定的运行参数, 配置热更新时保持不变
type flagOverrides struct {
	interval int
}

// tunable 可在运行中修改的参数, *bridge.Bridge 实现了该接口
type tunable interface {
	SetProcessInterval(n int)
	SetStyle(style overlay.Style)
}

// applyReload 把重新加载的配置推送到运行中的帧循环
func applyReload(t tunable, c *config.Config, o flagOverrides) {
	interval := c.Loop.ProcessInterval
	if o.interval > 0 {
		interval = o.interval
	}
	t.SetProcessInterval(interval)
	if style, err := c.Overlay.Style(); err == nil {
		t.SetStyle(style)
	}
}

func printBanner(cfg *config.Config) {
	line := strings.Repeat("=", 70)
	fmt.Println(line)
	fmt.Println("TouchDesigner 设置:")
	fmt.Printf("  1. 视频输出 '%s' -> %s\n", cfg.Video.InputName, orNone(cfg.Video.Input))
	fmt.Printf("  2. 视频输入 '%s' <- %s\n", cfg.Video.OutputName, orNone(cfg.Video.Output))
	fmt.Printf("  3. OSC Out DAT - 端口: %s\n", cfg.OSC.Listen)
	fmt.Println("     命令: /sam/mode <auto|point|box>")
	fmt.Println("           /sam/point <x> <y> <label>")
	fmt.Println("           /sam/box <x1> <y1> <x2> <y2>")
	fmt.Println("           /sam/clear")
	fmt.Printf("  4. OSC In CHOP - 端口: %d\n", cfg.OSC.SendPort)
	fmt.Println(line)
	fmt.Println("按 Ctrl+C 退出")
}

func orNone(s string) string {
	if s == "" {
		return "(未配置)"
	}
	return s
}
