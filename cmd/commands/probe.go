package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/up-zero/gotool/imageutil"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/texture"
)

// NewProbeCommand 测试视频输入
func NewProbeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "接收一段时间的视频帧并统计数量",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "ffmpeg 输入 URL / 设备, 默认取配置",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "接收时长",
				Value: 10 * time.Second,
			},
			&cli.StringFlag{
				Name:  "snapshot",
				Usage: "保存最后一帧到该路径",
			},
		},
		Action: runProbe,
	}
}

func runProbe(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.IsSet("input") {
		cfg.Video.Input = cmd.String("input")
	}
	if cfg.Video.Input == "" {
		return fmt.Errorf("未配置视频输入, 请使用 --input 或配置 video.input")
	}

	source, err := texture.OpenSource(cfg.Video.Texture(), logger.Named("texture"))
	if err != nil {
		return err
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("duration"))
	defer cancel()

	logger.Info("等待视频帧", zap.String("input", cfg.Video.Input))
	var (
		count uint64
		last  *texture.Frame
	)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		frame, ok := source.Receive()
		if !ok {
			continue
		}
		count++
		last = frame
		if count == 1 {
			logger.Info("已收到第一帧", zap.Int("width", frame.Image.Rect.Dx()), zap.Int("height", frame.Image.Rect.Dy()))
		} else if count%100 == 0 {
			logger.Info("收到帧", zap.Uint64("frames", count))
		}
	}

	st := source.Stats()
	logger.Info("接收结束", zap.Uint64("frames", count), zap.Uint64("dropped", st.Dropped))
	if last == nil {
		return fmt.Errorf("%s 内没有收到任何帧", cmd.Duration("duration"))
	}
	if path := cmd.String("snapshot"); path != "" {
		img := last.Image
		if cfg.Video.FlipY {
			img = texture.FlipVertical(img)
		}
		if err := imageutil.Save(path, img, 90); err != nil {
			return fmt.Errorf("保存快照失败: %w", err)
		}
		logger.Info("快照已保存", zap.String("path", path))
	}
	return nil
}
