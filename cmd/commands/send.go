package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/getcharzp/sam2-td/internal/oscio"
)

// NewSendCommand 发送 OSC 测试消息
func NewSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "向桥接服务发送 OSC 消息, 不带参数时发送测试序列",
		ArgsUsage: "[address [args...]]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "目标地址",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "目标端口, 默认取 osc.listen",
			},
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "测试序列中每条消息的间隔",
				Value: 500 * time.Millisecond,
			},
		},
		Action: runSend,
	}
}

type oscStep struct {
	desc    string
	address string
	args    []any
}

// testSequence 切换到点模式, 在画面中心加一个点, 然后清空
var testSequence = []oscStep{
	{"切换到 point 模式", oscio.AddrMode, []any{"point"}},
	{"在 (0.5, 0.5) 添加点", oscio.AddrPoint, []any{float32(0.5), float32(0.5), int32(1)}},
	{"清空提示", oscio.AddrClear, nil},
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	host := cmd.String("host")
	port := int(cmd.Int("port"))
	if !cmd.IsSet("port") {
		cfg, logger, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		logger.Sync()
		if port, err = listenPort(cfg.OSC.Listen); err != nil {
			return err
		}
	}

	if cmd.Args().Len() > 0 {
		args := cmd.Args().Slice()
		if err := oscio.Send(host, port, args[0], oscio.ParseArgs(args[1:])...); err != nil {
			return err
		}
		fmt.Printf("已发送 %s %v 到 %s:%d\n", args[0], args[1:], host, port)
		return nil
	}

	fmt.Printf("测试 OSC 连接 %s:%d, 请确认服务已启动\n", host, port)
	for i, step := range testSequence {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cmd.Duration("delay")):
			}
		}
		fmt.Printf("%d. %s\n", i+1, step.desc)
		if err := oscio.Send(host, port, step.address, step.args...); err != nil {
			return err
		}
	}
	fmt.Println("完成, 请查看服务端日志")
	return nil
}

// listenPort 从 "host:port" 中取端口
func listenPort(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("osc.listen 无效: %w", err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("osc.listen 端口无效: %w", err)
	}
	return port, nil
}
