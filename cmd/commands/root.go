// Package commands 命令行入口
package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/config"
	"github.com/getcharzp/sam2-td/internal/logging"
)

// DefaultConfigPath 默认配置文件
const DefaultConfigPath = "sam2-td.yaml"

// NewRootCommand 根命令
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sam2-td",
		Usage: "TouchDesigner 与 SAM 2 之间的实时分割桥接",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				Value:   DefaultConfigPath,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "输出调试日志",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewSourcesCommand(),
			NewProbeCommand(),
			NewSendCommand(),
		},
	}
}

// setup 读取配置并创建日志
func setup(_ context.Context, cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志失败: %w", err)
	}
	if !config.Exists(cmd.String("config")) {
		logger.Info("未找到配置文件, 使用默认配置", zap.String("path", cmd.String("config")))
	}
	return cfg, logger, nil
}
