package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/getcharzp/sam2-td/internal/texture"
)

// NewSourcesCommand 列出可用的视频输入
func NewSourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "列出本机可用的视频采集设备",
		Action: func(ctx context.Context, _ *cli.Command) error {
			devices, err := texture.ListDevices(ctx)
			if err != nil {
				return fmt.Errorf("枚举设备失败: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("未找到视频设备")
				fmt.Println("请确认:")
				fmt.Println("  1. TouchDesigner 正在运行")
				fmt.Println("  2. 已启用虚拟摄像头或视频流输出")
				fmt.Println("  3. 输出已连接到视频源")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "Name", "Format", "Input"})
			for i, d := range devices {
				t.AppendRow(table.Row{i + 1, d.Name, d.Format, d.Input})
			}
			t.AppendFooter(table.Row{"", fmt.Sprintf("共 %d 个", len(devices))})
			t.Render()
			return nil
		},
	}
}
