package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getcharzp/sam2-td/cmd/commands"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 第一次中断优雅退出, 第二次强制退出
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "\n收到中断信号, 正在退出...")
		cancel()
		<-sig
		fmt.Fprintln(os.Stderr, "强制退出")
		os.Exit(1)
	}()

	if err := commands.NewRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
