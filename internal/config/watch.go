package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDelay = 200 * time.Millisecond

// Watch 监听配置文件变化, 每次成功加载后调用 fn
//
// 编辑器保存时通常会产生多个事件, 这里合并为一次加载。
// 监听的是所在目录, 以便覆盖 "写临时文件再改名" 的保存方式。
func Watch(ctx context.Context, path string, logger *zap.Logger, fn func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("解析配置路径失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("监听配置目录失败: %w", err)
	}

	reload := func() {
		cfg, err := Load(abs)
		if err != nil {
			logger.Warn("配置重新加载失败, 保持当前配置", zap.Error(err))
			return
		}
		logger.Info("配置已重新加载", zap.String("path", abs))
		fn(cfg)
	}
	debounced := debounce.New(reloadDelay)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounced(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("配置监听出错", zap.Error(err))
		}
	}
}
