package texture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
)

// Device 可作为输入的采集设备
type Device struct {
	Name   string
	Format string // ffmpeg 的 -f 参数
	Input  string // 传给 ffmpeg -i 的值
}

var (
	dshowVideoRe = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)
	avfVideoRe   = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s+\[(\d+)\]\s+(.+)`)
)

// ListDevices 列出本机的视频采集设备
//
// Windows 使用 dshow, macOS 使用 avfoundation, 其余系统枚举 /dev/video*。
func ListDevices(ctx context.Context) ([]Device, error) {
	switch runtime.GOOS {
	case "windows":
		out, err := listWithFFmpeg(ctx, "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		if err != nil {
			return nil, err
		}
		return parseDShow(out), nil
	case "darwin":
		out, err := listWithFFmpeg(ctx, "-f", "avfoundation", "-list_devices", "true", "-i", "")
		if err != nil {
			return nil, err
		}
		return parseAVFoundation(out), nil
	default:
		paths, err := filepath.Glob("/dev/video*")
		if err != nil {
			return nil, fmt.Errorf("枚举视频设备失败: %w", err)
		}
		sort.Strings(paths)
		devices := make([]Device, 0, len(paths))
		for _, p := range paths {
			devices = append(devices, Device{Name: filepath.Base(p), Format: "v4l2", Input: p})
		}
		return devices, nil
	}
}

// listWithFFmpeg 设备列表输出在 stderr, 且 ffmpeg 总是以非 0 退出
func listWithFFmpeg(ctx context.Context, args ...string) (string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", fmt.Errorf("未找到 ffmpeg: %w", err)
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", append([]string{"-hide_banner"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	return stderr.String(), nil
}

func parseDShow(output string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	for _, m := range dshowVideoRe.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name == "dummy" || seen[name] {
			continue
		}
		seen[name] = true
		devices = append(devices, Device{Name: name, Format: "dshow", Input: "video=" + name})
	}
	return devices
}

func parseAVFoundation(output string) []Device {
	var devices []Device
	audio := false
	for _, line := range bytes.Split([]byte(output), []byte("\n")) {
		if bytes.Contains(line, []byte("audio devices")) {
			audio = true
		}
		if audio {
			continue
		}
		m := avfVideoRe.FindSubmatch(line)
		if m == nil {
			continue
		}
		devices = append(devices, Device{
			Name:   string(bytes.TrimSpace(m[2])),
			Format: "avfoundation",
			Input:  string(m[1]),
		})
	}
	return devices
}
