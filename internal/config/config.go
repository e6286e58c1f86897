// Package config 读取 YAML 配置, 支持 ${VAR} 环境变量替换与热更新
package config

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/a8m/envsubst"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/getcharzp/sam2-td"
	"github.com/getcharzp/sam2-td/internal/overlay"
	"github.com/getcharzp/sam2-td/internal/segment"
	"github.com/getcharzp/sam2-td/internal/texture"
	"github.com/getcharzp/sam2-td/sam2"
	"github.com/getcharzp/sam2-td/yolo26"
)

// Config 全部配置
type Config struct {
	Video   VideoConfig   `yaml:"video"`
	OSC     OSCConfig     `yaml:"osc"`
	Model   ModelConfig   `yaml:"model"`
	Loop    LoopConfig    `yaml:"loop"`
	Overlay OverlayConfig `yaml:"overlay"`
	Status  StatusConfig  `yaml:"status"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// VideoConfig 视频通道
type VideoConfig struct {
	Width      int               `yaml:"width"`
	Height     int               `yaml:"height"`
	InputName  string            `yaml:"input_name"`  // TouchDesigner 端的输出名称
	OutputName string            `yaml:"output_name"` // TouchDesigner 端的输入名称
	Input      string            `yaml:"input"`       // ffmpeg 输入 URL / 设备, 为空则输出黑帧
	InputArgs  map[string]string `yaml:"input_args"`
	Output     string            `yaml:"output"` // ffmpeg 输出 URL, 为空则丢弃
	OutputArgs map[string]string `yaml:"output_args"`
	FlipY      bool              `yaml:"flip_y"`
}

// OSCConfig 控制与统计端口
type OSCConfig struct {
	Listen   string `yaml:"listen"`
	SendHost string `yaml:"send_host"`
	SendPort int    `yaml:"send_port"`
}

// ModelConfig 分割后端
type ModelConfig struct {
	Backend       string        `yaml:"backend"` // local, remote, none
	OnnxRuntime   string        `yaml:"onnxruntime_lib"`
	Encoder       string        `yaml:"encoder"`
	Decoder       string        `yaml:"decoder"`
	AutoModel     string        `yaml:"auto_model"` // yolo26-seg, 为空时 auto 模式不输出掩码
	RemoteURL     string        `yaml:"remote_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	UseCuda       bool          `yaml:"use_cuda"`
	NumThreads    int           `yaml:"num_threads"`
}

// LoopConfig 帧循环节奏
type LoopConfig struct {
	ProcessInterval int           `yaml:"process_interval"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	StatusEvery     int           `yaml:"status_every"`
}

// OverlayConfig 可视化样式
type OverlayConfig struct {
	PointMask string  `yaml:"point_mask"`
	BoxMask   string  `yaml:"box_mask"`
	Positive  string  `yaml:"positive"`
	Negative  string  `yaml:"negative"`
	BoxLine   string  `yaml:"box_line"`
	Alpha     float64 `yaml:"alpha"`
	Radius    float64 `yaml:"radius"`
	BoxWidth  float64 `yaml:"box_width"`
	HUD       bool    `yaml:"hud"`
	Font      string  `yaml:"font"`
}

// StatusConfig HTTP 状态服务, Listen 为空时不启动
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig 统计镜像, Broker 为空时不启用
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"` // console, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default 默认配置: 1920x1080, OSC 收 7001 发 7000, 每 30 帧推理一次
func Default() *Config {
	samCfg := sam2.DefaultConfig()
	return &Config{
		Video: VideoConfig{
			Width:      1920,
			Height:     1080,
			InputName:  "TD Video Out",
			OutputName: "SAM 2 Masks",
		},
		OSC: OSCConfig{
			Listen:   "0.0.0.0:7001",
			SendHost: "127.0.0.1",
			SendPort: 7000,
		},
		Model: ModelConfig{
			Backend:       segment.BackendLocal,
			OnnxRuntime:   vision.DefaultLibraryPath(),
			Encoder:       samCfg.EncodeModelPath,
			Decoder:       samCfg.DecodeModelPath,
			RemoteTimeout: 10 * time.Second,
		},
		Loop: LoopConfig{
			ProcessInterval: 30,
			IdleSleep:       time.Millisecond,
			StatusEvery:     300,
		},
		Overlay: OverlayConfig{
			PointMask: "#00ff00",
			BoxMask:   "#00ffff",
			Positive:  "#00ff00",
			Negative:  "#ff0000",
			BoxLine:   "#00ffff",
			Alpha:     0.5,
			Radius:    8,
			BoxWidth:  2,
			HUD:       true,
		},
		MQTT: MQTTConfig{
			Topic: "sam2td/stats",
		},
		Log: LogConfig{
			Level:      "info",
			Encoding:   "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load 读取配置文件, 文件不存在时返回默认配置
//
// 文件中未出现的字段保留默认值。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := envsubst.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 把显式写成 0 的必要字段恢复为默认值
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Loop.ProcessInterval <= 0 {
		cfg.Loop.ProcessInterval = def.Loop.ProcessInterval
	}
	if cfg.Loop.StatusEvery <= 0 {
		cfg.Loop.StatusEvery = def.Loop.StatusEvery
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = def.Model.Backend
	}
	if cfg.Model.OnnxRuntime == "" {
		cfg.Model.OnnxRuntime = def.Model.OnnxRuntime
	}
	if cfg.Model.RemoteTimeout <= 0 {
		cfg.Model.RemoteTimeout = def.Model.RemoteTimeout
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = def.MQTT.Topic
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = def.Log.Encoding
	}
}

// Validate 检查配置, 返回所有问题
func (c *Config) Validate() error {
	var err error
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("video: 尺寸无效 %dx%d", c.Video.Width, c.Video.Height))
	}
	if _, _, e := net.SplitHostPort(c.OSC.Listen); e != nil {
		err = multierr.Append(err, fmt.Errorf("osc.listen: %w", e))
	}
	if c.OSC.SendHost == "" {
		err = multierr.Append(err, errors.New("osc.send_host 不能为空"))
	}
	if c.OSC.SendPort <= 0 || c.OSC.SendPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("osc.send_port 超出范围: %d", c.OSC.SendPort))
	}
	switch c.Model.Backend {
	case segment.BackendLocal:
		if c.Model.Encoder == "" || c.Model.Decoder == "" {
			err = multierr.Append(err, errors.New("model: local 后端需要 encoder 与 decoder"))
		}
	case segment.BackendRemote:
		if c.Model.RemoteURL == "" {
			err = multierr.Append(err, errors.New("model: remote 后端需要 remote_url"))
		}
	case segment.BackendNone:
	default:
		err = multierr.Append(err, fmt.Errorf("model.backend 不支持: %q", c.Model.Backend))
	}
	if c.Model.NumThreads < 0 {
		err = multierr.Append(err, fmt.Errorf("model.num_threads 不能为负: %d", c.Model.NumThreads))
	}
	if c.Loop.IdleSleep < 0 {
		err = multierr.Append(err, fmt.Errorf("loop.idle_sleep 不能为负: %s", c.Loop.IdleSleep))
	}
	if _, e := c.Overlay.Style(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Status.Listen != "" {
		if _, _, e := net.SplitHostPort(c.Status.Listen); e != nil {
			err = multierr.Append(err, fmt.Errorf("status.listen: %w", e))
		}
	}
	if _, e := zapcore.ParseLevel(c.Log.Level); e != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", e))
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		err = multierr.Append(err, fmt.Errorf("log.encoding 不支持: %q", c.Log.Encoding))
	}
	if err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	return nil
}

// Style 转换为绘制样式
func (o OverlayConfig) Style() (overlay.Style, error) {
	style := overlay.DefaultStyle()
	var err error
	colors := []struct {
		name string
		hex  string
		dst  *color.RGBA
	}{
		{"point_mask", o.PointMask, &style.PointMask},
		{"box_mask", o.BoxMask, &style.BoxMask},
		{"positive", o.Positive, &style.Positive},
		{"negative", o.Negative, &style.Negative},
		{"box_line", o.BoxLine, &style.BoxLine},
	}
	for _, c := range colors {
		v, e := overlay.ParseColor(c.hex)
		if e != nil {
			err = multierr.Append(err, fmt.Errorf("overlay.%s: %w", c.name, e))
			continue
		}
		*c.dst = v
	}

	if o.Alpha < 0 || o.Alpha > 1 {
		err = multierr.Append(err, fmt.Errorf("overlay.alpha 超出 [0,1]: %g", o.Alpha))
	}
	if o.Radius < 0 || o.BoxWidth < 0 {
		err = multierr.Append(err, errors.New("overlay.radius / box_width 不能为负"))
	}
	style.Alpha = o.Alpha
	style.Radius = o.Radius
	style.BoxWidth = o.BoxWidth
	style.HUD = o.HUD
	return style, err
}

// SAM2 本地模型参数
func (m ModelConfig) SAM2() sam2.Config {
	return sam2.Config{
		OnnxRuntimeLibPath: m.OnnxRuntime,
		EncodeModelPath:    m.Encoder,
		DecodeModelPath:    m.Decoder,
		UseCuda:            m.UseCuda,
		NumThreads:         m.NumThreads,
	}
}

// SegmentOptions 分割后端参数
func (m ModelConfig) SegmentOptions() segment.Options {
	opts := segment.Options{
		Backend:   m.Backend,
		SAM2:      m.SAM2(),
		RemoteURL: m.RemoteURL,
		Timeout:   m.RemoteTimeout,
	}
	if m.AutoModel != "" {
		auto := yolo26.DefaultSegConfig()
		auto.ModelPath = m.AutoModel
		auto.OnnxRuntimeLibPath = m.OnnxRuntime
		auto.UseCuda = m.UseCuda
		auto.NumThreads = m.NumThreads
		opts.Auto = &auto
	}
	return opts
}

// Exists 配置文件是否存在
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Texture 视频通道参数
func (v VideoConfig) Texture() texture.Options {
	return texture.Options{
		Width:      v.Width,
		Height:     v.Height,
		Input:      v.Input,
		InputArgs:  v.InputArgs,
		Output:     v.Output,
		OutputArgs: v.OutputArgs,
	}
}
