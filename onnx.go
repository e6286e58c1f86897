package vision

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig ONNX Runtime 会话参数，sam2 与 yolo26 引擎共用
type OnnxConfig struct {
	SessionOptions *ort.SessionOptions

	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

var (
	envMu      sync.Mutex
	envLibPath string
	envErr     error
)

// ErrLibraryMismatch 进程内已用另一个动态库初始化过 ONNX Runtime
var ErrLibraryMismatch = errors.New("ONNX Runtime 已使用其他动态库初始化")

// New 初始化 ONNX 环境并创建会话选项
//
// 运行时环境在进程内只初始化一次，之后的调用必须使用同一个动态库。
func (cfg *OnnxConfig) New() error {
	if cfg.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("OnnxRuntimeLibPath 不能为空")
	}
	if err := initEnvironment(cfg.OnnxRuntimeLibPath); err != nil {
		return err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建会话选项失败: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			options.Destroy()
			return fmt.Errorf("设置线程数失败: %w", err)
		}
	}

	// 启用CUDA
	if cfg.UseCuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	}
	cfg.SessionOptions = options

	return nil
}

// Destroy 释放会话选项
func (cfg *OnnxConfig) Destroy() {
	if cfg != nil && cfg.SessionOptions != nil {
		cfg.SessionOptions.Destroy()
		cfg.SessionOptions = nil
	}
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envLibPath != "" {
		if envLibPath != libPath {
			return fmt.Errorf("%w: %s", ErrLibraryMismatch, envLibPath)
		}
		return envErr
	}
	ort.SetSharedLibraryPath(libPath)
	envLibPath = libPath
	if err := ort.InitializeEnvironment(); err != nil {
		envErr = fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", err)
	}
	return envErr
}

// CheckFiles 检查动态库与模型文件是否存在
func CheckFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("文件不可用 %s: %w", p, err)
		}
	}
	return nil
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	return libraryPath("./lib/", runtime.GOOS, runtime.GOARCH)
}

func libraryPath(baseDir, goos, goarch string) string {
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if goos == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch goos {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// ./lib/onnxruntime_arm64.dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, goarch, ext)
}
