// Package status 提供运行状态的 HTTP 查询
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/bridge"
	"github.com/getcharzp/sam2-td/internal/prompt"
)

// StatsProvider 运行统计来源, *bridge.Bridge 实现了该接口
type StatsProvider interface {
	Stats() bridge.Stats
}

// Server 状态服务
type Server struct {
	httpServer *http.Server
	stats      StatsProvider
	prompts    *prompt.State
	start      time.Time
	logger     *zap.Logger
}

// NewServer 创建状态服务, prompts 可为空
func NewServer(addr string, stats StatsProvider, prompts *prompt.State, logger *zap.Logger) *Server {
	s := &Server{
		stats:   stats,
		prompts: prompts,
		start:   time.Now(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/prompt", s.handlePrompt)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 路由, 供测试使用
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve 监听并阻塞, ctx 取消后优雅关闭
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("状态服务已启动", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "alive",
		"uptime": time.Since(s.start).Seconds(),
	})
}

type statusJSON struct {
	bridge.Stats
	LatencyMeanMS float64 `json:"latency_mean_ms"`
	LatencyP95MS  float64 `json:"latency_p95_ms"`
	UptimeSeconds float64 `json:"uptime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.stats.Stats()
	writeJSON(w, statusJSON{
		Stats:         st,
		LatencyMeanMS: float64(st.LatencyMean) / float64(time.Millisecond),
		LatencyP95MS:  float64(st.LatencyP95) / float64(time.Millisecond),
		UptimeSeconds: st.Uptime.Seconds(),
	})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		http.Error(w, "prompt state not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.prompts.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
