package oscio

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hypebeast/go-osc/osc"
	"go.uber.org/zap"
)

const maxPacketSize = 65535

// Server OSC 接收服务
//
// 与 osc.Server 不同, 数据包按到达顺序在同一个协程内依次分发,
// 保证 /sam/mode 与随后的 /sam/point 不会乱序。
type Server struct {
	conn       net.PacketConn
	dispatcher osc.Dispatcher
	logger     *zap.Logger
}

// Listen 在 addr (如 "0.0.0.0:7001") 上监听 UDP
func Listen(addr string, d osc.Dispatcher, logger *zap.Logger) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听 OSC 端口失败: %w", err)
	}
	return &Server{conn: conn, dispatcher: d, logger: logger}, nil
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve 循环读取并分发数据包, ctx 取消后返回 nil
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("OSC 服务已启动", zap.Stringer("addr", s.Addr()))
	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("读取 OSC 数据失败: %w", err)
		}
		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			s.logger.Warn("解析 OSC 数据包失败", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		s.dispatcher.Dispatch(packet)
	}
}

// Close 关闭监听
func (s *Server) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
