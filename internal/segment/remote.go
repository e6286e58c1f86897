package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/prompt"
	"github.com/getcharzp/sam2-td/internal/texture"
)

const defaultRemoteTimeout = 10 * time.Second

// remoteRequest 发送给远程 SAM 2 服务的请求
type remoteRequest struct {
	Mode      prompt.Mode `json:"mode"`
	Points    [][2]int    `json:"points,omitempty"`
	Labels    []int       `json:"labels,omitempty"`
	Box       []int       `json:"box,omitempty"` // x1, y1, x2, y2
	Multimask bool        `json:"multimask"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Image     string      `json:"image"` // base64 JPEG
}

type remoteMask struct {
	Score   float32 `json:"score"`
	ClassID int     `json:"class_id"`
	PNG     string  `json:"png"` // base64 灰度 PNG
}

type remoteResponse struct {
	Masks []remoteMask `json:"masks"`
	Error string       `json:"error,omitempty"`
}

// Remote 通过 websocket 调用远程 SAM 2 服务, 连接断开后下次调用时重连
type Remote struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemote 创建远程后端, 不会立即建立连接
func NewRemote(url string, timeout time.Duration, logger *zap.Logger) (*Remote, error) {
	if url == "" {
		return nil, fmt.Errorf("远程服务地址不能为空")
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		url:     url,
		timeout: timeout,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}, nil
}

func (r *Remote) Segment(ctx context.Context, frame *texture.Frame, snap prompt.Snapshot) (*Result, error) {
	req, err := newRemoteRequest(frame, snap)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := roundTrip(ctx, conn, req)
	if err != nil {
		r.drop()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("远程服务返回错误: %s", resp.Error)
	}

	b := frame.Image.Bounds()
	res := &Result{Masks: make([]Mask, 0, len(resp.Masks))}
	for i, m := range resp.Masks {
		img, err := decodeMaskPNG(m.PNG)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 个 mask 失败: %w", i, err)
		}
		if img.Bounds().Dx() != b.Dx() || img.Bounds().Dy() != b.Dy() {
			return nil, fmt.Errorf("mask 尺寸 %v 与画面 %v 不一致", img.Bounds().Size(), b.Size())
		}
		res.Masks = append(res.Masks, Mask{
			Image:   img,
			Score:   m.Score,
			Area:    grayArea(img),
			ClassID: m.ClassID,
		})
	}
	return res, nil
}

func newRemoteRequest(frame *texture.Frame, snap prompt.Snapshot) (*remoteRequest, error) {
	req := &remoteRequest{Mode: snap.Mode}
	switch snap.Mode {
	case prompt.ModeAuto:
	case prompt.ModePoint:
		if len(snap.Points) == 0 {
			return nil, ErrNoPrompt
		}
		req.Multimask = true
		for _, p := range snap.Points {
			label := 0
			if p.Positive {
				label = 1
			}
			req.Points = append(req.Points, [2]int{p.X, p.Y})
			req.Labels = append(req.Labels, label)
		}
	case prompt.ModeBox:
		if snap.Box == nil {
			return nil, ErrNoPrompt
		}
		req.Box = []int{snap.Box.X1, snap.Box.Y1, snap.Box.X2, snap.Box.Y2}
	default:
		return nil, ErrNoPrompt
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("JPEG 编码失败: %w", err)
	}
	b := frame.Image.Bounds()
	req.Width, req.Height = b.Dx(), b.Dy()
	req.Image = base64.StdEncoding.EncodeToString(buf.Bytes())
	return req, nil
}

func (r *Remote) connect(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("连接远程服务失败: %w", err)
	}
	r.logger.Info("已连接远程分割服务", zap.String("url", r.url))
	r.conn = conn
	return conn, nil
}

func roundTrip(ctx context.Context, conn *websocket.Conn, req *remoteRequest) (*remoteResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	var resp remoteResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &resp, nil
}

func (r *Remote) drop() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
		r.logger.Warn("远程连接已断开, 下次调用时重连")
	}
}

func decodeMaskPNG(s string) (*image.Gray, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g, nil
}

// Close 关闭连接
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.conn.Close()
	r.conn = nil
	return err
}
