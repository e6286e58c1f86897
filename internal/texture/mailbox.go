package texture

import (
	"image"
	"sync"
	"time"
)

// mailbox 只保留最新一帧, 读者跟不上时旧帧直接丢弃
type mailbox struct {
	mu      sync.Mutex
	frame   *Frame
	fresh   bool
	seq     uint64
	dropped uint64
	closed  bool
	now     func() time.Time
}

func newMailbox() *mailbox {
	return &mailbox{now: time.Now}
}

// put 放入新帧, 返回 false 表示已关闭
func (m *mailbox) put(img *image.RGBA) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.fresh {
		m.dropped++
	}
	m.seq++
	m.frame = &Frame{Image: img, Seq: m.seq, At: m.now()}
	m.fresh = true
	return true
}

// take 取走最新帧, 同一帧只返回一次
func (m *mailbox) take() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fresh {
		return nil, false
	}
	m.fresh = false
	return m.frame, true
}

func (m *mailbox) stats() SourceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SourceStats{Received: m.seq, Dropped: m.dropped}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.fresh = false
	m.frame = nil
}
