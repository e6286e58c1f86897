package texture

import (
	"image"
	"sync/atomic"
)

// BlankSource 没有配置输入时使用, 永远没有新帧
type BlankSource struct{}

func (BlankSource) Receive() (*Frame, bool) { return nil, false }
func (BlankSource) Stats() SourceStats     { return SourceStats{} }
func (BlankSource) Close() error           { return nil }

// DiscardSink 丢弃所有输出, 只计数
type DiscardSink struct {
	published atomic.Uint64
}

func (s *DiscardSink) Publish(*image.RGBA) error {
	s.published.Add(1)
	return nil
}

// Published 已输出的帧数
func (s *DiscardSink) Published() uint64 {
	return s.published.Load()
}

func (s *DiscardSink) Close() error { return nil }
