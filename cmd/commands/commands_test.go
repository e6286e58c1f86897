package commands

import (
	"context"
	"testing"

	"github.com/getcharzp/sam2-td/internal/config"
	"github.com/getcharzp/sam2-td/internal/oscio"
	"github.com/getcharzp/sam2-td/internal/overlay"
)

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	want := map[string]bool{"serve": false, "sources": false, "probe": false, "send": false}
	for _, c := range root.Commands {
		if _, ok := want[c.Name]; ok {
			want[c.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %s", name)
		}
	}
}

func TestListenPort(t *testing.T) {
	port, err := listenPort("0.0.0.0:7001")
	if err != nil || port != 7001 {
		t.Errorf("listenPort = %d, %v", port, err)
	}
	if _, err := listenPort("7001"); err == nil {
		t.Error("expected error without host")
	}
	if _, err := listenPort("localhost:osc"); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestTestSequence(t *testing.T) {
	if len(testSequence) != 3 {
		t.Fatalf("unexpected sequence length %d", len(testSequence))
	}
	if testSequence[0].address != oscio.AddrMode || testSequence[1].address != oscio.AddrPoint || testSequence[2].address != oscio.AddrClear {
		t.Errorf("unexpected sequence %+v", testSequence)
	}
}

func TestSend_Unreachable(t *testing.T) {
	// UDP 发送不需要对端存在
	err := NewRootCommand().Run(context.Background(), []string{"sam2-td", "send", "--port", "1", "/sam/clear"})
	if err != nil {
		t.Errorf("send returned %v", err)
	}
}

type recordingTunable struct {
	interval int
	style    *overlay.Style
}

func (r *recordingTunable) SetProcessInterval(n int) { r.interval = n }
func (r *recordingTunable) SetStyle(s overlay.Style) { r.style = &s }

func TestApplyReload(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.ProcessInterval = 10
	cfg.Overlay.Alpha = 0.3

	var got recordingTunable
	applyReload(&got, cfg, flagOverrides{})
	if got.interval != 10 {
		t.Errorf("expected interval from config 10, got %d", got.interval)
	}
	if got.style == nil || got.style.Alpha != 0.3 {
		t.Errorf("style not pushed: %+v", got.style)
	}

	// 命令行指定的 --interval 优先于配置文件
	got = recordingTunable{}
	applyReload(&got, cfg, flagOverrides{interval: 5})
	if got.interval != 5 {
		t.Errorf("expected flag interval 5 to survive reload, got %d", got.interval)
	}
}
