package texture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"go.uber.org/zap"
)

func TestBlack(t *testing.T) {
	img := Black(4, 2)
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if img.RGBAAt(3, 1) != (color.RGBA{A: 255}) {
		t.Errorf("expected opaque black, got %v", img.RGBAAt(3, 1))
	}
}

func TestFlipVertical(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 3))
	src.SetRGBA(1, 0, color.RGBA{R: 255, A: 255})
	src.SetRGBA(0, 2, color.RGBA{B: 255, A: 255})

	dst := FlipVertical(src)
	if dst.RGBAAt(1, 2) != (color.RGBA{R: 255, A: 255}) {
		t.Error("top row should move to the bottom")
	}
	if dst.RGBAAt(0, 0) != (color.RGBA{B: 255, A: 255}) {
		t.Error("bottom row should move to the top")
	}
	if src.RGBAAt(1, 0).R != 255 {
		t.Error("source must not be modified")
	}

	// 非零原点的子图
	sub := src.SubImage(image.Rect(0, 1, 2, 3)).(*image.RGBA)
	flipped := FlipVertical(sub)
	if flipped.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Fatalf("unexpected bounds %v", flipped.Bounds())
	}
	if flipped.RGBAAt(0, 0) != (color.RGBA{B: 255, A: 255}) {
		t.Error("sub image flip is wrong")
	}
}

func TestMailbox(t *testing.T) {
	mb := newMailbox()
	if _, ok := mb.take(); ok {
		t.Fatal("empty mailbox returned a frame")
	}

	mb.put(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	mb.put(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f, ok := mb.take()
	if !ok || f.Seq != 2 || f.Image.Bounds().Dx() != 2 {
		t.Fatalf("expected latest frame, got %+v", f)
	}
	if _, ok := mb.take(); ok {
		t.Error("the same frame must not be returned twice")
	}
	if s := mb.stats(); s.Received != 2 || s.Dropped != 1 {
		t.Errorf("unexpected stats %+v", s)
	}

	mb.close()
	if mb.put(image.NewRGBA(image.Rect(0, 0, 1, 1))) {
		t.Error("put after close should fail")
	}
}

func TestReadFrames(t *testing.T) {
	const w, h = 2, 2
	frameSize := w * h * 4
	data := make([]byte, frameSize*3)
	for i := range data {
		data[i] = byte(i / frameSize)
	}

	mb := newMailbox()
	if err := readFrames(context.Background(), bytes.NewReader(data), w, h, mb); err != nil {
		t.Fatal(err)
	}
	f, ok := mb.take()
	if !ok || f.Seq != 3 {
		t.Fatalf("expected third frame, got %+v", f)
	}
	if f.Image.Pix[0] != 2 {
		t.Errorf("expected pixel value 2, got %d", f.Image.Pix[0])
	}
	if s := mb.stats(); s.Dropped != 2 {
		t.Errorf("expected 2 dropped frames, got %d", s.Dropped)
	}
}

func TestReadFrames_Truncated(t *testing.T) {
	mb := newMailbox()
	err := readFrames(context.Background(), bytes.NewReader(make([]byte, 10)), 2, 2, mb)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = 7

	var buf bytes.Buffer
	if err := writeFrame(&buf, img, 2, 2); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16 || buf.Bytes()[0] != 7 {
		t.Errorf("unexpected output %v", buf.Bytes())
	}

	if err := writeFrame(&buf, img, 4, 4); err == nil {
		t.Error("expected size mismatch error")
	}

	// 带 stride 的子图逐行写入
	big := image.NewRGBA(image.Rect(0, 0, 4, 4))
	big.SetRGBA(1, 1, color.RGBA{R: 9})
	sub := big.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	buf.Reset()
	if err := writeFrame(&buf, sub, 2, 2); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16 || buf.Bytes()[0] != 9 {
		t.Errorf("unexpected sub image output %v", buf.Bytes())
	}
}

func TestOpenFallbacks(t *testing.T) {
	logger := zap.NewNop()
	src, err := OpenSource(Options{Width: 4, Height: 4}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(BlankSource); !ok {
		t.Errorf("expected BlankSource, got %T", src)
	}
	if _, ok := src.Receive(); ok {
		t.Error("blank source returned a frame")
	}

	sink, err := OpenSink(Options{Width: 4, Height: 4}, logger)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := sink.(*DiscardSink)
	if !ok {
		t.Fatalf("expected *DiscardSink, got %T", sink)
	}
	sink.Publish(Black(4, 4))
	if d.Published() != 1 {
		t.Errorf("expected 1 published frame, got %d", d.Published())
	}
}

func TestParseDShow(t *testing.T) {
	out := `[dshow @ 0000] "Integrated Camera" (video)
[dshow @ 0000]   Alternative name "@device_pnp_\\?\usb"
[dshow @ 0000] "TouchDesigner Output" (video)
[dshow @ 0000] "Microphone" (audio)
[dshow @ 0000] "Integrated Camera" (video)`
	devices := parseDShow(out)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if devices[1].Input != "video=TouchDesigner Output" || devices[1].Format != "dshow" {
		t.Errorf("unexpected device %+v", devices[1])
	}
}

func TestParseAVFoundation(t *testing.T) {
	out := `[AVFoundation indev @ 0x7f] AVFoundation video devices:
[AVFoundation indev @ 0x7f] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f] [1] Capture screen 0
[AVFoundation indev @ 0x7f] AVFoundation audio devices:
[AVFoundation indev @ 0x7f] [0] MacBook Pro Microphone`
	devices := parseAVFoundation(out)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if devices[0].Name != "FaceTime HD Camera" || devices[0].Input != "0" {
		t.Errorf("unexpected device %+v", devices[0])
	}
}
