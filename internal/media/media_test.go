package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4/pkg/media"
)

func writeImage(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := range 4 {
		for y := range 4 {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if filepath.Ext(path) == ".png" {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
}

func TestFrameDirCycles(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b.png"), color.White)
	writeImage(t, filepath.Join(dir, "a.jpg"), color.Black)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	frames, err := OpenFrames(dir)
	if err != nil {
		t.Fatal(err)
	}
	if frames.Len() != 2 {
		t.Fatalf("loaded %d frames", frames.Len())
	}

	var bounds []image.Rectangle
	for range 3 {
		img, ok := frames.Frame()
		if !ok {
			t.Fatal("no frame")
		}
		bounds = append(bounds, img.Bounds())
	}
	want := image.Rect(0, 0, 4, 4)
	if diff := cmp.Diff([]image.Rectangle{want, want, want}, bounds); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}
}

func TestOpenFramesEmpty(t *testing.T) {
	if _, err := OpenFrames(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if _, err := OpenFrames(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestFrameDirSkipsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	frames, err := OpenFrames(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frames.Frame(); ok {
		t.Fatal("corrupt frame decoded")
	}
}

// buildIVF returns an IVF file with the given VP8 frames and a 1ms timebase.
func buildIVF(frames ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString("VP80")
	binary.Write(&buf, binary.LittleEndian, uint16(4))    // width
	binary.Write(&buf, binary.LittleEndian, uint16(4))    // height
	binary.Write(&buf, binary.LittleEndian, uint32(1000)) // timebase denominator
	binary.Write(&buf, binary.LittleEndian, uint32(1))    // timebase numerator
	binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	for i, f := range frames {
		binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(f)
	}
	return buf.Bytes()
}

func TestStreamIVF(t *testing.T) {
	want := [][]byte{{1, 2, 3}, {4, 5}, {6}}
	var got [][]byte
	err := streamIVF(context.Background(), bytes.NewReader(buildIVF(want...)), clockwork.NewRealClock(), func(s media.Sample) error {
		if s.Duration != time.Millisecond {
			t.Errorf("sample duration %v", s.Duration)
		}
		got = append(got, append([]byte(nil), s.Data...))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}
}

func TestStreamIVFBadHeader(t *testing.T) {
	err := streamIVF(context.Background(), bytes.NewReader([]byte("garbage")), clockwork.NewRealClock(), func(media.Sample) error { return nil })
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestStreamIVFWriteError(t *testing.T) {
	boom := errors.New("track closed")
	err := streamIVF(context.Background(), bytes.NewReader(buildIVF([]byte{1})), clockwork.NewRealClock(), func(media.Sample) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamIVFWithoutFrames(t *testing.T) {
	err := streamIVF(context.Background(), bytes.NewReader(buildIVF()), clockwork.NewRealClock(), func(media.Sample) error { return nil })
	if !errors.Is(err, errNoSamples) {
		t.Fatalf("err = %v, want errNoSamples", err)
	}
}

func TestLocalStopsLoopingEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ivf")
	if err := os.WriteFile(path, buildIVF(), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewLocal(LocalOptions{VideoFile: path})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Stop()
	l.Start()

	// The feed gives up on its own, before Stop cancels it.
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed kept reopening a file without frames")
	}
	if !l.Live() {
		t.Fatal("local media stopped by a bad file")
	}
}

func TestLocalLifecycle(t *testing.T) {
	l, err := NewLocal(LocalOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !l.Live() {
		t.Fatal("new local media not live")
	}
	l.Stop()
	l.Stop()
	if l.Live() {
		t.Fatal("stopped media still live")
	}
	if err := l.Attach(nil); err == nil {
		t.Fatal("attach after stop should fail")
	}
}

func TestLocalLoopsVideoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	if err := os.WriteFile(path, buildIVF([]byte{1}, []byte{2}), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewLocal(LocalOptions{VideoFile: path})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not end the feed")
	}
}

func TestRemoteDrain(t *testing.T) {
	var r Remote
	packets := [][]byte{make([]byte, 100), make([]byte, 50)}
	r.drain(func(buf []byte) (int, error) {
		if len(packets) == 0 {
			return 0, io.EOF
		}
		n := copy(buf, packets[0])
		packets = packets[1:]
		return n, nil
	})
	if r.Packets() != 2 || r.Bytes() != 150 || r.Tracks() != 0 {
		t.Fatalf("packets %d bytes %d tracks %d", r.Packets(), r.Bytes(), r.Tracks())
	}
}
