package classifier

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), A: 255})
		}
	}
	return img
}

func TestProcessFrame(t *testing.T) {
	var got frameRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/process_frame" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Write([]byte(`{"word_in_image": true}`))
	}))
	defer srv.Close()

	frame, err := EncodeFrame(testImage())
	if err != nil {
		t.Fatal(err)
	}
	found, err := NewClient(srv.URL+"/", nil).ProcessFrame(context.Background(), "cup", frame)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected word_in_image")
	}
	if got.Word != "cup" || !strings.HasPrefix(got.Frame, "data:image/jpeg;base64,") {
		t.Fatalf("request body %+v", got.Word)
	}
}

func TestProcessFrameHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).ProcessFrame(context.Background(), "cup", "data:")
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessFrameBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, nil).ProcessFrame(context.Background(), "cup", "data:"); err == nil {
		t.Fatal("expected decode error")
	}
}
