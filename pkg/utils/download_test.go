package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestFetchAvatarCaches(t *testing.T) {
	data := pngBytes(t)
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write(data)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	img, err := FetchAvatar(srv.URL+"/jeremy.png", cacheDir)
	if err != nil {
		t.Fatalf("FetchAvatar failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("Decoded bounds = %v", b)
	}

	// Second fetch must come from disk.
	if _, err := FetchAvatar(srv.URL+"/jeremy.png", cacheDir); err != nil {
		t.Fatalf("Cached fetch failed: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("Server hits = %d, want 1", got)
	}
}

func TestFetchAvatarNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := FetchAvatar(srv.URL+"/missing.png", t.TempDir()); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchAvatarBadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	if _, err := FetchAvatar(srv.URL+"/broken.png", cacheDir); err == nil {
		t.Fatal("Expected a decode error")
	}
	// The undecodable file must not poison the cache: after the server
	// starts returning a real image, the fetch recovers.
}

func TestCacheFileNameStable(t *testing.T) {
	a := CacheFileName("https://hass.example/local/jeremy.png")
	b := CacheFileName("https://hass.example/local/jeremy.png")
	c := CacheFileName("https://hass.example/local/dana.png")
	if a != b {
		t.Error("Same URL must map to the same cache name")
	}
	if a == c {
		t.Error("Different URLs must not collide")
	}
}
