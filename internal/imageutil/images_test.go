// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package imageutil

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{800, 600, 800, 600},
		{2048, 1024, 1024, 512},
		{1024, 4096, 256, 1024},
		{3000, 3000, 1024, 1024},
		{5000, 1, 1024, 1},
		{0, 10, 0, 10},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, 1024)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("Fit(%d, %d) = %d x %d, want %d x %d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestCompress(t *testing.T) {
	out, err := Compress(pngBytes(t, 2000, 500))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if cfg.Width != 1024 || cfg.Height != 256 {
		t.Errorf("size = %d x %d, want 1024 x 256", cfg.Width, cfg.Height)
	}
}

func TestCompress_SmallImageKeepsSize(t *testing.T) {
	out, err := Compress(pngBytes(t, 40, 30))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("size = %d x %d, want 40 x 30", cfg.Width, cfg.Height)
	}
}

func TestCompress_NotImage(t *testing.T) {
	if _, err := Compress([]byte("hello, world")); !errors.Is(err, ErrNotImage) {
		t.Errorf("err = %v, want ErrNotImage", err)
	}
}

func TestLoadAttachment(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(good, pngBytes(t, 64, 64), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAttachment(good); err != nil {
		t.Errorf("LoadAttachment(png) error = %v", err)
	}

	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadAttachment(text)
	var ae *AttachmentError
	if !errors.As(err, &ae) || !errors.Is(err, ErrNotImage) {
		t.Fatalf("err = %v, want AttachmentError wrapping ErrNotImage", err)
	}
	if ae.Error() != "Error processing image notes.txt: not an image file" {
		t.Errorf("Error() = %q", ae.Error())
	}

	big := filepath.Join(dir, "big.png")
	f, err := os.Create(big)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxFileSize + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := LoadAttachment(big); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}

	if _, err := LoadAttachment(filepath.Join(dir, "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}
