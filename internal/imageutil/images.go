// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package imageutil prepares image attachments for a multimodal model:
// type and size checks, downscaling and JPEG re-encoding.
package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the formats terminals usually hand us.
	_ "image/gif"
	_ "image/png"
)

const (
	// MaxFileSize is the largest file accepted as an attachment.
	MaxFileSize = 10 << 20
	// MaxDimension bounds the longer side of a compressed image.
	MaxDimension = 1024
	// JPEGQuality is the re-encoding quality.
	JPEGQuality = 80
)

var (
	// ErrNotImage is returned for files whose content is not an image.
	ErrNotImage = errors.New("not an image file")
	// ErrTooLarge is returned for files over MaxFileSize.
	ErrTooLarge = errors.New("image exceeds 10MB limit")
)

// AttachmentError names the file an attachment failed for.
type AttachmentError struct {
	Name string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("Error processing image %s: %v", e.Name, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// LoadAttachment reads the image at path and returns it compressed, ready
// to send.
func LoadAttachment(path string) ([]byte, error) {
	name := filepath.Base(path)
	wrap := func(err error) error { return &AttachmentError{Name: name, Err: err} }

	info, err := os.Stat(path)
	if err != nil {
		return nil, wrap(err)
	}
	if info.IsDir() {
		return nil, wrap(ErrNotImage)
	}
	if info.Size() > MaxFileSize {
		return nil, wrap(ErrTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap(err)
	}

	out, err := Compress(data)
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// IsImage reports whether data sniffs as an image.
func IsImage(data []byte) bool {
	return strings.HasPrefix(http.DetectContentType(data), "image/")
}

// Compress decodes an image, scales it to fit MaxDimension on its longer
// side and re-encodes it as JPEG.
func Compress(data []byte) ([]byte, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	if !IsImage(data) {
		return nil, ErrNotImage
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(resizeImage(src, w, h)), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit returns w and h scaled down, preserving aspect ratio, so that neither
// exceeds limit. Images already within the limit are unchanged.
func Fit(w, h, limit int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	if w > h {
		if w > limit {
			h = max(1, h*limit/w)
			w = limit
		}
		return w, h
	}
	if h > limit {
		w = max(1, w*limit/h)
		h = limit
	}
	return w, h
}

// resizeImage resizes an image to the given width and height using nearest
// neighbour sampling.
func resizeImage(img image.Image, newW, newH int) image.Image {
	srcBounds := img.Bounds()
	if srcBounds.Dx() == newW && srcBounds.Dy() == newH {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			srcX := srcBounds.Min.X + x*srcBounds.Dx()/newW
			srcY := srcBounds.Min.Y + y*srcBounds.Dy()/newH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// flatten composites img over white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
