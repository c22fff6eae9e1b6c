// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ImageKind tags the two forms an attached image can take.
type ImageKind int

const (
	// ImageRaw carries the encoded image bytes inline.
	ImageRaw ImageKind = iota + 1
	// ImageRef points at bytes held by an image store.
	ImageRef
)

// String returns a short name for the kind.
func (k ImageKind) String() string {
	switch k {
	case ImageRaw:
		return "raw"
	case ImageRef:
		return "ref"
	default:
		return "invalid"
	}
}

// Image is an attached image, either raw bytes or a reference to stored
// bytes. The zero value is invalid.
type Image struct {
	kind ImageKind
	data []byte
	ref  string
}

// RawImage wraps encoded image bytes.
func RawImage(data []byte) Image {
	return Image{kind: ImageRaw, data: data}
}

// ImageReference wraps the id of an image kept in an image store.
func ImageReference(id string) Image {
	return Image{kind: ImageRef, ref: id}
}

// Kind returns which variant the image is.
func (i Image) Kind() ImageKind {
	return i.kind
}

// Bytes returns the inline data of a raw image.
func (i Image) Bytes() ([]byte, bool) {
	return i.data, i.kind == ImageRaw
}

// Ref returns the id of a referenced image.
func (i Image) Ref() (string, bool) {
	return i.ref, i.kind == ImageRef
}

// ErrInvalidImage is returned by ParseImage for payloads that are neither a
// data URL nor base64.
var ErrInvalidImage = errors.New("invalid image payload")

// ParseImage normalises an image payload received as text: either a
// "data:<mime>;base64,<payload>" URL or bare base64.
func ParseImage(s string) (Image, error) {
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return Image{}, fmt.Errorf("%w: data URL is not base64", ErrInvalidImage)
		}
		payload = payload[comma+1:]
	}
	if payload == "" {
		return Image{}, fmt.Errorf("%w: empty", ErrInvalidImage)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return RawImage(data), nil
}

// ImageResolver loads the bytes behind an image reference.
type ImageResolver interface {
	ResolveImage(id string) ([]byte, error)
}

// Base64 returns the wire encoding of the image. Referenced images are
// loaded through resolver, which may be nil when only raw images are expected.
func (i Image) Base64(resolver ImageResolver) (string, error) {
	switch i.kind {
	case ImageRaw:
		return base64.StdEncoding.EncodeToString(i.data), nil
	case ImageRef:
		if resolver == nil {
			return "", fmt.Errorf("image %s: no resolver for referenced image", i.ref)
		}
		data, err := resolver.ResolveImage(i.ref)
		if err != nil {
			return "", fmt.Errorf("image %s: %w", i.ref, err)
		}
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", ErrInvalidImage
	}
}
