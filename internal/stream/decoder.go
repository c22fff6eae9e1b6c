// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"errors"
	"iter"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// FRAME DECODER
// =============================================================================

// Decoder turns an arbitrary byte stream into newline-terminated text
// frames. Chunks may split a frame, a delimiter or a UTF-8 sequence at any
// point: an incomplete trailing sequence is held until the next chunk
// completes it, and invalid bytes decode to U+FFFD.
//
// A Decoder is owned by one reader and is not safe for concurrent use.
type Decoder struct {
	utf8    transform.Transformer
	scratch [4096]byte

	// pending holds undecoded bytes: at most one incomplete UTF-8 sequence.
	pending []byte

	// text holds decoded text from off onwards: complete frames not yet
	// pulled by the consumer, then at most one partial frame.
	text []byte
	off  int
}

// NewDecoder creates an empty frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Push feeds a chunk and returns the complete frames now available, without
// their trailing newline. The sequence is lazy: frames the consumer does not
// pull stay buffered and are yielded by the next Push or Flush.
func (d *Decoder) Push(chunk []byte) iter.Seq[string] {
	d.decode(chunk, false)
	return d.frames
}

// Flush ends the stream. It yields any remaining complete frames, then the
// trailing partial frame if it is non-empty.
func (d *Decoder) Flush() iter.Seq[string] {
	d.decode(nil, true)
	return func(yield func(string) bool) {
		for frame := range d.frames {
			if !yield(frame) {
				return
			}
		}
		if d.off < len(d.text) {
			residual := string(d.text[d.off:])
			d.text = d.text[:0]
			d.off = 0
			yield(residual)
		}
	}
}

// Buffered returns the number of decoded bytes not yet emitted as frames.
func (d *Decoder) Buffered() int {
	return len(d.text) - d.off
}

func (d *Decoder) frames(yield func(string) bool) {
	for {
		i := bytes.IndexByte(d.text[d.off:], '\n')
		if i < 0 {
			return
		}
		frame := string(d.text[d.off : d.off+i])
		d.off += i + 1
		if !yield(frame) {
			return
		}
	}
}

// decode runs the UTF-8 transformer over pending+chunk and appends the
// result to text.
func (d *Decoder) decode(chunk []byte, atEOF bool) {
	d.compact()

	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}

	for {
		nDst, nSrc, err := d.utf8.Transform(d.scratch[:], src, atEOF)
		d.text = append(d.text, d.scratch[:nDst]...)
		src = src[nSrc:]

		switch {
		case errors.Is(err, transform.ErrShortDst):
			continue
		case errors.Is(err, transform.ErrShortSrc):
			// Incomplete sequence at the end of the chunk. Copy it: the
			// caller may reuse chunk's backing array.
			d.pending = append([]byte(nil), src...)
			return
		case err != nil || len(src) > 0:
			// The UTF-8 decoder replaces bad input rather than failing;
			// keep anything unconsumed so no byte is dropped.
			d.pending = append([]byte(nil), src...)
			return
		default:
			return
		}
	}
}

// compact drops already-emitted frames from the front of text.
func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.text, d.text[d.off:])
	d.text = d.text[:n]
	d.off = 0
}
