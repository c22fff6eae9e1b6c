// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(d *Decoder, chunks ...[]byte) []string {
	var frames []string
	for _, c := range chunks {
		for f := range d.Push(c) {
			frames = append(frames, f)
		}
	}
	for f := range d.Flush() {
		frames = append(frames, f)
	}
	return frames
}

func TestDecoder_SplitInvariance(t *testing.T) {
	t.Parallel()

	input := []byte("{\"message\":{\"content\":\"héllo\"}}\n{\"message\":{\"content\":\"日本語\"}}\n\n{\"done\":true}\n🙂 tail")
	want := collect(NewDecoder(), input)
	require.Equal(t, []string{
		`{"message":{"content":"héllo"}}`,
		`{"message":{"content":"日本語"}}`,
		``,
		`{"done":true}`,
		`🙂 tail`,
	}, want)

	// Every single split point, including inside the newline runs and
	// inside each multi-byte character.
	for i := 0; i <= len(input); i++ {
		got := collect(NewDecoder(), input[:i], input[i:])
		assert.Equal(t, want, got, "split at %d", i)
	}

	// Every pair of split points.
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			got := collect(NewDecoder(), input[:i], input[i:j], input[j:])
			if !slices.Equal(want, got) {
				t.Fatalf("split at %d,%d: got %q, want %q", i, j, got, want)
			}
		}
	}

	// One byte at a time.
	var chunks [][]byte
	for i := range input {
		chunks = append(chunks, input[i:i+1])
	}
	assert.Equal(t, want, collect(NewDecoder(), chunks...))
}

func TestDecoder_NoFrameBeforeNewline(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	for range d.Push([]byte(`{"message":`)) {
		t.Fatal("frame emitted before newline")
	}
	assert.Equal(t, len(`{"message":`), d.Buffered())

	var frames []string
	for f := range d.Push([]byte("{}}\n")) {
		frames = append(frames, f)
	}
	assert.Equal(t, []string{`{"message":{}}`}, frames)
	assert.Zero(t, d.Buffered())
}

func TestDecoder_UnpulledFramesStayBuffered(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	for f := range d.Push([]byte("a\nb\nc")) {
		assert.Equal(t, "a", f)
		break
	}

	var rest []string
	for f := range d.Push([]byte("\n")) {
		rest = append(rest, f)
	}
	assert.Equal(t, []string{"b", "c"}, rest)
}

func TestDecoder_SplitMultibyte(t *testing.T) {
	t.Parallel()

	euro := []byte("€") // e2 82 ac
	d := NewDecoder()

	for range d.Push(euro[:1]) {
		t.Fatal("unexpected frame")
	}
	for range d.Push(euro[1:2]) {
		t.Fatal("unexpected frame")
	}
	var frames []string
	for f := range d.Push(append(euro[2:3:3], '\n')) {
		frames = append(frames, f)
	}
	assert.Equal(t, []string{"€"}, frames)
}

func TestDecoder_InvalidBytesBecomeReplacement(t *testing.T) {
	t.Parallel()

	got := collect(NewDecoder(), []byte{'a', 0xff, 'b', '\n'})
	assert.Equal(t, []string{"a�b"}, got)

	// A truncated sequence at end of stream is replaced on flush.
	got = collect(NewDecoder(), []byte{'x', 0xe2, 0x82})
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "x�"), "got %q", got[0])
	assert.True(t, utf8.ValidString(got[0]))
}

func TestDecoder_ChunkReuseDoesNotCorrupt(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	buf := []byte("ab\xe2\x82")
	for range d.Push(buf) {
	}
	// The caller reuses its read buffer.
	copy(buf, "\xac\nzz")
	var frames []string
	for f := range d.Push(buf[:2]) {
		frames = append(frames, f)
	}
	assert.Equal(t, []string{"ab€"}, frames)
}

func TestDecoder_FlushEmpty(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	for range d.Push([]byte("done\n")) {
	}
	for f := range d.Flush() {
		t.Fatalf("Flush yielded %q, want nothing", f)
	}
}

func TestDecoder_LargeChunk(t *testing.T) {
	t.Parallel()

	// Bigger than the transform scratch buffer.
	line := make([]byte, 10000)
	for i := range line {
		line[i] = 'x'
	}
	got := collect(NewDecoder(), append(line, '\n'))
	require.Len(t, got, 1)
	assert.Len(t, got[0], 10000)
}
