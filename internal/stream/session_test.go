// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// FAKES
// =============================================================================

// chunkBody returns one chunk per Read, then err (io.EOF when nil).
type chunkBody struct {
	chunks [][]byte
	err    error
	i      int
	closed atomic.Bool
}

func (b *chunkBody) Read(p []byte) (int, error) {
	if b.i >= len(b.chunks) {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[b.i])
	b.i++
	return n, nil
}

func (b *chunkBody) Close() error {
	b.closed.Store(true)
	return nil
}

func newBody(chunks ...string) *chunkBody {
	b := &chunkBody{}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

type fakeOpener struct {
	body   io.ReadCloser
	err    error
	calls  int
	req    ollama.ChatRequest
	before func()
}

func (o *fakeOpener) OpenChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error) {
	o.calls++
	o.req = req
	if o.before != nil {
		o.before()
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.body, nil
}

func frame(content string) string {
	return fmt.Sprintf("{\"message\":{\"role\":\"assistant\",\"content\":%q}}\n", content)
}

func recorder() (*[]string, DeltaFunc) {
	var got []string
	return &got, func(d string) { got = append(got, d) }
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestSession_MidFrameSplit(t *testing.T) {
	t.Parallel()

	body := newBody(
		"{\"message\":{\"content\":\"Hel\"}}\n{\"mess",
		"age\":{\"content\":\"lo\"}}\n",
	)
	sess := NewSession(&fakeOpener{body: body}, Options{Model: "llama3"}, nil)

	got, onDelta := recorder()
	text, err := sess.Start(context.Background(), nil, onDelta)

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, *got)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, StateCompleted, sess.State())
	assert.True(t, body.closed.Load(), "body not closed")
}

func TestSession_ConcatenationProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	alphabet := []string{"a", "é", "日本", "🙂", " ", "\\n", "\"", "{", "}"}

	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(20) + 1
		deltas := make([]string, n)
		var wire strings.Builder
		for i := range deltas {
			var d strings.Builder
			for j := rng.Intn(4) + 1; j > 0; j-- {
				d.WriteString(alphabet[rng.Intn(len(alphabet))])
			}
			deltas[i] = d.String()
			wire.WriteString(frame(deltas[i]))
		}
		wire.WriteString("{\"done\":true}\n")

		// Random chunking of the wire bytes.
		raw := []byte(wire.String())
		var chunks []string
		for len(raw) > 0 {
			k := rng.Intn(len(raw)) + 1
			chunks = append(chunks, string(raw[:k]))
			raw = raw[k:]
		}

		sess := NewSession(&fakeOpener{body: newBody(chunks...)}, Options{Model: "m"}, nil)
		got, onDelta := recorder()
		text, err := sess.Start(context.Background(), nil, onDelta)

		require.NoError(t, err)
		require.Equal(t, deltas, *got, "trial %d", trial)
		require.Equal(t, strings.Join(deltas, ""), text, "trial %d", trial)
		require.Equal(t, n, sess.Deltas())
	}
}

func TestSession_SkipsMalformedFrame(t *testing.T) {
	t.Parallel()

	body := newBody("not json\n", "{\"message\":{\"content\":\"hi\"}}\n")
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)

	got, onDelta := recorder()
	text, err := sess.Start(context.Background(), nil, onDelta)

	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, *got)
	assert.Equal(t, "hi", text)
	assert.Equal(t, StateCompleted, sess.State())
}

func TestSession_TrailingFrameWithoutNewline(t *testing.T) {
	t.Parallel()

	body := newBody(frame("a"), `{"message":{"content":"b"}}`)
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)

	text, err := sess.Start(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestSession_RequestShape(t *testing.T) {
	t.Parallel()

	temp := 0.7
	opener := &fakeOpener{body: newBody()}
	sess := NewSession(opener, Options{Model: "llama3", Temperature: &temp, ContextSize: 4096}, nil)

	msgs := []ollama.Message{ollama.NewSystemMessage("sys"), ollama.NewUserMessage("hi")}
	_, err := sess.Start(context.Background(), msgs, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, opener.calls)
	assert.True(t, opener.req.Stream)
	assert.Equal(t, "llama3", opener.req.Model)
	assert.Equal(t, msgs, opener.req.Messages)
	require.NotNil(t, opener.req.Options)
	assert.Equal(t, 0.7, *opener.req.Options.Temperature)
	assert.Equal(t, 4096, opener.req.Options.NumCtx)
}

func TestSession_StatsFromDoneFrame(t *testing.T) {
	t.Parallel()

	body := newBody(
		frame("x"),
		`{"done":true,"eval_count":40,"prompt_eval_count":12,"eval_duration":2000000000}`+"\n",
	)
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)
	_, err := sess.Start(context.Background(), nil, nil)
	require.NoError(t, err)

	stats := sess.Stats()
	assert.Equal(t, 40, stats.CompletionTokens)
	assert.Equal(t, 12, stats.PromptTokens)
	assert.InDelta(t, 20.0, stats.TokensPerSecond, 0.001)
	assert.False(t, stats.FirstTokenTime.IsZero())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestSession_CancelBeforeStart(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{body: newBody(frame("never"))}
	sess := NewSession(opener, Options{}, nil)
	sess.Cancel()

	got, onDelta := recorder()
	text, err := sess.Start(context.Background(), nil, onDelta)

	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, *got)
	assert.Equal(t, StateCancelled, sess.State())
	assert.Zero(t, opener.calls)
}

func TestSession_CancelBeforeFirstDelta(t *testing.T) {
	t.Parallel()

	body := newBody(frame("never"))
	opener := &fakeOpener{body: body}
	sess := NewSession(opener, Options{}, nil)
	opener.before = sess.Cancel

	got, onDelta := recorder()
	text, err := sess.Start(context.Background(), nil, onDelta)

	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, *got)
	assert.Equal(t, StateCancelled, sess.State())
	assert.True(t, body.closed.Load(), "body not released")
}

func TestSession_CancelAfterKDeltas(t *testing.T) {
	t.Parallel()

	deltas := []string{"one ", "two ", "three ", "four ", "five"}
	for k := 1; k <= len(deltas); k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var wire strings.Builder
			for _, d := range deltas {
				wire.WriteString(frame(d))
			}
			// All frames in one chunk, so only the per-frame check stops delivery.
			body := newBody(wire.String(), frame("late"))
			sess := NewSession(&fakeOpener{body: body}, Options{}, nil)

			calls := 0
			text, err := sess.Start(context.Background(), nil, func(string) {
				calls++
				if calls == k {
					sess.Cancel()
				}
			})

			require.NoError(t, err)
			assert.Equal(t, k, calls)
			assert.Equal(t, strings.Join(deltas[:k], ""), text)
			assert.Equal(t, StateCancelled, sess.State())
			assert.True(t, body.closed.Load())
		})
	}
}

func TestSession_CancelIdempotent(t *testing.T) {
	t.Parallel()

	run := func(cancels int) (string, State, int) {
		body := newBody(frame("a"), frame("b"), frame("c"))
		sess := NewSession(&fakeOpener{body: body}, Options{}, nil)
		calls := 0
		text, err := sess.Start(context.Background(), nil, func(string) {
			calls++
			if calls == 2 {
				for i := 0; i < cancels; i++ {
					sess.Cancel()
				}
			}
		})
		require.NoError(t, err)
		return text, sess.State(), calls
	}

	text1, state1, calls1 := run(1)
	text2, state2, calls2 := run(2)

	assert.Equal(t, text1, text2)
	assert.Equal(t, state1, state2)
	assert.Equal(t, calls1, calls2)
	assert.Equal(t, "ab", text1)
}

func TestSession_CancelAfterCompletionIsNoop(t *testing.T) {
	t.Parallel()

	sess := NewSession(&fakeOpener{body: newBody(frame("a"))}, Options{}, nil)
	_, err := sess.Start(context.Background(), nil, nil)
	require.NoError(t, err)

	sess.Cancel()
	sess.Cancel()
	assert.Equal(t, StateCompleted, sess.State())
}

func TestSession_ParentContextCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	body := newBody(frame("a"), frame("b"))
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)

	text, err := sess.Start(ctx, nil, func(string) { cancel() })

	require.NoError(t, err)
	assert.Equal(t, "a", text)
	assert.Equal(t, StateCancelled, sess.State())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSession_OpenFailure(t *testing.T) {
	t.Parallel()

	sess := NewSession(&fakeOpener{err: ollama.ErrNotRunning}, Options{}, nil)
	text, err := sess.Start(context.Background(), nil, nil)

	assert.Empty(t, text)
	var te *TransportError
	require.True(t, errors.As(err, &te), "err = %v", err)
	assert.True(t, ollama.IsNotRunning(err))
	assert.Equal(t, StateFailed, sess.State())
}

func TestSession_ReadErrorBeforeFirstChunk(t *testing.T) {
	t.Parallel()

	body := &chunkBody{err: io.ErrUnexpectedEOF}
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)
	text, err := sess.Start(context.Background(), nil, nil)

	assert.Empty(t, text)
	assert.True(t, IsTransportError(err), "err = %v", err)
	_, partial := PartialText(err)
	assert.False(t, partial)
	assert.Equal(t, StateFailed, sess.State())
}

func TestSession_ReadErrorAfterChunk(t *testing.T) {
	t.Parallel()

	body := newBody(frame("Hel"), frame("lo"))
	body.err = io.ErrUnexpectedEOF
	sess := NewSession(&fakeOpener{body: body}, Options{}, nil)

	got, onDelta := recorder()
	text, err := sess.Start(context.Background(), nil, onDelta)

	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, *got)
	partial, ok := PartialText(err)
	require.True(t, ok, "err = %v, want *ReadError", err)
	assert.Equal(t, "Hello", partial)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, StateFailed, sess.State())
	assert.True(t, body.closed.Load())
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()

	sess := NewSession(&fakeOpener{body: newBody(frame("a"))}, Options{}, nil)
	_, err := sess.Start(context.Background(), nil, nil)
	require.NoError(t, err)

	text, err := sess.Start(context.Background(), nil, nil)
	assert.Empty(t, text)
	assert.True(t, model.IsInvariantViolation(err), "err = %v", err)
	assert.Equal(t, StateCompleted, sess.State())
}

// =============================================================================
// END TO END
// =============================================================================

func TestSession_OllamaServerCancel(t *testing.T) {
	t.Parallel()

	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, frame("first"))
		w.(http.Flusher).Flush()
		// Keep the stream open until the client goes away.
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	sess := NewSession(client, Options{Model: "llama3"}, nil)

	calls := 0
	text, err := sess.Start(context.Background(), []ollama.Message{ollama.NewUserMessage("hi")}, func(string) {
		calls++
		go sess.Cancel()
	})

	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateCancelled, sess.State())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not released")
	}
}

func TestSession_OllamaServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	sess := NewSession(client, Options{Model: "llama3"}, nil)

	text, err := sess.Start(context.Background(), nil, nil)
	assert.Empty(t, text)
	require.True(t, IsTransportError(err), "err = %v", err)
	assert.Contains(t, err.Error(), "boom")
}
