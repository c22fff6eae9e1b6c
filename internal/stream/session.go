// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/util"
)

// DefaultReadSize is the buffer size for reads from the response body.
const DefaultReadSize = 4096

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a Session.
type State int32

const (
	StateActive State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s != StateActive
}

// =============================================================================
// SESSION
// =============================================================================

// Opener issues a streaming chat request and returns the response body.
// *ollama.Client implements it.
type Opener interface {
	OpenChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error)
}

// Options are the per-request generation settings. They are fixed for the
// lifetime of a Session.
type Options struct {
	Model       string
	Temperature *float64
	ContextSize int
}

// DeltaFunc receives each text delta, in order, on the goroutine that
// called Start.
type DeltaFunc func(delta string)

// Session is a single streaming exchange. It moves from active to exactly
// one of completed, cancelled or failed, and is never reused.
//
// Start runs the read loop on the caller's goroutine. Cancel, State, Text
// and Stats may be called from any goroutine.
type Session struct {
	opener   Opener
	opts     Options
	logger   *log.Logger
	readSize int

	state     atomic.Int32
	started   atomic.Bool
	cancelled atomic.Bool

	mu       sync.Mutex
	cancelFn context.CancelFunc
	text     strings.Builder
	deltas   int
	stats    model.Statistics
}

// NewSession creates a session that will request through opener. A nil
// logger uses log.DefaultLogger.
func NewSession(opener Opener, opts Options, logger *log.Logger) *Session {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Session{
		opener:   opener,
		opts:     opts,
		logger:   logger,
		readSize: DefaultReadSize,
	}
}

// SetReadSize overrides the body read buffer size. It must be called
// before Start.
func (s *Session) SetReadSize(n int) {
	if n > 0 && !s.started.Load() {
		s.readSize = n
	}
}

// Start sends messages and streams the reply, calling onDelta for every
// delta before reading further. It returns the accumulated text.
//
// Outcomes:
//   - completed: full text, nil error
//   - cancelled (Cancel or ctx done): text so far, nil error
//   - failed before any data: "", *TransportError
//   - failed mid-stream: text so far, *ReadError carrying it too
//
// Calling Start a second time returns a *model.InvariantViolation.
func (s *Session) Start(ctx context.Context, messages []ollama.Message, onDelta DeltaFunc) (string, error) {
	if !s.started.CompareAndSwap(false, true) {
		return "", &model.InvariantViolation{Op: "start session", Reason: "session already started"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancelFn = cancel
	s.stats = *model.NewStatistics()
	s.mu.Unlock()

	if s.cancelRequested(ctx) {
		return s.finish(StateCancelled), nil
	}

	req := ollama.ChatRequest{
		Model:    s.opts.Model,
		Messages: messages,
		Stream:   true,
		Options:  ollama.NewOptions(s.opts.Temperature, s.opts.ContextSize),
	}

	body, err := s.opener.OpenChatStream(ctx, req)
	if err != nil {
		if s.cancelRequested(ctx) {
			return s.finish(StateCancelled), nil
		}
		s.logger.Warn().Err(err).Str("model", s.opts.Model).Msg("stream open failed")
		s.transition(StateFailed)
		return "", &TransportError{Err: err}
	}
	if body == nil {
		s.transition(StateFailed)
		return "", &TransportError{Err: ollama.ErrNoBody}
	}
	defer body.Close()

	return s.readLoop(ctx, body, onDelta)
}

func (s *Session) readLoop(ctx context.Context, body io.Reader, onDelta DeltaFunc) (string, error) {
	dec := NewDecoder()
	buf := make([]byte, s.readSize)
	chunks := 0

	for {
		if s.cancelRequested(ctx) {
			return s.finish(StateCancelled), nil
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			chunks++
			for frame := range dec.Push(buf[:n]) {
				if s.cancelRequested(ctx) {
					return s.finish(StateCancelled), nil
				}
				s.handleFrame(frame, onDelta)
			}
		}

		switch {
		case rerr == nil:
			continue
		case errors.Is(rerr, io.EOF):
			for frame := range dec.Flush() {
				if s.cancelRequested(ctx) {
					return s.finish(StateCancelled), nil
				}
				s.handleFrame(frame, onDelta)
			}
			return s.finish(StateCompleted), nil
		case s.cancelRequested(ctx):
			// Reads fail once the request context is cancelled.
			return s.finish(StateCancelled), nil
		case chunks == 0:
			s.logger.Warn().Err(rerr).Msg("stream failed before first chunk")
			s.transition(StateFailed)
			return "", &TransportError{Err: rerr}
		default:
			s.logger.Warn().Err(rerr).Int("chunks", chunks).Msg("stream interrupted")
			text := s.finish(StateFailed)
			return text, &ReadError{Partial: text, Err: rerr}
		}
	}
}

func (s *Session) handleFrame(frame string, onDelta DeltaFunc) {
	ev, err := ParseEvent(frame)
	if err != nil {
		s.logger.Debug().Err(err).Str("frame", util.TruncateRunes(frame, 80)).Msg("skipping frame")
		return
	}
	if ev.ServerError != "" {
		s.logger.Warn().Str("error", ev.ServerError).Msg("server reported error in stream")
	}

	s.mu.Lock()
	if ev.Done {
		s.stats.PromptTokens = ev.PromptEvalCount
		s.stats.CompletionTokens = ev.EvalCount
		s.stats.EvalDuration = ev.EvalDuration
	}
	if ev.Delta == "" {
		s.mu.Unlock()
		return
	}
	s.text.WriteString(ev.Delta)
	s.deltas++
	s.stats.RecordFirstToken()
	s.mu.Unlock()

	if onDelta != nil {
		onDelta(ev.Delta)
	}
}

// Cancel asks the session to stop. It is idempotent and only has an effect
// while the session is active. The read loop observes it before the next
// read or frame, releases the response body and returns the text so far;
// no delta is delivered after that point.
func (s *Session) Cancel() {
	if s.State().Terminal() {
		return
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancelFn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Deltas returns how many deltas have been delivered.
func (s *Session) Deltas() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltas
}

// Stats returns a copy of the generation statistics.
func (s *Session) Stats() *model.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	return &st
}

// cancelRequested covers both Cancel and cancellation of the caller's
// context (a timeout, a signal handler). Never decided from error text.
func (s *Session) cancelRequested(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

func (s *Session) finish(state State) string {
	s.mu.Lock()
	s.stats.Finalize(s.deltas)
	text := s.text.String()
	s.mu.Unlock()

	s.transition(state)
	s.logger.Debug().Str("state", state.String()).Int("bytes", len(text)).Msg("stream finished")
	return text
}

// transition moves out of active exactly once.
func (s *Session) transition(to State) bool {
	return s.state.CompareAndSwap(int32(StateActive), int32(to))
}
