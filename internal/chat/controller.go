// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/render"
	"github.com/jeranaias/ollachat/internal/stream"
)

// Notices shown to the user at the end of a turn.
const (
	NoticeStopped   = "Streaming stopped by user."
	NoticeCancelled = "Request cancelled."
	NoticeEmpty     = "Model returned empty response."
	NoticeImageHint = "This model may not support images. Please try without images or use a multimodal model."
)

// ErrEmptyMessage is returned by Send for a message with no text and no
// images.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Backend is the model server as seen by the controller. *ollama.Client
// implements it.
type Backend interface {
	stream.Opener
	Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error)
	DefaultModel(ctx context.Context) string
}

// ModelStore persists the model chosen when none was configured.
type ModelStore interface {
	SaveModel(name string) error
}

// Settings are the generation settings applied to the next request.
type Settings struct {
	Model        string
	SystemPrompt string
	Temperature  *float64
	NumCtx       int
	Streaming    bool
}

// Config configures a Controller.
type Config struct {
	Settings Settings
	// Store receives the model picked by EnsureModel. Optional.
	Store ModelStore
	// Resolver loads referenced image bytes. Optional.
	Resolver model.ImageResolver
	// ShowStats prints a statistics line after every completed turn.
	ShowStats bool
	Logger    *log.Logger
}

// Outcome describes how a turn ended.
type Outcome struct {
	State stream.State
	// Text is everything the model produced, including a partial reply.
	Text string
	// Message is the assistant message committed to the transcript, or nil
	// when nothing was kept.
	Message *model.Message
	Stats   *model.Statistics
	// Err is the transport or read failure for a failed turn.
	Err error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns one conversation: its transcript, its settings and the
// turn in progress. Send runs on the caller's goroutine; Cancel may be
// called from any goroutine, typically a signal handler.
type Controller struct {
	backend  Backend
	renderer render.Renderer
	store    ModelStore
	resolver model.ImageResolver
	logger   *log.Logger
	stats    bool

	mu         sync.Mutex
	settings   Settings
	transcript *model.Transcript
	busy       bool
	cancelReq  bool
	cancel     func()
}

// NewController creates a controller with an empty transcript. A nil
// renderer discards output.
func NewController(backend Backend, renderer render.Renderer, cfg Config) *Controller {
	if renderer == nil {
		renderer = render.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}

	t := model.NewTranscript()
	t.SetModel(cfg.Settings.Model)

	return &Controller{
		backend:    backend,
		renderer:   renderer,
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		logger:     logger,
		stats:      cfg.ShowStats,
		settings:   cfg.Settings,
		transcript: t,
	}
}

// Send appends a user message and gets the assistant's reply, streamed or
// in one piece depending on the settings. Failures of the exchange itself
// are reported through the renderer and Outcome.Err; the returned error is
// only set when the message could not be sent at all (empty input, a turn
// already running).
func (c *Controller) Send(ctx context.Context, text string, images ...model.Image) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(images) == 0 {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, &model.InvariantViolation{Op: "send", Reason: "a reply is already in progress"}
	}
	c.busy = true
	c.cancelReq = false
	settings := c.settings
	transcript := c.transcript
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	if err := transcript.Append(model.NewUserMessage(text, images...)); err != nil {
		return nil, err
	}

	if !settings.Streaming {
		return c.complete(ctx, transcript, settings), nil
	}
	return c.stream(ctx, transcript, settings), nil
}

// stream runs one streamed turn.
func (c *Controller) stream(ctx context.Context, t *model.Transcript, s Settings) *Outcome {
	if _, err := t.BeginTurn(); err != nil {
		c.renderer.Notice(render.KindError, err.Error())
		return &Outcome{State: stream.StateFailed, Err: err}
	}

	messages, err := model.ToOllamaMessages(t.SnapshotForRequest(s.SystemPrompt), c.resolver)
	if err != nil {
		_ = t.AbortTurn()
		c.renderer.Notice(render.KindError, describeError(err))
		return &Outcome{State: stream.StateFailed, Err: err}
	}

	sess := stream.NewSession(c.backend, stream.Options{
		Model:       s.Model,
		Temperature: s.Temperature,
		ContextSize: s.NumCtx,
	}, c.logger)
	c.setCancel(sess.Cancel)

	c.renderer.BeginTurn()

	var acc strings.Builder
	text, err := sess.Start(ctx, messages, func(delta string) {
		acc.WriteString(delta)
		if aerr := t.Amend(acc.String()); aerr != nil {
			c.logger.Error().Err(aerr).Msg("amend in-flight turn")
		}
		c.renderer.Delta(delta)
	})

	out := &Outcome{State: sess.State(), Text: text, Stats: sess.Stats(), Err: err}

	switch {
	case err == nil && out.State == stream.StateCancelled:
		out.Message = c.endTurn(t, out.Stats, true)
		c.renderer.EndTurn(text, true)
		c.renderer.Notice(render.KindWarn, NoticeStopped)

	case err == nil:
		out.Message = c.endTurn(t, out.Stats, false)
		c.renderer.EndTurn(text, false)
		if text == "" {
			c.renderer.Notice(render.KindWarn, NoticeEmpty)
		} else if c.stats {
			c.renderer.Notice(render.KindInfo, out.Stats.Format())
		}

	case isReadError(err):
		// Keep what arrived before the connection broke.
		out.Message = c.endTurn(t, out.Stats, true)
		c.renderer.EndTurn(text, true)
		c.renderer.Notice(render.KindError, describeError(err))

	default:
		if aerr := t.AbortTurn(); aerr != nil {
			c.logger.Error().Err(aerr).Msg("abort turn")
		}
		c.renderer.EndTurn("", true)
		c.renderer.Notice(render.KindError, describeError(err))
	}

	c.logger.Debug().
		Str("state", out.State.String()).
		Int("bytes", len(text)).
		Int("tokens", out.Stats.CompletionTokens).
		Msg("turn finished")

	return out
}

func (c *Controller) endTurn(t *model.Transcript, stats *model.Statistics, partial bool) *model.Message {
	msg, err := t.EndTurn(stats, partial)
	if err != nil {
		c.logger.Error().Err(err).Msg("end turn")
		return nil
	}
	return msg
}

// complete runs one non-streamed turn.
func (c *Controller) complete(ctx context.Context, t *model.Transcript, s Settings) *Outcome {
	messages, err := model.ToOllamaMessages(t.SnapshotForRequest(s.SystemPrompt), c.resolver)
	if err != nil {
		c.renderer.Notice(render.KindError, describeError(err))
		return &Outcome{State: stream.StateFailed, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancel(cancel)

	stats := model.NewStatistics()
	resp, err := c.backend.Chat(ctx, ollama.ChatRequest{
		Model:    s.Model,
		Messages: messages,
		Options:  ollama.NewOptions(s.Temperature, s.NumCtx),
	})
	if err != nil {
		if ctx.Err() != nil {
			c.renderer.Notice(render.KindWarn, NoticeCancelled)
			return &Outcome{State: stream.StateCancelled, Stats: stats}
		}
		c.renderer.Notice(render.KindError, describeError(err))
		return &Outcome{State: stream.StateFailed, Stats: stats, Err: err}
	}

	stats.RecordFirstToken()
	stats.PromptTokens = resp.PromptEvalCount
	stats.CompletionTokens = resp.EvalCount
	stats.EvalDuration = time.Duration(resp.EvalDuration)
	stats.Finalize(0)

	out := &Outcome{State: stream.StateCompleted, Text: resp.Message.Content, Stats: stats}
	if out.Text == "" {
		c.renderer.Notice(render.KindWarn, NoticeEmpty)
		return out
	}

	msg := model.NewAssistantMessage(out.Text)
	msg.ApplyStats(stats)
	if err := t.Append(msg); err != nil {
		c.logger.Error().Err(err).Msg("append reply")
	} else {
		out.Message = msg
	}

	c.renderer.BeginTurn()
	c.renderer.EndTurn(out.Text, false)
	if c.stats {
		c.renderer.Notice(render.KindInfo, stats.Format())
	}
	return out
}

// Cancel stops the turn in progress. It does nothing when idle and may be
// called any number of times.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.busy {
		return
	}
	c.cancelReq = true
	if c.cancel != nil {
		c.cancel()
	}
}

// setCancel registers how to stop the current request. A Cancel that
// arrived before the request existed is applied at once.
func (c *Controller) setCancel(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel = fn
	if fn != nil && c.cancelReq {
		fn()
	}
}

// Busy reports whether a turn is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// EnsureModel makes sure a model is selected. With none configured it asks
// the backend for a default and saves the choice to the store.
func (c *Controller) EnsureModel(ctx context.Context) string {
	c.mu.Lock()
	name := c.settings.Model
	c.mu.Unlock()
	if name != "" {
		return name
	}

	name = c.backend.DefaultModel(ctx)
	c.SetModel(name)

	if c.store != nil {
		if err := c.store.SaveModel(name); err != nil {
			c.logger.Warn().Err(err).Str("model", name).Msg("could not save default model")
		}
	}
	c.logger.Info().Str("model", name).Msg("selected default model")
	return name
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns a copy of the current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetModel switches the model used for the next request.
func (c *Controller) SetModel(name string) {
	c.mu.Lock()
	c.settings.Model = name
	t := c.transcript
	c.mu.Unlock()
	t.SetModel(name)
}

// SetSystemPrompt replaces the system prompt. An empty prompt sends no
// system message.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.SystemPrompt = prompt
}

// SetTemperature sets the sampling temperature; nil leaves it to the server.
func (c *Controller) SetTemperature(temp *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Temperature = temp
}

// SetNumCtx sets the context window size; zero leaves it to the server.
func (c *Controller) SetNumCtx(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.NumCtx = n
}

// SetStreaming switches between streamed and single-response replies.
func (c *Controller) SetStreaming(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Streaming = on
}

// Apply replaces all settings at once, for example after the config file
// changed. A model already selected is kept when s carries none.
func (c *Controller) Apply(s Settings) {
	c.mu.Lock()
	if s.Model == "" {
		s.Model = c.settings.Model
	}
	c.settings = s
	t := c.transcript
	c.mu.Unlock()
	t.SetModel(s.Model)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript returns the conversation.
func (c *Controller) Transcript() *model.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Clear starts a new, empty conversation.
func (c *Controller) Clear() error {
	return c.replace(model.NewTranscript())
}

// Load makes t the current conversation. If t names a model it becomes the
// active one.
func (c *Controller) Load(t *model.Transcript) error {
	if t == nil {
		return &model.InvariantViolation{Op: "load", Reason: "nil transcript"}
	}
	return c.replace(t)
}

func (c *Controller) replace(t *model.Transcript) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return &model.InvariantViolation{Op: "replace transcript", Reason: "a reply is in progress"}
	}
	if t.Model() != "" {
		c.settings.Model = t.Model()
	} else {
		t.SetModel(c.settings.Model)
	}
	c.transcript = t
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isReadError(err error) bool {
	var re *stream.ReadError
	return errors.As(err, &re)
}

// describeError turns a failure into the line shown to the user.
func describeError(err error) string {
	msg := err.Error()
	var te *stream.TransportError
	if errors.As(err, &te) {
		msg = te.Err.Error()
	}
	if strings.Contains(msg, "images") || strings.Contains(msg, "multimodal") {
		return NoticeImageHint
	}
	return "Error occurred: " + msg
}
