// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/render"
	"github.com/jeranaias/ollachat/internal/storage"
)

// newTestSession builds a chat session against srv with a fresh history
// database. Output is collected in the returned buffer.
func newTestSession(t *testing.T, srv *fakeOllama) (*ChatSession, *bytes.Buffer) {
	t.Helper()
	isolate(t)

	cfg := config.Default()
	cfg.Ollama.URL = srv.URL
	cfg.Ollama.Model = "llama3"
	cfg.Storage.AutoSave = false

	var out bytes.Buffer
	logger := NewLogger("error", io.Discard)
	env := &Env{
		Config: cfg,
		Logger: logger,
		Client: ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: logger}),
		Out:    &out,
		ErrOut: io.Discard,
	}

	term, err := render.NewTerminal(render.Options{Out: &out, Style: render.StylePlain, Width: 80, Height: 24})
	require.NoError(t, err)

	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewChatSession(env, store, term), &out
}

func slash(t *testing.T, s *ChatSession, line string) error {
	t.Helper()
	cont, err := s.handleSlashCommand(context.Background(), line)
	assert.True(t, cont, "%s should not end the session", line)
	return err
}

func TestSlash_Quit(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t))
	for _, cmd := range []string{"/quit", "/q", "/EXIT"} {
		cont, err := s.handleSlashCommand(context.Background(), cmd)
		require.NoError(t, err)
		assert.False(t, cont, cmd)
	}
}

func TestSlash_Unknown(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t))
	err := slash(t, s, "/frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestSlash_Help(t *testing.T) {
	s, out := newTestSession(t, newFakeOllama(t))
	require.NoError(t, slash(t, s, "/help"))
	for _, cmd := range []string{"/model", "/image", "/export", "/delete"} {
		assert.Contains(t, out.String(), cmd)
	}
}

func TestSlash_Settings(t *testing.T) {
	s, out := newTestSession(t, newFakeOllama(t))

	require.NoError(t, slash(t, s, "/temp 0.3"))
	require.NotNil(t, s.Ctrl.Settings().Temperature)
	assert.Equal(t, 0.3, *s.Ctrl.Settings().Temperature)

	err := slash(t, s, "/temp 9")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
	assert.Equal(t, 0.3, *s.Ctrl.Settings().Temperature, "rejected value is not applied")

	require.Error(t, slash(t, s, "/temp warm"))

	require.NoError(t, slash(t, s, "/ctx 8192"))
	assert.Equal(t, 8192, s.Ctrl.Settings().NumCtx)
	require.Error(t, slash(t, s, "/ctx big"))

	require.NoError(t, slash(t, s, "/stream off"))
	assert.False(t, s.Ctrl.Settings().Streaming)
	assert.Contains(t, out.String(), "[Streaming] off")
	require.Error(t, slash(t, s, "/stream maybe"))

	require.NoError(t, slash(t, s, "/system Answer in French."))
	assert.Equal(t, "Answer in French.", s.Ctrl.Settings().SystemPrompt)
	require.NoError(t, slash(t, s, "/system none"))
	assert.Equal(t, "", s.Ctrl.Settings().SystemPrompt)
	require.NoError(t, slash(t, s, "/system default"))
	assert.Equal(t, config.DefaultSystemPrompt, s.Ctrl.Settings().SystemPrompt)
}

func TestSlash_Model(t *testing.T) {
	s, out := newTestSession(t, newFakeOllama(t))

	require.NoError(t, slash(t, s, "/model llava"))
	assert.Equal(t, "llava", s.Ctrl.Settings().Model)
	assert.NotContains(t, out.String(), "not found locally")

	path, err := config.ConfigPathTOML()
	require.NoError(t, err)
	saved, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "llava", saved.Ollama.Model, "model choice is remembered")

	require.NoError(t, slash(t, s, "/model mystery"))
	assert.Contains(t, out.String(), "not found locally")
	assert.Equal(t, "mystery", s.Ctrl.Settings().Model)

	out.Reset()
	require.NoError(t, slash(t, s, "/models"))
	assert.Contains(t, out.String(), "llama3")
	assert.Contains(t, out.String(), "llava")
}

func TestSession_SendSaveLoad(t *testing.T) {
	srv := newFakeOllama(t, "Hello", " there")
	s, out := newTestSession(t, srv)

	require.NoError(t, s.processMessage(context.Background(), "hi"))
	assert.Contains(t, out.String(), "Hello there")
	assert.Equal(t, 1, s.Turns)
	assert.Equal(t, 2, s.Ctrl.Transcript().Len())

	// Empty input is not a turn.
	require.NoError(t, s.processMessage(context.Background(), "   "))
	assert.Equal(t, 1, s.Turns)

	id := s.Ctrl.Transcript().ID()
	require.NoError(t, slash(t, s, "/save"))
	assert.Contains(t, out.String(), storage.ShortID(id))

	out.Reset()
	require.NoError(t, slash(t, s, "/history"))
	assert.Contains(t, out.String(), "Hello there")

	require.Error(t, slash(t, s, "/delete "+storage.ShortID(id)), "current conversation is protected")

	require.NoError(t, slash(t, s, "/clear"))
	assert.Equal(t, 0, s.Ctrl.Transcript().Len())

	out.Reset()
	require.NoError(t, slash(t, s, "/list"))
	assert.Contains(t, out.String(), storage.ShortID(id))

	require.NoError(t, slash(t, s, "/load "+storage.ShortID(id)))
	assert.Equal(t, id, s.Ctrl.Transcript().ID())
	assert.Equal(t, 2, s.Ctrl.Transcript().Len())

	err := slash(t, s, "/load ffffffff")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))

	require.NoError(t, slash(t, s, "/clear"))
	require.NoError(t, slash(t, s, "/delete "+storage.ShortID(id)))
	metas, err := s.Store.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestSession_AutoSave(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t, "ok"))
	s.Config.Storage.AutoSave = true

	require.NoError(t, s.processMessage(context.Background(), "remember me"))

	metas, err := s.Store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "remember me", metas[0].Title)
}

func TestSession_NoStore(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t))
	s.Store = nil

	for _, cmd := range []string{"/save", "/list", "/load abc", "/delete abc"} {
		err := slash(t, s, cmd)
		assert.ErrorIs(t, err, errNoStore, cmd)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestSlash_Image(t *testing.T) {
	srv := newFakeOllama(t, "A red line.")
	s, out := newTestSession(t, srv)

	path := filepath.Join(t.TempDir(), "line.png")
	writePNG(t, path)

	require.NoError(t, slash(t, s, "/image "+path))
	assert.Contains(t, out.String(), "line.png")

	out.Reset()
	require.NoError(t, slash(t, s, "/image"))
	assert.Contains(t, out.String(), "line.png")

	require.NoError(t, s.processMessage(context.Background(), "What is this?"))
	req := srv.lastRequest(t)
	last := req.Messages[len(req.Messages)-1]
	assert.Len(t, last.Images, 1)
	assert.Empty(t, s.pending, "attachments are sent once")

	require.NoError(t, slash(t, s, "/image "+path))
	require.NoError(t, slash(t, s, "/image clear"))
	assert.Empty(t, s.pending)

	require.Error(t, slash(t, s, "/image "+filepath.Join(t.TempDir(), "missing.png")))
}

func TestSlash_Export(t *testing.T) {
	s, out := newTestSession(t, newFakeOllama(t, "pong"))
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, slash(t, s, "/export"))
	assert.Contains(t, out.String(), "Nothing to export")

	require.NoError(t, s.processMessage(context.Background(), "ping"))
	require.NoError(t, slash(t, s, "/export"))
	require.NoError(t, slash(t, s, "/export json"))

	md, _ := filepath.Glob(filepath.Join(dir, "*.md"))
	js, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	assert.Len(t, md, 1)
	assert.Len(t, js, 1)

	err := slash(t, s, "/export pdf")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestApplyConfig_KeepsSessionChanges(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t))
	s.fileSettings = SettingsFromConfig(s.Config)

	require.NoError(t, slash(t, s, "/temp 0.1"))

	edited := s.Config.Clone()
	edited.Ollama.Model = "llava"
	s.applyConfig(edited)

	settings := s.Ctrl.Settings()
	assert.Equal(t, "llava", settings.Model, "edited key is applied")
	assert.Equal(t, 0.1, *settings.Temperature, "untouched key keeps the /temp value")

	edited = edited.Clone()
	edited.Chat.Temperature = 1.2
	s.applyConfig(edited)
	assert.Equal(t, 1.2, *s.Ctrl.Settings().Temperature)
}

func TestHistoryLine(t *testing.T) {
	s, _ := newTestSession(t, newFakeOllama(t, strings.Repeat("word ", 40)))
	require.NoError(t, s.processMessage(context.Background(), "line one\nline two"))

	msgs := s.Ctrl.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "line one line two", historyLine(msgs[0]))
	assert.LessOrEqual(t, len([]rune(historyLine(msgs[1]))), 100)
}
