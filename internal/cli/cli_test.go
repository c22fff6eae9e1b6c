// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/stream"
)

// =============================================================================
// FAKE OLLAMA SERVER
// =============================================================================

type fakeOllama struct {
	*httptest.Server

	mu       sync.Mutex
	reply    []string
	requests []ollama.ChatRequest
}

func newFakeOllama(t *testing.T, reply ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{reply: reply}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		io.WriteString(w, "Ollama is running")
	case "/api/tags":
		io.WriteString(w, `{"models":[{"name":"llava"},{"name":"llama3"}]}`)
	case "/api/show":
		var req ollama.ShowModelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "llama3" && req.Name != "llava" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"model not found"}`)
			return
		}
		io.WriteString(w, `{"details":{"family":"llama"}}`)
	case "/api/chat":
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if !req.Stream {
			resp := ollama.ChatResponse{
				Model:     req.Model,
				Message:   ollama.Message{Role: "assistant", Content: strings.Join(f.reply, "")},
				Done:      true,
				EvalCount: len(f.reply),
			}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		flusher, _ := w.(http.Flusher)
		for _, part := range f.reply {
			frame, _ := json.Marshal(ollama.ChatResponse{Model: req.Model, Message: ollama.Message{Role: "assistant", Content: part}})
			w.Write(append(frame, '\n'))
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprintf(w, `{"model":%q,"done":true,"eval_count":%d,"eval_duration":1000000}`+"\n", req.Model, len(f.reply))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastRequest(t *testing.T) ollama.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "no chat request received")
	return f.requests[len(f.requests)-1]
}

// isolate points the config directory at a fresh temporary home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"OLLACHAT_URL", "OLLACHAT_MODEL", "OLLACHAT_TEMPERATURE", "OLLACHAT_NUM_CTX", "OLLACHAT_STREAM", "OLLACHAT_THEME", "OLLACHAT_LOG_LEVEL", "OLLACHAT_CONFIG"} {
		t.Setenv(key, "")
	}
	return home
}

// runApp runs the command line against url and returns its output.
func runApp(t *testing.T, url string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	app.Reader = strings.NewReader("")

	argv := append([]string{"ollachat", "--url", url, "--log-level", "error"}, args...)
	err := app.Run(argv)
	return out.String(), errOut.String(), err
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func TestAsk_Streams(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "Par", "is")

	out, _, err := runApp(t, srv.URL, "--model", "llama3", "--style", "plain", "--no-stats", "ask", "Capital", "of", "France?")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris")

	req := srv.lastRequest(t)
	assert.True(t, req.Stream)
	assert.Equal(t, "llama3", req.Model)
	require.NotEmpty(t, req.Messages)
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "Capital of France?", last.Content)
}

func TestAsk_NoStream(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "Paris")

	out, _, err := runApp(t, srv.URL, "--model", "llama3", "--style", "plain", "--no-stream", "ask", "Capital?")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris")
	assert.False(t, srv.lastRequest(t).Stream)
}

func TestAsk_SendsSettings(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "ok")

	_, _, err := runApp(t, srv.URL, "--model", "llama3", "--system", "Be brief.", "--temperature", "0.2", "--num-ctx", "2048", "ask", "hi")
	require.NoError(t, err)

	req := srv.lastRequest(t)
	require.NotNil(t, req.Options)
	require.NotNil(t, req.Options.Temperature)
	assert.InDelta(t, 0.2, *req.Options.Temperature, 1e-9)
	assert.Equal(t, 2048, req.Options.NumCtx)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
}

func TestAsk_JSON(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "<think>hmm</think>", "Paris")

	out, _, err := runApp(t, srv.URL, "--model", "llama3", "ask", "--json", "Capital?")
	require.NoError(t, err)

	var resp struct {
		Success bool      `json:"success"`
		Command string    `json:"command"`
		Data    askResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	assert.True(t, resp.Success)
	assert.Equal(t, "ask", resp.Command)
	assert.Equal(t, "llama3", resp.Data.Model)
	assert.Equal(t, "Paris", resp.Data.Response)
	assert.Equal(t, stream.StateCompleted.String(), resp.Data.State)
}

func TestAsk_MissingQuestion(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "--model", "llama3", "ask")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestAsk_ServerDown(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)
	url := srv.URL
	srv.Close()

	_, _, err := runApp(t, url, "--model", "llama3", "--style", "plain", "ask", "hello")
	require.Error(t, err)
	assert.True(t, IsSilent(err), "failure is shown by the renderer")
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
}

func TestAsk_InvalidFlag(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "--temperature", "7", "ask", "hello")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func TestHistory_SaveListShowExport(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t, "Use a WaitGroup.")

	_, _, err := runApp(t, srv.URL, "--model", "llama3", "--style", "plain", "ask", "--save", "How do I wait for goroutines?")
	require.NoError(t, err)

	out, _, err := runApp(t, srv.URL, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "How do I wait for goroutines?")

	out, _, err = runApp(t, srv.URL, "history", "list", "--json")
	require.NoError(t, err)
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Data, 1)
	short := storage.ShortID(list.Data[0].ID)

	out, _, err = runApp(t, srv.URL, "--style", "plain", "history", "show", short)
	require.NoError(t, err)
	assert.Contains(t, out, "Use a WaitGroup.")

	dir := t.TempDir()
	out, _, err = runApp(t, srv.URL, "history", "export", "--format", "json", "--out", dir, short)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported to")
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	assert.Len(t, matches, 1)

	out, _, err = runApp(t, srv.URL, "history", "search", "waitgroup")
	require.NoError(t, err)
	assert.Contains(t, out, short)

	_, _, err = runApp(t, srv.URL, "history", "delete", short)
	require.NoError(t, err)

	_, _, err = runApp(t, srv.URL, "history", "show", short)
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestHistory_ClearNeedsConfirmation(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "history", "clear")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = runApp(t, srv.URL, "history", "clear", "--yes")
	require.NoError(t, err)
}

// =============================================================================
// MODELS AND CONFIG COMMANDS
// =============================================================================

func TestModels(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	out, _, err := runApp(t, srv.URL, "--model", "llava", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "  llama3\n")
	assert.Contains(t, out, "* llava\n")
	assert.Less(t, strings.Index(out, "llama3"), strings.Index(out, "llava"), "models are sorted")
}

func TestConfig_SetGet(t *testing.T) {
	home := isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "config", "set", "chat.temperature", "0.2")
	require.NoError(t, err)

	path := filepath.Join(home, ".ollachat", "config.toml")
	_, err = os.Stat(path)
	require.NoError(t, err, "config file written")

	out, _, err := runApp(t, srv.URL, "config", "get", "chat.temperature")
	require.NoError(t, err)
	assert.Equal(t, "0.2\n", out)

	out, _, err = runApp(t, srv.URL, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestConfig_SetDoesNotPersistFlags(t *testing.T) {
	home := isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "config", "set", "ollama.model", "llava")
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(filepath.Join(home, ".ollachat", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "llava", cfg.Ollama.Model)
	assert.Equal(t, config.DefaultOllamaURL, cfg.Ollama.URL, "--url is not written to the file")
}

func TestConfig_SetErrors(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	_, _, err := runApp(t, srv.URL, "config", "set", "chat.temperature", "9")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	_, _, err = runApp(t, srv.URL, "config", "set", "chat.nope", "1")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, err = runApp(t, srv.URL, "config", "set", "chat.temperature")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestConfig_ShowJSON(t *testing.T) {
	isolate(t)
	srv := newFakeOllama(t)

	out, _, err := runApp(t, srv.URL, "--model", "llama3", "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, "llama3")
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := runApp(t, "http://127.0.0.1:1", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ollachat version "+Version)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"usage", ErrMissingArgument("key", "x"), ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"validation", config.ValidationError{Field: "chat.temperature", Message: "out of range"}, ExitConfigError},
		{"not found", &NotFoundError{Resource: "conversation", ID: "x"}, ExitNotFoundError},
		{"conversation", storage.ErrConversationNotFound, ExitNotFoundError},
		{"model", ollama.ErrModelNotFound, ExitNotFoundError},
		{"timeout", ollama.ErrTimeout, ExitTimeoutError},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"not running", ollama.ErrNotRunning, ExitNetworkError},
		{"silent", &silentError{err: ollama.ErrNotRunning}, ExitNetworkError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetExitCode(tc.err))
		})
	}
}

func TestReadQuestion(t *testing.T) {
	var errOut bytes.Buffer

	got, err := readQuestion([]string{"  what", "is", "this?  "}, strings.NewReader(""), true, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "what is this?", got)

	got, err = readQuestion([]string{"Summarize:"}, strings.NewReader("line one\nline two\n"), false, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "Summarize:\n\nline one\nline two", got)
	assert.Contains(t, errOut.String(), "Read 18 bytes from stdin")

	got, err = readQuestion(nil, strings.NewReader("only piped"), true, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "only piped", got)

	_, err = readQuestion(nil, strings.NewReader(strings.Repeat("x", MaxStdinSize+1)), true, &errOut)
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ollama.Model = "llava"
	cfg.Chat.Temperature = 0.4
	cfg.Chat.Stream = false

	s := SettingsFromConfig(cfg)
	assert.Equal(t, "llava", s.Model)
	require.NotNil(t, s.Temperature)
	assert.Equal(t, 0.4, *s.Temperature)
	assert.False(t, s.Streaming)

	cfg.Chat.Temperature = 1.0
	assert.Equal(t, 0.4, *s.Temperature, "settings do not alias the config")
}

func TestJSONErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONErrorResponse("ask", errors.New("model does not support images")).Print(&buf))

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "model does not support images", *resp.Error)
}
