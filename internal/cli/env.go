// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"time"

	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/render"
)

// Env is what every command needs: the effective configuration, a logger,
// an Ollama client and the output streams.
type Env struct {
	Config *config.Config
	Logger *log.Logger
	Client *ollama.Client
	Out    io.Writer
	ErrOut io.Writer
	Quiet  bool
}

// NewLogger builds the process logger. Terminals get the console format;
// anything else gets JSON lines.
func NewLogger(level string, w io.Writer) *log.Logger {
	var writer log.Writer
	if IsWriterTTY(w) {
		writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    ColorsEnabled(),
			QuoteString:    true,
			EndWithMessage: true,
		}
	} else {
		writer = &log.IOWriter{Writer: w}
	}
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// setup loads configuration, applies command-line flags on top of it and
// builds the shared dependencies.
func setup(c *cli.Context) (*Env, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		config.LoadDotEnv()
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	if err := applyFlags(cfg, c); err != nil {
		return nil, err
	}

	logger := NewLogger(cfg.LogLevel, c.App.ErrWriter)
	logger.Debug().Str("source", cfg.Source()).Str("url", cfg.Ollama.URL).Msg("configuration loaded")

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Ollama.URL,
		Timeout: time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		Logger:  logger,
	})

	return &Env{
		Config: cfg,
		Logger: logger,
		Client: client,
		Out:    c.App.Writer,
		ErrOut: c.App.ErrWriter,
		Quiet:  c.Bool("quiet"),
	}, nil
}

// applyFlags overrides configuration with explicitly set global flags.
func applyFlags(cfg *config.Config, c *cli.Context) error {
	if c.IsSet("url") {
		cfg.Ollama.URL = c.String("url")
	}
	if c.IsSet("model") {
		cfg.Ollama.Model = c.String("model")
	}
	if c.IsSet("system") {
		cfg.Chat.SystemPrompt = c.String("system")
	}
	if c.IsSet("temperature") {
		cfg.Chat.Temperature = c.Float64("temperature")
	}
	if c.IsSet("num-ctx") {
		cfg.Chat.NumCtx = c.Int("num-ctx")
	}
	if c.Bool("no-stream") {
		cfg.Chat.Stream = false
	}
	if c.IsSet("theme") {
		cfg.UI.Theme = c.String("theme")
	}
	if c.IsSet("style") {
		cfg.UI.RenderStyle = c.String("style")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("no-stats") {
		cfg.UI.ShowStats = false
	}

	cfg.Migrate()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// SettingsFromConfig returns the generation settings a config describes.
func SettingsFromConfig(cfg *config.Config) chat.Settings {
	temp := cfg.Chat.Temperature
	return chat.Settings{
		Model:        cfg.Ollama.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
		Temperature:  &temp,
		NumCtx:       cfg.Chat.NumCtx,
		Streaming:    cfg.Chat.Stream,
	}
}

// newRenderer builds the reply renderer for out.
func newRenderer(cfg *config.Config, out io.Writer, label string) (*render.Terminal, error) {
	style, err := render.ParseStyle(cfg.UI.RenderStyle)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	width, height := TerminalSize(out)
	return render.NewTerminal(render.Options{
		Out:    out,
		TTY:    IsWriterTTY(out),
		Width:  width,
		Height: height,
		Theme:  cfg.UI.Theme,
		Style:  style,
		Label:  label,
	})
}
