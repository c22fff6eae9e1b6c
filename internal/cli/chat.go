// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for ollachat.
//
// Command: chat (also the default when no command is given)
//
// Examples:
//   ollachat                          Start interactive chat
//   ollachat --model llava chat       Use a specific model
//   ollachat --no-stream chat         Wait for whole replies
//
// Interactive Commands (during chat): see printHelp.
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/render"
	"github.com/jeranaias/ollachat/internal/storage"
)

var chatCommand = &cli.Command{
	Name:   "chat",
	Usage:  "Start an interactive chat session",
	Action: runChat,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "resume",
			Usage: "Continue a saved conversation by id",
		},
	},
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyFile, err := config.InputHistoryPath()
	if err != nil {
		historyFile = ""
	}

	c := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state for an interactive chat session.
type ChatSession struct {
	Config *config.Config
	Ctrl   *chat.Controller
	Client *ollama.Client
	// Store is nil when the history database could not be opened.
	Store  *storage.Store
	Term   *render.Terminal
	Out    io.Writer
	Logger *log.Logger
	Quiet  bool

	// Images attached with /image, sent with the next message.
	pending      []model.Image
	pendingNames []string

	StartTime   time.Time
	Turns       int
	TotalTokens int

	mu sync.Mutex
	// fileSettings are the settings last read from the config file.
	fileSettings chat.Settings
}

// NewChatSession wires a session from env. store may be nil.
func NewChatSession(env *Env, store *storage.Store, term *render.Terminal) *ChatSession {
	var resolver model.ImageResolver
	if store != nil {
		resolver = store
	}
	ctrl := chat.NewController(env.Client, term, chat.Config{
		Settings:  SettingsFromConfig(env.Config),
		Store:     env.Config,
		Resolver:  resolver,
		ShowStats: env.Config.UI.ShowStats,
		Logger:    env.Logger,
	})

	return &ChatSession{
		Config:    env.Config,
		Ctrl:      ctrl,
		Client:    env.Client,
		Store:     store,
		Term:      term,
		Out:       env.Out,
		Logger:    env.Logger,
		Quiet:     env.Quiet,
		StartTime: time.Now(),
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

func runChat(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	if err := env.Client.CheckRunning(ctx); err != nil {
		return fmt.Errorf("cannot reach Ollama at %s (start it with: ollama serve): %w", env.Client.BaseURL(), err)
	}

	term, err := newRenderer(env.Config, env.Out, "")
	if err != nil {
		return err
	}

	store := openStore(env)
	if store != nil {
		defer store.Close()
	}

	session := NewChatSession(env, store, term)
	session.Ctrl.EnsureModel(ctx)

	if id := c.String("resume"); id != "" {
		if err := session.loadConversation(id); err != nil {
			return err
		}
	}

	if path := env.Config.Source(); path != "" {
		session.fileSettings = SettingsFromConfig(env.Config)
		if onDisk, err := config.LoadFromPath(path); err == nil {
			session.fileSettings = SettingsFromConfig(onDisk)
		}
		watcher, err := config.NewWatcher(path, config.DefaultDebounce, env.Logger, session.applyConfig)
		if err != nil {
			env.Logger.Warn().Err(err).Str("path", path).Msg("config changes will not be picked up")
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	if !session.Quiet {
		printWelcome(session)
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C while a reply is streaming cancels it; at the prompt liner
	// handles it itself.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			session.Ctrl.Cancel()
		}
	}()

	for {
		line, err := input.ReadInput(promptStyle.Render("ollachat> "))
		if err != nil {
			// Ctrl+C or Ctrl+D at the prompt
			fmt.Fprintln(session.Out)
			session.printExitSummary()
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			shouldContinue, err := session.handleSlashCommand(ctx, line)
			if err != nil {
				fmt.Fprintf(session.Out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				session.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			session.printExitSummary()
			return nil
		}

		if err := session.processMessage(ctx, line); err != nil {
			fmt.Fprintf(session.Out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// openStore opens the history database, or returns nil with a warning.
func openStore(env *Env) *storage.Store {
	path, err := env.Config.DBPath()
	if err != nil {
		env.Logger.Warn().Err(err).Msg("conversation history disabled")
		return nil
	}
	store, err := storage.Open(path, env.Logger)
	if err != nil {
		env.Logger.Warn().Err(err).Str("path", path).Msg("conversation history disabled")
		return nil
	}
	return store
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage sends input with any pending images and records the turn.
func (s *ChatSession) processMessage(ctx context.Context, input string) error {
	images := s.pending
	s.pending, s.pendingNames = nil, nil

	outcome, err := s.Ctrl.Send(ctx, input, images...)
	if errors.Is(err, chat.ErrEmptyMessage) {
		return nil
	}
	if err != nil {
		return err
	}

	s.Turns++
	if outcome.Stats != nil {
		s.TotalTokens += outcome.Stats.CompletionTokens
	}

	if s.Config.Storage.AutoSave {
		s.autoSave()
	}
	return nil
}

func (s *ChatSession) autoSave() {
	if s.Store == nil {
		return
	}
	if err := s.Store.Save(s.Ctrl.Transcript()); err != nil {
		s.Logger.Warn().Err(err).Msg("auto-save failed")
	}
}

// applyConfig takes the settings that changed in a reloaded config file.
// Settings changed with slash commands or flags survive edits to other
// keys.
func (s *ChatSession) applyConfig(cfg *config.Config) {
	next := SettingsFromConfig(cfg)

	s.mu.Lock()
	prev := s.fileSettings
	s.fileSettings = next
	s.mu.Unlock()

	cur := s.Ctrl.Settings()
	changed := 0
	if next.Model != prev.Model && next.Model != "" {
		cur.Model = next.Model
		changed++
	}
	if next.SystemPrompt != prev.SystemPrompt {
		cur.SystemPrompt = next.SystemPrompt
		changed++
	}
	if !sameFloat(next.Temperature, prev.Temperature) {
		cur.Temperature = next.Temperature
		changed++
	}
	if next.NumCtx != prev.NumCtx {
		cur.NumCtx = next.NumCtx
		changed++
	}
	if next.Streaming != prev.Streaming {
		cur.Streaming = next.Streaming
		changed++
	}
	if changed == 0 {
		return
	}

	s.Ctrl.Apply(cur)
	s.Logger.Info().Int("changed", changed).Str("model", cur.Model).Msg("settings reloaded from config file")
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// loadConversation makes a saved conversation the current one.
func (s *ChatSession) loadConversation(prefix string) error {
	if s.Store == nil {
		return errNoStore
	}
	id, err := resolve(s.Store, prefix)
	if err != nil {
		return err
	}
	t, err := s.Store.Load(id)
	if err != nil {
		return err
	}
	return s.Ctrl.Load(t)
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (s *ChatSession) printWelcomeLine(label, value string) {
	fmt.Fprintf(s.Out, "%s %s\n", infoStyle.Render(label), commandStyle.Render(value))
}

// printWelcome prints the welcome banner.
func printWelcome(s *ChatSession) {
	settings := s.Ctrl.Settings()

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, welcomeStyle.Render("ollachat interactive chat"))
	fmt.Fprintln(s.Out, RenderSeparator(30))
	s.printWelcomeLine("Model:", settings.Model)
	s.printWelcomeLine("Server:", s.Client.BaseURL())
	if settings.Streaming {
		s.printWelcomeLine("Mode:", "Streaming")
	} else {
		s.printWelcomeLine("Mode:", "Whole replies")
	}
	if s.Ctrl.Transcript().Len() > 0 {
		s.printWelcomeLine("Resumed:", s.Ctrl.Transcript().Title())
	}
	if s.Store == nil {
		fmt.Fprintln(s.Out, warningStyle.Render("History database unavailable; /save and /load are disabled"))
	}

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.Out)
}

// printExitSummary prints the session summary on exit.
func (s *ChatSession) printExitSummary() {
	if s.Turns == 0 {
		fmt.Fprintln(s.Out, infoStyle.Render("Goodbye!"))
		return
	}

	elapsed := time.Since(s.StartTime).Round(time.Second)

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, summaryHeaderStyle.Render("Session Summary"))
	fmt.Fprintln(s.Out, RenderSeparator(15))
	fmt.Fprintf(s.Out, "  %s %d\n", infoStyle.Render("Messages:"), s.Turns)
	fmt.Fprintf(s.Out, "  %s %d\n", infoStyle.Render("Tokens:"), s.TotalTokens)
	fmt.Fprintf(s.Out, "  %s %s\n", infoStyle.Render("Duration:"), elapsed)
	if s.Store != nil && s.Config.Storage.AutoSave && s.Ctrl.Transcript().Len() > 0 {
		fmt.Fprintf(s.Out, "  %s %s\n", infoStyle.Render("Saved as:"), storage.ShortID(s.Ctrl.Transcript().ID()))
	}
	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, infoStyle.Render("Goodbye!"))
}
