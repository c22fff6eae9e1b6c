// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/export"
	"github.com/jeranaias/ollachat/internal/imageutil"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (s *ChatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")
	command = strings.ToLower(command)
	rest = strings.TrimSpace(rest)

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/clear", "/c":
		if err := s.Ctrl.Clear(); err != nil {
			return true, err
		}
		s.pending, s.pendingNames = nil, nil
		fmt.Fprintln(s.Out, commandStyle.Render("[Conversation cleared]"))
		return true, nil

	case "/model", "/m":
		return true, s.handleModelCommand(ctx, rest)

	case "/models":
		return true, s.handleModelsCommand(ctx)

	case "/system":
		return true, s.handleSystemCommand(rest)

	case "/temp", "/temperature":
		return true, s.handleTempCommand(rest)

	case "/ctx":
		return true, s.handleCtxCommand(rest)

	case "/stream":
		return true, s.handleStreamCommand(rest)

	case "/image", "/img":
		return true, s.handleImageCommand(rest)

	case "/history":
		s.printHistory()
		return true, nil

	case "/save":
		return true, s.handleSaveCommand()

	case "/load":
		return true, s.handleLoadCommand(rest)

	case "/list", "/ls":
		return true, s.handleListCommand()

	case "/delete":
		return true, s.handleDeleteCommand(rest)

	case "/export":
		return true, s.handleExportCommand(rest)

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// handleModelCommand shows or switches the model. A new choice is saved to
// the config file so the next session starts with it.
func (s *ChatSession) handleModelCommand(ctx context.Context, name string) error {
	if name == "" {
		fmt.Fprintf(s.Out, "%s Current model: %s\n",
			infoStyle.Render("[Model]"),
			commandStyle.Render(s.Ctrl.Settings().Model))
		return nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !s.Client.ModelExists(checkCtx, name) {
		fmt.Fprintf(s.Out, "%s Model '%s' not found locally, will attempt to use anyway\n",
			warningStyle.Render("[Warning]"), name)
	}

	s.Ctrl.SetModel(name)
	if err := s.Config.SaveModel(name); err != nil {
		s.Logger.Warn().Err(err).Str("model", name).Msg("could not save model choice")
	}
	fmt.Fprintf(s.Out, "%s Switched to model: %s\n", commandStyle.Render("[OK]"), name)
	return nil
}

// handleModelsCommand lists the models the server has.
func (s *ChatSession) handleModelsCommand(ctx context.Context) error {
	names, err := s.Client.ModelNames(ctx)
	if err != nil {
		return fmt.Errorf("could not list models: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(s.Out, infoStyle.Render("No models installed. Pull one with: ollama pull llama3"))
		return nil
	}

	current := s.Ctrl.Settings().Model
	fmt.Fprintln(s.Out, summaryHeaderStyle.Render("Available Models"))
	for _, name := range names {
		marker := "  "
		if name == current {
			marker = commandStyle.Render("* ")
		}
		fmt.Fprintf(s.Out, "%s%s\n", marker, name)
	}
	return nil
}

// handleSystemCommand shows or replaces the system prompt. "none" sends no
// system prompt; "default" restores the configured one.
func (s *ChatSession) handleSystemCommand(arg string) error {
	switch strings.ToLower(arg) {
	case "":
		prompt := s.Ctrl.Settings().SystemPrompt
		if prompt == "" {
			prompt = "(none)"
		}
		fmt.Fprintf(s.Out, "%s %s\n", infoStyle.Render("[System]"), prompt)
		return nil
	case "none", "off":
		s.Ctrl.SetSystemPrompt("")
		fmt.Fprintln(s.Out, commandStyle.Render("[System prompt disabled]"))
		return nil
	case "default", "reset":
		s.Ctrl.SetSystemPrompt(s.Config.Chat.SystemPrompt)
	default:
		s.Ctrl.SetSystemPrompt(arg)
	}
	fmt.Fprintln(s.Out, commandStyle.Render("[System prompt updated]"))
	return nil
}

func (s *ChatSession) handleTempCommand(arg string) error {
	if arg == "" {
		if t := s.Ctrl.Settings().Temperature; t != nil {
			fmt.Fprintf(s.Out, "%s %g\n", infoStyle.Render("[Temperature]"), *t)
		} else {
			fmt.Fprintf(s.Out, "%s server default\n", infoStyle.Render("[Temperature]"))
		}
		return nil
	}

	t, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return &UsageError{Reason: "temperature must be a number", Example: "/temp 0.7"}
	}
	if err := config.ValidateTemperature(t); err != nil {
		return &UsageError{Reason: "temperature " + err.Error()}
	}
	s.Ctrl.SetTemperature(&t)
	fmt.Fprintf(s.Out, "%s Temperature set to %g\n", commandStyle.Render("[OK]"), t)
	return nil
}

func (s *ChatSession) handleCtxCommand(arg string) error {
	if arg == "" {
		fmt.Fprintf(s.Out, "%s %d tokens\n", infoStyle.Render("[Context]"), s.Ctrl.Settings().NumCtx)
		return nil
	}

	n, err := strconv.Atoi(arg)
	if err != nil {
		return &UsageError{Reason: "context size must be a whole number", Example: "/ctx 8192"}
	}
	if err := config.ValidateNumCtx(n); err != nil {
		return &UsageError{Reason: "context size " + err.Error()}
	}
	s.Ctrl.SetNumCtx(n)
	fmt.Fprintf(s.Out, "%s Context size set to %d\n", commandStyle.Render("[OK]"), n)
	return nil
}

func (s *ChatSession) handleStreamCommand(arg string) error {
	switch strings.ToLower(arg) {
	case "":
		state := "off"
		if s.Ctrl.Settings().Streaming {
			state = "on"
		}
		fmt.Fprintf(s.Out, "%s %s\n", infoStyle.Render("[Streaming]"), state)
		return nil
	case "on", "true", "1":
		s.Ctrl.SetStreaming(true)
	case "off", "false", "0":
		s.Ctrl.SetStreaming(false)
	default:
		return &UsageError{Reason: "expected on or off", Example: "/stream off"}
	}
	return s.handleStreamCommand("")
}

// handleImageCommand attaches an image to the next message. "/image clear"
// drops pending attachments.
func (s *ChatSession) handleImageCommand(arg string) error {
	if arg == "" {
		if len(s.pendingNames) == 0 {
			fmt.Fprintln(s.Out, infoStyle.Render("[No images attached]"))
		} else {
			fmt.Fprintf(s.Out, "%s %s\n", infoStyle.Render("[Attached]"), strings.Join(s.pendingNames, ", "))
		}
		return nil
	}
	if strings.EqualFold(arg, "clear") {
		s.pending, s.pendingNames = nil, nil
		fmt.Fprintln(s.Out, commandStyle.Render("[Attachments cleared]"))
		return nil
	}

	path := strings.Trim(arg, `"'`)
	data, err := imageutil.LoadAttachment(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	s.pending = append(s.pending, model.RawImage(data))
	s.pendingNames = append(s.pendingNames, name)
	fmt.Fprintf(s.Out, "%s %s (%d KB) will be sent with your next message\n",
		commandStyle.Render("[Image]"), name, (len(data)+1023)/1024)
	return nil
}

// =============================================================================
// CONVERSATION HISTORY
// =============================================================================

var errNoStore = errors.New("conversation history is not available")

func (s *ChatSession) handleSaveCommand() error {
	if s.Store == nil {
		return errNoStore
	}
	t := s.Ctrl.Transcript()
	if t.Len() == 0 {
		fmt.Fprintln(s.Out, infoStyle.Render("[Nothing to save]"))
		return nil
	}
	if err := s.Store.Save(t); err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	fmt.Fprintf(s.Out, "%s Saved as %s\n", commandStyle.Render("[OK]"), storage.ShortID(t.ID()))
	return nil
}

func (s *ChatSession) handleLoadCommand(arg string) error {
	if arg == "" {
		return ErrMissingArgument("conversation id", "/load 1a2b3c4d (see /list)")
	}
	if err := s.loadConversation(arg); err != nil {
		return err
	}
	s.pending, s.pendingNames = nil, nil
	t := s.Ctrl.Transcript()
	fmt.Fprintf(s.Out, "%s Loaded %q (%d messages, model %s)\n",
		commandStyle.Render("[OK]"), t.Title(), t.Len(), s.Ctrl.Settings().Model)
	return nil
}

func (s *ChatSession) handleListCommand() error {
	if s.Store == nil {
		return errNoStore
	}
	metas, err := s.Store.List()
	if err != nil {
		return err
	}
	fmt.Fprint(s.Out, storage.FormatSessionList(metas))
	return nil
}

func (s *ChatSession) handleDeleteCommand(arg string) error {
	if s.Store == nil {
		return errNoStore
	}
	if arg == "" {
		return ErrMissingArgument("conversation id", "/delete 1a2b3c4d")
	}
	id, err := resolve(s.Store, arg)
	if err != nil {
		return err
	}
	if id == s.Ctrl.Transcript().ID() {
		return errors.New("cannot delete the conversation in progress (use /clear first)")
	}
	if err := s.Store.Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "%s Deleted %s\n", commandStyle.Render("[OK]"), storage.ShortID(id))
	return nil
}

// handleExportCommand writes the current conversation into the working
// directory as Markdown, or JSON with "/export json".
func (s *ChatSession) handleExportCommand(arg string) error {
	t := s.Ctrl.Transcript()
	if t.Len() == 0 {
		fmt.Fprintln(s.Out, infoStyle.Render("[Nothing to export]"))
		return nil
	}
	exp, err := export.ForFormat(arg, nil)
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "/export json"}
	}
	path, err := export.ExportToFile(t, exp, ".")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "%s Exported to %s\n", commandStyle.Render("[OK]"), path)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// printHelp prints available commands.
func (s *ChatSession) printHelp() {
	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, summaryHeaderStyle.Render("Available Commands"))
	fmt.Fprintln(s.Out, RenderSeparator(20))
	fmt.Fprintln(s.Out)

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Start a new conversation"},
		{"/model [name]", "Show or switch model"},
		{"/models", "List installed models"},
		{"/system [text]", "Show or set the system prompt (none, default)"},
		{"/temp [n]", "Show or set temperature (0-2)"},
		{"/ctx [n]", "Show or set context window size"},
		{"/stream [on|off]", "Show or toggle streaming"},
		{"/image <path>", "Attach an image to the next message"},
		{"/history", "Show conversation history"},
		{"/save", "Save the conversation"},
		{"/list", "List saved conversations"},
		{"/load <id>", "Load a saved conversation"},
		{"/delete <id>", "Delete a saved conversation"},
		{"/export [json]", "Write the conversation to a file"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Fprintf(s.Out, "  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-17s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, infoStyle.Render("Tip: Ctrl+C cancels current generation, Ctrl+D exits"))
	fmt.Fprintln(s.Out)
}

// printHistory prints conversation history.
func (s *ChatSession) printHistory() {
	messages := s.Ctrl.Transcript().Messages()
	if len(messages) == 0 {
		fmt.Fprintln(s.Out, infoStyle.Render("[No messages yet]"))
		return
	}

	fmt.Fprintln(s.Out)
	fmt.Fprintln(s.Out, summaryHeaderStyle.Render("Conversation History"))
	fmt.Fprintln(s.Out, RenderSeparator(25))
	fmt.Fprintln(s.Out)

	for i, msg := range messages {
		fmt.Fprintf(s.Out, "  %d. %s: %s\n", i+1, roleLabel(msg.Role), historyLine(msg))
	}
	fmt.Fprintln(s.Out)
}

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return userRoleStyle.Render(role.DisplayName())
	case model.RoleAssistant:
		return assistantRoleStyle.Render(role.DisplayName())
	default:
		return systemRoleStyle.Render(role.DisplayName())
	}
}

// historyLine is a one-line preview of a message.
func historyLine(msg model.Message) string {
	content := strings.ReplaceAll(msg.Content, "\n", " ")
	content = util.TruncateRunes(content, 100)
	if n := len(msg.Images); n > 0 {
		content = strings.TrimSpace(fmt.Sprintf("%s [%d image(s)]", content, n))
	}
	if msg.Partial {
		content += " [stopped]"
	}
	return content
}
