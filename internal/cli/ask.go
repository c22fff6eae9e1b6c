// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command for ollachat.
//
// Examples:
//   ollachat ask "What is the capital of France?"
//   ollachat ask --image cat.png "What is in this picture?"
//   cat notes.md | ollachat ask "Summarize:"
//   ollachat ask --json "Name three primes"

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/imageutil"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/render"
	"github.com/jeranaias/ollachat/internal/stream"
)

// MaxStdinSize caps how much piped input ask reads.
const MaxStdinSize = 1 << 20

var askCommand = &cli.Command{
	Name:      "ask",
	Usage:     "Ask a single question and print the reply",
	ArgsUsage: "[question...]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "image",
			Aliases: []string{"i"},
			Usage:   "Attach an image (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the reply and statistics as JSON",
		},
		&cli.BoolFlag{
			Name:  "save",
			Usage: "Save the exchange to conversation history",
		},
	},
	Action: runAsk,
}

// askResult is the --json payload.
type askResult struct {
	Model        string  `json:"model"`
	Response     string  `json:"response"`
	State        string  `json:"state"`
	Tokens       int     `json:"tokens,omitempty"`
	PromptTokens int     `json:"prompt_tokens,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TTFTMs       int64   `json:"ttft_ms,omitempty"`
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
	Conversation string  `json:"conversation_id,omitempty"`
}

func runAsk(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	jsonMode := c.Bool("json")

	question, err := readQuestion(c.Args().Slice(), c.App.Reader, env.Quiet, env.ErrOut)
	if err != nil {
		return err
	}

	var images []model.Image
	for _, path := range c.StringSlice("image") {
		data, err := imageutil.LoadAttachment(path)
		if err != nil {
			return err
		}
		images = append(images, model.RawImage(data))
	}
	if question == "" && len(images) == 0 {
		return ErrMissingArgument("question", `ollachat ask "your question"`)
	}

	var renderer render.Renderer = render.Discard
	if !jsonMode {
		term, err := newRenderer(env.Config, env.Out, "")
		if err != nil {
			return err
		}
		renderer = term
	}

	ctrl := chat.NewController(env.Client, renderer, chat.Config{
		Settings:  SettingsFromConfig(env.Config),
		Store:     env.Config,
		ShowStats: env.Config.UI.ShowStats && !env.Quiet && !jsonMode,
		Logger:    env.Logger,
	})

	ctx := c.Context
	modelName := ctrl.EnsureModel(ctx)

	outcome, err := ctrl.Send(ctx, question, images...)
	if err != nil {
		return err
	}

	var convID string
	if c.Bool("save") {
		if store := openStore(env); store != nil {
			if err := store.Save(ctrl.Transcript()); err != nil {
				env.Logger.Warn().Err(err).Msg("could not save conversation")
			} else {
				convID = ctrl.Transcript().ID()
			}
			store.Close()
		}
	}

	if jsonMode {
		if outcome.State == stream.StateFailed {
			if err := NewJSONErrorResponse("ask", failure(outcome)).Print(env.Out); err != nil {
				return err
			}
			return &silentError{err: failure(outcome)}
		}
		result := askResult{
			Model:        modelName,
			Response:     render.StripThink(outcome.Text),
			State:        outcome.State.String(),
			Conversation: convID,
		}
		if st := outcome.Stats; st != nil {
			result.Tokens = st.CompletionTokens
			result.PromptTokens = st.PromptTokens
			result.DurationMs = st.TotalDuration.Milliseconds()
			result.TTFTMs = st.TTFT.Milliseconds()
			result.TokensPerSec = st.TokensPerSecond
		}
		if err := NewJSONResponse("ask", result).Print(env.Out); err != nil {
			return err
		}
	}

	if outcome.State == stream.StateFailed {
		// The renderer already showed the message.
		return &silentError{err: failure(outcome)}
	}
	return nil
}

// readQuestion joins args, and appends piped stdin when there is any.
func readQuestion(args []string, in io.Reader, quiet bool, errOut io.Writer) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))

	if in == nil {
		in = os.Stdin
	}
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return question, nil
		}
	}

	data, err := io.ReadAll(io.LimitReader(in, MaxStdinSize+1))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) > MaxStdinSize {
		return "", &UsageError{Reason: fmt.Sprintf("piped input exceeds %d bytes", MaxStdinSize)}
	}
	piped := strings.TrimSpace(string(data))
	if piped == "" {
		return question, nil
	}
	if !quiet {
		fmt.Fprintf(errOut, "%s Read %d bytes from stdin\n", infoStyle.Render("[+]"), len(data))
	}
	if question == "" {
		return piped, nil
	}
	return question + "\n\n" + piped, nil
}

func failure(o *chat.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	return errors.New("request failed")
}

// silentError carries an exit status for a failure already shown to the
// user.
type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

// IsSilent reports whether err has already been displayed.
func IsSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}
