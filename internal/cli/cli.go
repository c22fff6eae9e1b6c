// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags apply to every command and override the config file.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a config file (.toml, .yaml or .json)",
			EnvVars: []string{"OLLACHAT_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "Ollama server URL",
		},
		&cli.StringFlag{
			Name:    "model",
			Aliases: []string{"m"},
			Usage:   "Model to chat with",
		},
		&cli.StringFlag{
			Name:  "system",
			Usage: "System prompt (empty sends none)",
		},
		&cli.Float64Flag{
			Name:    "temperature",
			Aliases: []string{"t"},
			Usage:   "Sampling temperature (0-2)",
		},
		&cli.IntFlag{
			Name:  "num-ctx",
			Usage: "Context window size in tokens",
		},
		&cli.BoolFlag{
			Name:  "no-stream",
			Usage: "Wait for the whole reply instead of streaming it",
		},
		&cli.StringFlag{
			Name:  "theme",
			Usage: "Color theme: light, dark or auto",
		},
		&cli.StringFlag{
			Name:  "style",
			Usage: "Reply rendering: markdown, code or plain",
		},
		&cli.BoolFlag{
			Name:  "no-stats",
			Usage: "Do not print generation statistics",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: trace, debug, info, warn or error",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Minimal output",
		},
	}
}

// NewApp builds the ollachat command tree. Output goes to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	return &cli.App{
		Name:    "ollachat",
		Usage:   "Chat with local Ollama models from the terminal",
		Version: Version,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			chatCommand,
			askCommand,
			modelsCommand,
			historyCommand,
			configCommand,
			versionCommand,
		},
		Action:    runChat,
		Writer:    out,
		ErrWriter: errOut,
		// Errors are displayed once by Run's caller.
		ExitErrHandler: func(*cli.Context, error) {},
		HideVersion:    true,
	}
}

// Run executes the app and returns the process exit code.
func Run(args []string) int {
	app := NewApp(os.Stdout, os.Stderr)
	if err := app.Run(args); err != nil {
		if !IsSilent(err) {
			DisplayError(app.ErrWriter, err)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "ollachat version %s\n", Version)
		fmt.Fprintf(c.App.Writer, "  Git commit: %s\n", GitCommit)
		fmt.Fprintf(c.App.Writer, "  Built:      %s\n", BuildDate)
		return nil
	},
}
