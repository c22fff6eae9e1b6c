// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command for ollachat.
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   keys                List configuration keys
//   reset               Reset the config file to defaults
//   path                Show configuration file path
//
// Examples:
//   ollachat config set ollama.model llava
//   ollachat config set chat.temperature 0.2
//   ollachat config set ui.render_style plain
//   ollachat config show --json

package cli

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/ollachat/internal/config"
)

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "View and modify configuration",
	Subcommands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "Display the effective configuration",
			Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Output in JSON format"}},
			Action: handleConfigShow,
		},
		{
			Name:      "get",
			Usage:     "Print one configuration value",
			ArgsUsage: "<key>",
			Action:    handleConfigGet,
		},
		{
			Name:      "set",
			Usage:     "Set a value in the config file",
			ArgsUsage: "<key> <value>",
			Action:    handleConfigSet,
		},
		{
			Name:   "keys",
			Usage:  "List configuration keys",
			Action: handleConfigKeys,
		},
		{
			Name:   "reset",
			Usage:  "Reset the config file to defaults",
			Action: handleConfigReset,
		},
		{
			Name:   "path",
			Usage:  "Show configuration file path",
			Action: handleConfigPath,
		},
	},
	Action: handleConfigShow,
}

// editPath is the file config set/reset write: --config, or the file Load
// would read, or the default TOML path.
func editPath(c *cli.Context) string {
	if path := c.String("config"); path != "" {
		return path
	}
	path, _ := config.FindConfigFile()
	return path
}

func handleConfigShow(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return NewJSONResponse("config show", env.Config).Print(env.Out)
	}

	source := env.Config.Source()
	if source == "" {
		source = "(defaults, no file)"
	}
	fmt.Fprintln(env.Out, TitleStyle.Render("ollachat configuration"))
	fmt.Fprintf(env.Out, "%s %s\n\n", RenderLabel("File:"), source)
	fmt.Fprint(env.Out, env.Config.String())
	return nil
}

func handleConfigGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return ErrMissingArgument("key", "ollachat config get chat.temperature")
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	value, err := env.Config.Get(c.Args().First())
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "ollachat config keys"}
	}
	fmt.Fprintln(env.Out, value)
	return nil
}

func handleConfigSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return ErrMissingArgument("key and value", "ollachat config set ollama.model llava")
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	path := editPath(c)
	cfg, err := config.LoadForEdit(path)
	if err != nil {
		return &ConfigError{Err: err}
	}
	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Reason: err.Error(), Example: "ollachat config keys"}
	}
	cfg.Migrate()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return &ConfigError{Err: err}
	}

	fmt.Fprintf(c.App.Writer, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

func handleConfigKeys(c *cli.Context) error {
	keys := config.GetAllKeys()
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(c.App.Writer, k)
	}
	return nil
}

func handleConfigReset(c *cli.Context) error {
	path := editPath(c)
	if err := config.SaveTo(config.Default(), path); err != nil {
		return &ConfigError{Err: err}
	}
	fmt.Fprintf(c.App.Writer, "%s Configuration reset to defaults: %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

func handleConfigPath(c *cli.Context) error {
	path := editPath(c)
	fmt.Fprintln(c.App.Writer, path)
	return nil
}
