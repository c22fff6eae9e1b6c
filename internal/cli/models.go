// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var modelsCommand = &cli.Command{
	Name:  "models",
	Usage: "List models installed on the Ollama server",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "Output in JSON format"},
	},
	Action: runModels,
}

func runModels(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}

	infos, err := env.Client.ListModels(c.Context)
	if err != nil {
		return fmt.Errorf("could not list models: %w", err)
	}
	if c.Bool("json") {
		return NewJSONResponse("models", infos).Print(env.Out)
	}

	names, err := env.Client.ModelNames(c.Context)
	if err != nil {
		return fmt.Errorf("could not list models: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(env.Out, "No models installed. Pull one with: ollama pull llama3")
		return nil
	}
	for _, name := range names {
		marker := "  "
		if name == env.Config.Ollama.Model {
			marker = "* "
		}
		fmt.Fprintf(env.Out, "%s%s\n", marker, name)
	}
	return nil
}
