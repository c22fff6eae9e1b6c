// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved conversation management.
//
// Examples:
//   ollachat history                  List saved conversations
//   ollachat history show 1a2b3c4d    Print a conversation
//   ollachat history search channels  Find conversations
//   ollachat history delete 1a2b3c4d
//   ollachat history export 1a2b3c4d --format json
//   ollachat chat --resume 1a2b3c4d   Continue one

package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/ollachat/internal/export"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/render"
	"github.com/jeranaias/ollachat/internal/storage"
)

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Manage saved conversations",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List saved conversations",
			Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Output in JSON format"}},
			Action: handleHistoryList,
		},
		{
			Name:      "show",
			Usage:     "Print a saved conversation",
			ArgsUsage: "<id>",
			Action:    handleHistoryShow,
		},
		{
			Name:      "search",
			Usage:     "Find conversations containing text",
			ArgsUsage: "<text>",
			Action:    handleHistorySearch,
		},
		{
			Name:      "delete",
			Usage:     "Delete a saved conversation",
			ArgsUsage: "<id>",
			Action:    handleHistoryDelete,
		},
		{
			Name:      "export",
			Usage:     "Write a saved conversation to a Markdown or JSON file",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "markdown", Usage: "markdown or json"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: ".", Usage: "Output directory"},
				&cli.BoolFlag{Name: "no-metadata", Usage: "Omit front matter and statistics"},
			},
			Action: handleHistoryExport,
		},
		{
			Name:   "clear",
			Usage:  "Delete all saved conversations",
			Flags:  []cli.Flag{&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Do not ask for confirmation"}},
			Action: handleHistoryClear,
		},
	},
	Action: handleHistoryList,
}

// withStore runs fn against the history database.
func withStore(c *cli.Context, fn func(env *Env, store *storage.Store) error) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	path, err := env.Config.DBPath()
	if err != nil {
		return &ConfigError{Err: err}
	}
	store, err := storage.Open(path, env.Logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(env, store)
}

// resolve expands a short id, mapping a miss to NotFoundError.
func resolve(store *storage.Store, prefix string) (string, error) {
	metas, err := store.List()
	if err != nil {
		return "", err
	}
	id, err := storage.ResolveID(metas, prefix)
	if errors.Is(err, storage.ErrConversationNotFound) {
		return "", &NotFoundError{Resource: "conversation", ID: prefix}
	}
	return id, err
}

func handleHistoryList(c *cli.Context) error {
	return withStore(c, func(env *Env, store *storage.Store) error {
		metas, err := store.List()
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return NewJSONResponse("history list", metas).Print(env.Out)
		}
		fmt.Fprint(env.Out, storage.FormatSessionList(metas))
		return nil
	})
}

func handleHistorySearch(c *cli.Context) error {
	if c.NArg() == 0 {
		return ErrMissingArgument("search text", "ollachat history search channels")
	}
	return withStore(c, func(env *Env, store *storage.Store) error {
		metas, err := store.Search(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Fprint(env.Out, storage.FormatSessionList(metas))
		return nil
	})
}

func handleHistoryShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return ErrMissingArgument("conversation id", "ollachat history show 1a2b3c4d")
	}
	return withStore(c, func(env *Env, store *storage.Store) error {
		id, err := resolve(store, c.Args().First())
		if err != nil {
			return err
		}
		t, err := store.Load(id)
		if err != nil {
			return err
		}
		term, err := newRenderer(env.Config, env.Out, "")
		if err != nil {
			return err
		}

		meta := t.Meta()
		fmt.Fprintln(env.Out, TitleStyle.Render(meta.Title))
		fmt.Fprintf(env.Out, "%s %s\n", RenderLabel("Model:"), meta.Model)
		fmt.Fprintf(env.Out, "%s %s\n\n", RenderLabel("Updated:"), meta.UpdatedAt.Format("2006-01-02 15:04"))

		for _, msg := range t.Messages() {
			fmt.Fprintln(env.Out, roleLabel(msg.Role))
			switch {
			case msg.Role == model.RoleAssistant:
				term.Println(term.Render(msg.Content))
			default:
				term.Println(historyBody(msg))
			}
			if msg.Role == model.RoleAssistant && msg.TokenCount > 0 {
				term.Notice(render.KindInfo, msg.FormatStats())
			}
			fmt.Fprintln(env.Out)
		}
		return nil
	})
}

func historyBody(msg model.Message) string {
	if n := len(msg.Images); n > 0 {
		return fmt.Sprintf("%s\n[%d image(s)]", msg.Content, n)
	}
	return msg.Content
}

func handleHistoryDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return ErrMissingArgument("conversation id", "ollachat history delete 1a2b3c4d")
	}
	return withStore(c, func(env *Env, store *storage.Store) error {
		id, err := resolve(store, c.Args().First())
		if err != nil {
			return err
		}
		if err := store.Delete(id); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s Deleted %s\n", SuccessStyle.Render("[OK]"), storage.ShortID(id))
		return nil
	})
}

func handleHistoryExport(c *cli.Context) error {
	if c.NArg() != 1 {
		return ErrMissingArgument("conversation id", "ollachat history export 1a2b3c4d --format json")
	}
	opts := export.DefaultOptions()
	if c.Bool("no-metadata") {
		opts.IncludeMetadata = false
	}
	exp, err := export.ForFormat(c.String("format"), opts)
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "ollachat history export 1a2b3c4d --format json"}
	}
	return withStore(c, func(env *Env, store *storage.Store) error {
		id, err := resolve(store, c.Args().First())
		if err != nil {
			return err
		}
		t, err := store.Load(id)
		if err != nil {
			return err
		}
		path, err := export.ExportToFile(t, exp, c.String("out"))
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s Exported to %s\n", SuccessStyle.Render("[OK]"), path)
		return nil
	})
}

func handleHistoryClear(c *cli.Context) error {
	if !c.Bool("yes") {
		return &UsageError{Reason: "this deletes every saved conversation; pass --yes to confirm", Example: "ollachat history clear --yes"}
	}
	return withStore(c, func(env *Env, store *storage.Store) error {
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s All conversations deleted\n", SuccessStyle.Render("[OK]"))
		return nil
	})
}
