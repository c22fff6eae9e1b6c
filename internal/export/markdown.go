// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollachat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown with a YAML front
// matter header.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontMatter is marshalled by yaml.v3, which quotes titles containing
// newlines or YAML syntax.
type frontMatter struct {
	Title     string `yaml:"title"`
	Model     string `yaml:"model"`
	Date      string `yaml:"date"`
	Updated   string `yaml:"updated"`
	Messages  int    `yaml:"messages"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(t *model.Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	messages := t.Messages()
	if len(messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}
	meta := t.Meta()

	var sb strings.Builder

	if e.options.IncludeMetadata {
		header, err := yaml.Marshal(frontMatter{
			Title:     meta.Title,
			Model:     meta.Model,
			Date:      meta.CreatedAt.Format(time.RFC3339),
			Updated:   meta.UpdatedAt.Format(time.RFC3339),
			Messages:  len(messages),
			Exported:  time.Now().Format(time.RFC3339),
			Generator: "ollachat",
		})
		if err != nil {
			return nil, fmt.Errorf("front matter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(header)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(meta.Title))

	for i, msg := range messages {
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", msg.Role.DisplayName(), msg.Timestamp.Format("15:04:05"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", msg.Role.DisplayName())
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if n := len(msg.Images); n > 0 {
			fmt.Fprintf(&sb, "*[%d image(s) attached]*\n\n", n)
		}
		if msg.Partial {
			sb.WriteString("*[stopped]*\n\n")
		}
		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata {
			if stats := formatMessageStats(&msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		if i < len(messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// formatMessageStats formats statistics for a reply.
func formatMessageStats(msg *model.Message) string {
	var parts []string
	if msg.TokenCount > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", msg.TokenCount))
	}
	if msg.TotalDuration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", formatDuration(msg.TotalDuration)))
	}
	if msg.TTFT > 0 {
		parts = append(parts, fmt.Sprintf("TTFT: %s", formatDuration(msg.TTFT)))
	}
	if msg.TokensPerSec > 0 {
		parts = append(parts, fmt.Sprintf("Speed: %.1f tok/s", msg.TokensPerSec))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
