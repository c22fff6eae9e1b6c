// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// chromaStyle picks a highlighting palette for the terminal theme.
func chromaStyle(theme string) string {
	if theme == ThemeLight {
		return "github"
	}
	return "monokai"
}

// HighlightFences returns text with the body of every ``` fenced block
// syntax highlighted. Text outside fences is left alone. An unclosed fence
// is highlighted to the end so a block still being streamed gets colour.
func HighlightFences(text, theme string) string {
	lines := strings.Split(text, "\n")
	var out []string
	var code []string
	var language string
	inFence := false

	flush := func() {
		if len(code) == 0 {
			return
		}
		out = append(out, highlightCode(strings.Join(code, "\n"), language, theme))
		code = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				flush()
				out = append(out, line)
				language = ""
				inFence = false
			} else {
				out = append(out, line)
				language = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
				inFence = true
			}
			continue
		}
		if inFence {
			code = append(code, line)
			continue
		}
		out = append(out, line)
	}
	if inFence {
		flush()
	}

	return strings.Join(out, "\n")
}

// highlightCode applies syntax highlighting using chroma. The input is
// returned unchanged if nothing suitable is found.
func highlightCode(code, language, theme string) string {
	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get(chromaStyle(theme))
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}

	return strings.TrimSuffix(buf.String(), "\n")
}
