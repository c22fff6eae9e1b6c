// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Segment is a run of reply text, either ordinary answer text or the
// content of a <think> block.
type Segment struct {
	Text  string
	Think bool
	// Open is set on a think segment whose closing tag has not arrived.
	Open bool
}

// Segments splits text on <think>...</think> blocks. An unterminated block
// runs to the end of the text, which is what a reply looks like while the
// model is still reasoning. Empty answer runs are dropped.
func Segments(text string) []Segment {
	var segs []Segment
	for text != "" {
		i := strings.Index(text, thinkOpen)
		if i < 0 {
			segs = append(segs, Segment{Text: text})
			break
		}
		if i > 0 {
			segs = append(segs, Segment{Text: text[:i]})
		}
		text = text[i+len(thinkOpen):]

		j := strings.Index(text, thinkClose)
		if j < 0 {
			segs = append(segs, Segment{Text: text, Think: true, Open: true})
			break
		}
		segs = append(segs, Segment{Text: text[:j], Think: true})
		text = text[j+len(thinkClose):]
	}
	return segs
}

// StripThink returns text with every think block removed.
func StripThink(text string) string {
	var b strings.Builder
	for _, seg := range Segments(text) {
		if !seg.Think {
			b.WriteString(seg.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
