// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

// Kind is the severity of a notice.
type Kind int

const (
	KindInfo Kind = iota
	KindWarn
	KindError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindWarn:
		return "warn"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Renderer displays one assistant turn at a time as its text grows.
//
// BeginTurn opens a turn. Delta is called for every received fragment, in
// order. EndTurn closes the turn with the full text; partial is true when
// the turn was cut short by cancellation or a read failure. Notice shows a
// line outside of any turn.
type Renderer interface {
	BeginTurn()
	Delta(text string)
	EndTurn(final string, partial bool)
	Notice(kind Kind, text string)
}

// Discard is a Renderer that shows nothing.
var Discard Renderer = discard{}

type discard struct{}

func (discard) BeginTurn()           {}
func (discard) Delta(string)         {}
func (discard) EndTurn(string, bool) {}
func (discard) Notice(Kind, string)  {}
