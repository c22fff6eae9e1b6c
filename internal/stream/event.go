// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Event is one decoded NDJSON frame of a chat stream.
type Event struct {
	// Delta is the text carried by message.content; empty means no delta.
	Delta string

	// Done is set on the final frame, which also carries the counters.
	Done               bool
	DoneReason         string
	Model              string
	PromptEvalCount    int
	EvalCount          int
	EvalDuration       time.Duration
	PromptEvalDuration time.Duration
	TotalDuration      time.Duration

	// ServerError is the text of an {"error": "..."} frame.
	ServerError string
}

var eventPaths = []string{
	"message.content",
	"done",
	"done_reason",
	"model",
	"prompt_eval_count",
	"eval_count",
	"eval_duration",
	"prompt_eval_duration",
	"total_duration",
	"error",
}

// ParseEvent decodes a single frame. Blank frames and frames without a
// message.content field yield an Event with no delta and a nil error.
// Frames that are not JSON, or whose message.content is not a string,
// return a *FrameError; the caller skips them.
func ParseEvent(frame string) (Event, error) {
	if strings.TrimSpace(frame) == "" {
		return Event{}, nil
	}
	if !gjson.Valid(frame) {
		return Event{}, &FrameError{Frame: frame, Reason: "not valid JSON"}
	}

	r := gjson.GetMany(frame, eventPaths...)

	var ev Event
	switch r[0].Type {
	case gjson.String:
		ev.Delta = r[0].String()
	case gjson.Null:
		// Missing or explicit null: a control frame.
	default:
		return Event{}, &FrameError{Frame: frame, Reason: "message.content is not a string"}
	}

	ev.Done = r[1].Bool()
	ev.DoneReason = r[2].String()
	ev.Model = r[3].String()
	ev.PromptEvalCount = int(r[4].Int())
	ev.EvalCount = int(r[5].Int())
	ev.EvalDuration = time.Duration(r[6].Int())
	ev.PromptEvalDuration = time.Duration(r[7].Int())
	ev.TotalDuration = time.Duration(r[8].Int())
	ev.ServerError = r[9].String()

	return ev, nil
}
