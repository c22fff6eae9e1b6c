// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
// Role never changes after creation. Content of an assistant message only
// changes while it is the in-flight turn of a Transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Images    []Image   `json:"-"`

	// Generation metrics (assistant messages only)
	TokenCount    int           `json:"token_count,omitempty"`
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
	TokensPerSec  float64       `json:"tokens_per_sec,omitempty"`

	// Partial is set when the turn ended before the model finished
	// (user cancellation or a mid-stream read failure).
	Partial bool `json:"partial,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string, images ...Image) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Images:    images,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string, images ...Image) *Message {
	return NewMessage(RoleUser, content, images...)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message carries neither text nor images.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && len(m.Images) == 0
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m *Message) EstimateTokens() int {
	return (len(m.Content) + 3) / 4
}

// ApplyStats copies generation metrics onto the message.
func (m *Message) ApplyStats(stats *Statistics) {
	if stats == nil {
		return
	}
	m.TTFT = stats.TTFT
	m.TotalDuration = stats.TotalDuration
	m.TokenCount = stats.CompletionTokens
	m.TokensPerSec = stats.TokensPerSecond
}

// FormatStats returns a formatted string of message statistics.
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.TotalDuration == 0 {
		return ""
	}
	return formatStats(m.TotalDuration, m.TokenCount, m.TokensPerSec, m.TTFT)
}

// clone returns a copy that does not share the image slice.
func (m *Message) clone() Message {
	c := *m
	if m.Images != nil {
		c.Images = append([]Image(nil), m.Images...)
	}
	return c
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing and token count information for a generation.
type Statistics struct {
	// Timestamps
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	// Token counts, as reported by the server on the final frame
	PromptTokens     int
	CompletionTokens int

	// Durations, as reported by the server
	EvalDuration time.Duration

	// Derived metrics
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics. Server-reported counters take
// precedence; deltas is the locally observed count used when the stream
// ended without a final frame.
func (s *Statistics) Finalize(deltas int) {
	s.EndTime = time.Now()
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
	if s.CompletionTokens == 0 {
		s.CompletionTokens = deltas
	}

	switch {
	case s.EvalDuration > 0:
		s.TokensPerSecond = float64(s.CompletionTokens) / s.EvalDuration.Seconds()
	case s.TotalDuration > 0:
		s.TokensPerSecond = float64(s.CompletionTokens) / s.TotalDuration.Seconds()
	}
}

// Format returns a formatted string of the statistics.
func (s *Statistics) Format() string {
	return formatStats(s.TotalDuration, s.CompletionTokens, s.TokensPerSecond, s.TTFT)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func generateID() string {
	return "msg_" + uuid.NewString()
}

// formatStats renders "2.5s | 128 tokens | 51.2 tok/s | TTFT 234ms".
func formatStats(total time.Duration, tokens int, tps float64, ttft time.Duration) string {
	var elapsed string
	if total < time.Second {
		elapsed = fmt.Sprintf("%dms", total.Milliseconds())
	} else {
		elapsed = fmt.Sprintf("%.1fs", total.Seconds())
	}
	return fmt.Sprintf("%s | %d tokens | %.1f tok/s | TTFT %dms", elapsed, tokens, tps, ttft.Milliseconds())
}
