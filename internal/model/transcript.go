// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, the oldest messages are pruned on the next Append.
const MaxMessages = 1000

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered conversation history. It is append-only, except
// that the in-flight assistant turn may be amended until it ends. At most one
// turn is in flight and it is always the last message.
//
// Transcript is safe for concurrent use; violations of the single in-flight
// turn rule fail fast with an *InvariantViolation.
type Transcript struct {
	mu sync.RWMutex

	id        string
	title     string
	model     string
	createdAt time.Time
	updatedAt time.Time

	messages []*Message
	inFlight bool
}

// NewTranscript creates an empty transcript with a generated ID.
func NewTranscript() *Transcript {
	now := time.Now()
	return &Transcript{
		id:        "conv_" + uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		messages:  make([]*Message, 0),
	}
}

// RestoreTranscript rebuilds a transcript from persisted messages. No turn
// is in flight afterwards.
func RestoreTranscript(meta ConversationMeta, messages []*Message) *Transcript {
	t := &Transcript{
		id:        meta.ID,
		title:     meta.Title,
		model:     meta.Model,
		createdAt: meta.CreatedAt,
		updatedAt: meta.UpdatedAt,
		messages:  make([]*Message, 0, len(messages)),
	}
	for _, m := range messages {
		if m != nil {
			t.messages = append(t.messages, m)
		}
	}
	return t
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a completed message. It fails while a turn is in flight,
// because the in-flight message must stay last.
func (t *Transcript) Append(msg *Message) error {
	if msg == nil {
		return violation("append", "nil message")
	}
	if !msg.Role.Valid() {
		return violation("append", "unknown role "+string(msg.Role))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return violation("append", "a turn is in flight")
	}

	t.messages = append(t.messages, msg)
	t.touch()
	t.updateTitle()
	t.pruneOldMessages()
	return nil
}

// BeginTurn pre-appends the empty assistant placeholder that the next
// stream will fill. Starting a second turn while one is in flight is an
// *InvariantViolation.
func (t *Transcript) BeginTurn() (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return nil, violation("begin turn", "a turn is already in flight")
	}

	msg := NewAssistantMessage("")
	t.messages = append(t.messages, msg)
	t.inFlight = true
	t.touch()
	return msg, nil
}

// Amend replaces the content of the in-flight turn. It never changes the
// message count or role order.
func (t *Transcript) Amend(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inFlight {
		return violation("amend", "no turn in flight")
	}
	t.messages[len(t.messages)-1].Content = content
	return nil
}

// EndTurn freezes the in-flight turn with its final content. partial marks a
// turn that ended early. A turn that ended with no content is removed, so
// the transcript never keeps an empty assistant message.
func (t *Transcript) EndTurn(stats *Statistics, partial bool) (*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inFlight {
		return nil, violation("end turn", "no turn in flight")
	}
	t.inFlight = false
	t.touch()

	last := t.messages[len(t.messages)-1]
	if last.Content == "" {
		t.messages = t.messages[:len(t.messages)-1]
		return nil, nil
	}
	last.ApplyStats(stats)
	last.Partial = partial
	return last, nil
}

// AbortTurn removes the in-flight placeholder; nothing from the turn is kept.
func (t *Transcript) AbortTurn() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inFlight {
		return violation("abort turn", "no turn in flight")
	}
	t.messages = t.messages[:len(t.messages)-1]
	t.inFlight = false
	t.touch()
	return nil
}

// InFlight reports whether a turn is currently receiving content.
func (t *Transcript) InFlight() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inFlight
}

// Clear removes all messages. It fails while a turn is in flight.
func (t *Transcript) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return violation("clear", "a turn is in flight")
	}
	t.messages = make([]*Message, 0)
	t.title = ""
	t.touch()
	return nil
}

// Len returns the number of messages, including an in-flight placeholder.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns a copy of the most recent message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1].clone(), true
}

// Messages returns copies of all messages in order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

// =============================================================================
// REQUEST SNAPSHOT
// =============================================================================

// SnapshotForRequest returns the messages to send to the backend: a system
// message built from systemPrompt (when non-empty) followed by the history,
// excluding empty messages such as the in-flight placeholder.
func (t *Transcript) SnapshotForRequest(systemPrompt string) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, 0, len(t.messages)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, m := range t.messages {
		if m.IsEmpty() {
			continue
		}
		out = append(out, m.clone())
	}
	return out
}

// ToOllamaMessages converts messages to the wire format, resolving image
// references through resolver.
func ToOllamaMessages(messages []Message, resolver ImageResolver) ([]ollama.Message, error) {
	out := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		wire := ollama.Message{Role: m.Role.String(), Content: m.Content}
		for _, img := range m.Images {
			enc, err := img.Base64(resolver)
			if err != nil {
				return nil, err
			}
			wire.Images = append(wire.Images, enc)
		}
		out = append(out, wire)
	}
	return out, nil
}

// =============================================================================
// METADATA
// =============================================================================

// ID returns the transcript identifier.
func (t *Transcript) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Model returns the model the conversation was held with.
func (t *Transcript) Model() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.model
}

// SetModel records the model used for the conversation.
func (t *Transcript) SetModel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.model = name
}

// Title returns the conversation title or a default.
func (t *Transcript) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.title != "" {
		return t.title
	}
	return "New Conversation"
}

// EstimateTokens estimates the total token count of the conversation.
func (t *Transcript) EstimateTokens() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, m := range t.messages {
		// ~4 tokens of structure per message
		total += m.EstimateTokens() + 4
	}
	return total
}

// Meta returns listing metadata for the conversation.
func (t *Transcript) Meta() ConversationMeta {
	t.mu.RLock()
	defer t.mu.RUnlock()

	meta := ConversationMeta{
		ID:           t.id,
		Title:        t.title,
		Model:        t.model,
		MessageCount: len(t.messages),
		CreatedAt:    t.createdAt,
		UpdatedAt:    t.updatedAt,
	}
	if meta.Title == "" {
		meta.Title = "New Conversation"
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == RoleUser {
			meta.Preview = t.messages[i].Preview(100)
			break
		}
	}
	return meta
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (t *Transcript) touch() {
	t.updatedAt = time.Now()
}

// updateTitle sets the title from the first user message if not set.
func (t *Transcript) updateTitle() {
	if t.title != "" {
		return
	}
	for _, m := range t.messages {
		if m.Role == RoleUser && m.Content != "" {
			t.title = m.Preview(50)
			return
		}
	}
}

// pruneOldMessages drops the oldest non-system messages beyond MaxMessages.
// Only called from Append, so no turn is in flight.
func (t *Transcript) pruneOldMessages() {
	if len(t.messages) <= MaxMessages {
		return
	}

	var system, other []*Message
	for _, m := range t.messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}
	if len(other) > MaxMessages {
		other = other[len(other)-MaxMessages:]
	}

	t.messages = make([]*Message, 0, len(system)+len(other))
	t.messages = append(t.messages, system...)
	t.messages = append(t.messages, other...)
}
