// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jeranaias/ollachat/internal/model"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONExporter exports conversations to JSON. It always writes the
// complete conversation.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// jsonDocument is the exported shape. Image data is replaced by a count.
type jsonDocument struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	model.Message
	ImageCount int `json:"image_count,omitempty"`
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(t *model.Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("conversation is nil")
	}

	meta := t.Meta()
	doc := jsonDocument{
		ID:        meta.ID,
		Title:     meta.Title,
		Model:     meta.Model,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}
	for _, msg := range t.Messages() {
		doc.Messages = append(doc.Messages, jsonMessage{Message: msg, ImageCount: len(msg.Images)})
	}
	return jsonAPI.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
