// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/util"
)

// FormatSessionList formats a list of conversations for display in a table format.
// Returns a human-readable string with ID, last update, message count, and title.
func FormatSessionList(sessions []model.ConversationMeta) string {
	if len(sessions) == 0 {
		return "No saved conversations."
	}

	const rule = "-----------------------------------------------------------------------"

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(formatPadded("ID", 13) + " " + formatPadded("Updated", 16) + " " + formatPadded("Msgs", 5) + " Title\n")
	sb.WriteString(rule + "\n")

	for _, s := range sessions {
		sb.WriteString(formatPadded(ShortID(s.ID), 13) + " " +
			formatPadded(s.UpdatedAt.Format("2006-01-02 15:04"), 16) + " " +
			formatPadded(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(s.Title, 34) + "\n")
	}
	return sb.String()
}

// ShortID trims the "conv_" prefix and keeps enough of the uuid to type.
func ShortID(id string) string {
	short := strings.TrimPrefix(id, "conv_")
	if len(short) > 8 {
		short = short[:8]
	}
	return short
}

// ResolveID expands a short id (as printed by FormatSessionList) to the
// full id of exactly one conversation.
func ResolveID(sessions []model.ConversationMeta, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrConversationNotFound
	}
	var match string
	for _, s := range sessions {
		if s.ID == prefix {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, prefix) || strings.HasPrefix(strings.TrimPrefix(s.ID, "conv_"), prefix) {
			if match != "" {
				return "", &ConversationError{Message: "ambiguous conversation id " + prefix}
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", ErrConversationNotFound
	}
	return match, nil
}

// formatPadded pads a string to the specified display width with spaces.
func formatPadded(s string, width int) string {
	return runewidth.FillRight(s, width)
}
