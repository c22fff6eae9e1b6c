// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for ollachat.
//
// Conversations are kept in a SQLite database (by default
// ~/.ollachat/history.db). Image attachments are stored once per distinct
// content in an images table; reloaded transcripts carry image references
// that the Store resolves through ResolveImage.
//
// # Usage
//
//	store, err := storage.Open(cfg.DBPath(), logger)
//	err = store.Save(transcript)
//
//	metas, err := store.List()
//	t, err := store.Load(metas[0].ID)
package storage
