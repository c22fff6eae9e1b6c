// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrImageNotFound is returned by ResolveImage for unknown ids.
var ErrImageNotFound = &ConversationError{Message: "image not found"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// STORE
// =============================================================================

// Store persists transcripts in a SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	logger *log.Logger

	mu sync.Mutex
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}
	if logger == nil {
		logger = &log.DefaultLogger
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and foreign_keys is a
	// per-connection pragma.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().Str("path", path).Msg("conversation store opened")
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save writes the transcript, replacing any earlier copy with the same ID.
// Empty messages (an in-flight placeholder) are skipped. Raw image bytes are
// stored once per distinct content.
func (s *Store) Save(t *model.Transcript) error {
	if t == nil {
		return errors.New("storage: nil transcript")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := t.Meta()
	messages := t.Messages()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated := meta.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	created := meta.CreatedAt
	if created.IsZero() {
		created = updated
	}

	_, err = tx.Exec(`
		INSERT INTO conversations (id, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		meta.ID, t.Title(), meta.Model, created.UnixNano(), updated.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", meta.ID); err != nil {
		return fmt.Errorf("failed to replace messages: %w", err)
	}

	seq := 0
	for i := range messages {
		m := &messages[i]
		if m.IsEmpty() {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, seq, role, content, created_at,
				token_count, ttft_ns, total_ns, tokens_per_sec, partial)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, meta.ID, seq, string(m.Role), m.Content, m.Timestamp.UnixNano(),
			m.TokenCount, int64(m.TTFT), int64(m.TotalDuration), m.TokensPerSec, boolToInt(m.Partial))
		if err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
		seq++

		for pos, img := range m.Images {
			id, err := putImage(tx, img)
			if err != nil {
				return fmt.Errorf("failed to save image for message %s: %w", m.ID, err)
			}
			if _, err := tx.Exec(
				"INSERT INTO message_images (message_id, position, image_id) VALUES (?, ?, ?)",
				m.ID, pos, id); err != nil {
				return fmt.Errorf("failed to link image %s: %w", id, err)
			}
		}
	}

	if err := pruneImages(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	s.logger.Debug().Str("id", meta.ID).Int("messages", seq).Msg("conversation saved")
	return nil
}

// putImage stores a raw image and returns its id. Referenced images must
// already be in the store.
func putImage(tx *sql.Tx, img model.Image) (string, error) {
	if ref, ok := img.Ref(); ok {
		var exists int
		err := tx.QueryRow("SELECT 1 FROM images WHERE id = ?", ref).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrImageNotFound, ref)
		}
		if err != nil {
			return "", err
		}
		return ref, nil
	}

	data, ok := img.Bytes()
	if !ok {
		return "", model.ErrInvalidImage
	}
	id := ImageID(data)
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO images (id, data, created_at) VALUES (?, ?, ?)",
		id, data, time.Now().UnixNano())
	return id, err
}

func pruneImages(tx *sql.Tx) error {
	_, err := tx.Exec("DELETE FROM images WHERE id NOT IN (SELECT image_id FROM message_images)")
	if err != nil {
		return fmt.Errorf("failed to prune images: %w", err)
	}
	return nil
}

// ImageID returns the content id under which image bytes are stored.
func ImageID(data []byte) string {
	sum := sha256.Sum256(data)
	return "img_" + hex.EncodeToString(sum[:16])
}

// Load reads a conversation. Images come back as references resolvable
// through ResolveImage.
func (s *Store) Load(id string) (*model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		meta             model.ConversationMeta
		created, updated int64
	)
	err := s.db.QueryRow(
		"SELECT id, title, model, created_at, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&meta.ID, &meta.Title, &meta.Model, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	meta.CreatedAt = time.Unix(0, created)
	meta.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.Query(`
		SELECT id, role, content, created_at, token_count, ttft_ns, total_ns, tokens_per_sec, partial
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	var (
		messages []*model.Message
		byID     = make(map[string]*model.Message)
	)
	for rows.Next() {
		var (
			m             model.Message
			role          string
			ts, ttft, tot int64
			partial       int
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts, &m.TokenCount, &ttft, &tot, &m.TokensPerSec, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		m.Role = model.Role(role)
		m.Timestamp = time.Unix(0, ts)
		m.TTFT = time.Duration(ttft)
		m.TotalDuration = time.Duration(tot)
		m.Partial = partial != 0
		messages = append(messages, &m)
		byID[m.ID] = &m
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	imgRows, err := s.db.Query(`
		SELECT mi.message_id, mi.image_id
		FROM message_images mi
		JOIN messages m ON m.id = mi.message_id
		WHERE m.conversation_id = ?
		ORDER BY mi.message_id, mi.position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var msgID, imgID string
		if err := imgRows.Scan(&msgID, &imgID); err != nil {
			return nil, fmt.Errorf("failed to read image link: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Images = append(m.Images, model.ImageReference(imgID))
		}
	}
	if err := imgRows.Err(); err != nil {
		return nil, err
	}

	return model.RestoreTranscript(meta, messages), nil
}

// ResolveImage returns the bytes of a stored image.
func (s *Store) ResolveImage(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM images WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return data, nil
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

const listQuery = `
	SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		COALESCE((SELECT m.content FROM messages m
			WHERE m.conversation_id = c.id AND m.role = 'user'
			ORDER BY m.seq DESC LIMIT 1), '')
	FROM conversations c`

// List returns all saved conversations (most recent first).
func (s *Store) List() ([]model.ConversationMeta, error) {
	return s.list(listQuery + " ORDER BY c.updated_at DESC")
}

// Search finds conversations whose title or message text contains query,
// ignoring case.
func (s *Store) Search(query string) ([]model.ConversationMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List()
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.list(listQuery+`
		WHERE lower(c.title) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND lower(m.content) LIKE ? ESCAPE '\')
		ORDER BY c.updated_at DESC`, pattern, pattern)
}

func (s *Store) list(query string, args ...any) ([]model.ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	metas := []model.ConversationMeta{}
	for rows.Next() {
		var (
			meta             model.ConversationMeta
			created, updated int64
			preview          string
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model, &created, &updated, &meta.MessageCount, &preview); err != nil {
			return nil, fmt.Errorf("failed to read conversation: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		meta.Preview = util.TruncateRunes(preview, 100)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID, along with images nothing else uses.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	if err := pruneImages(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear removes all saved conversations.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM conversations",
		"DELETE FROM images",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
