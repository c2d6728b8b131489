// Package store persists conversations in a local Pebble database. It
// implements the conversation.Saver port; the engine treats it as a blob
// store keyed by conversation id and does not depend on the key layout.
//
// Key layout:
//
//	conv:<id>:meta         conversation metadata (JSON)
//	conv:<id>:msg:<%08d>   one message per key, in log order
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"chatflow/pkg/logger"
	"chatflow/pkg/models"
)

// Meta is the stored per-conversation metadata.
type Meta struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	LastSnippet string `json:"last_snippet,omitempty"`
	CreatedTS   int64  `json:"created_ts"`
	UpdatedTS   int64  `json:"updated_ts"`
	Messages    int    `json:"messages"`
}

// Store wraps an open Pebble handle.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_conversation_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ready reports whether the store is usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func metaKey(id string) []byte { return []byte("conv:" + id + ":meta") }

func msgKey(id string, idx int) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%08d", id, idx))
}

func msgPrefix(id string) ([]byte, []byte) {
	p := []byte("conv:" + id + ":msg:")
	end := append(append([]byte(nil), p...), 0xff)
	return p, end
}

// Save replaces the stored message list for a conversation and refreshes
// its metadata. moveToTop bumps the recency timestamp; saves without it
// preserve the conversation's position in the list.
func (s *Store) Save(conversationID, title, lastSnippet string, messages []models.Message, moveToTop bool) error {
	if !s.Ready() {
		return fmt.Errorf("store not open")
	}
	now := time.Now().UTC().UnixNano()

	meta := Meta{ID: conversationID, CreatedTS: now, UpdatedTS: now}
	if prev, err := s.meta(conversationID); err == nil {
		meta.CreatedTS = prev.CreatedTS
		if !moveToTop {
			meta.UpdatedTS = prev.UpdatedTS
		}
	}
	meta.Title = title
	meta.LastSnippet = lastSnippet
	meta.Messages = len(messages)

	wb := s.db.NewBatch()
	lo, hi := msgPrefix(conversationID)
	if err := wb.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	for i := range messages {
		data, err := json.Marshal(&messages[i])
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", messages[i].ID, err)
		}
		if err := wb.Set(msgKey(conversationID, i), data, nil); err != nil {
			return err
		}
	}
	metaData, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	if err := wb.Set(metaKey(conversationID), metaData, nil); err != nil {
		return err
	}
	if err := s.db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("conversation_save_failed", "conversation", conversationID, "error", err)
		return err
	}
	logger.Debug("conversation_saved", "conversation", conversationID, "messages", len(messages), "move_to_top", moveToTop)
	return nil
}

func (s *Store) meta(conversationID string) (Meta, error) {
	var m Meta
	v, closer, err := s.db.Get(metaKey(conversationID))
	if err != nil {
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, err
	}
	return m, nil
}

// Load returns a conversation's metadata and full message list.
func (s *Store) Load(conversationID string) (Meta, []models.Message, error) {
	if !s.Ready() {
		return Meta{}, nil, fmt.Errorf("store not open")
	}
	meta, err := s.meta(conversationID)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("conversation %s: %w", conversationID, err)
	}

	lo, hi := msgPrefix(conversationID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return Meta{}, nil, err
	}
	defer iter.Close()

	var msgs []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skipping_corrupt_message", "conversation", conversationID, "key", string(iter.Key()), "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return meta, msgs, nil
}

// List returns all conversation metadata, most recently updated first.
func (s *Store) List() ([]Meta, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("store not open")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("conv:"),
		UpperBound: []byte("conv;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Meta
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) < 5 || string(k[len(k)-5:]) != ":meta" {
			continue
		}
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

// Delete removes a conversation and all its messages.
func (s *Store) Delete(conversationID string) error {
	if !s.Ready() {
		return fmt.Errorf("store not open")
	}
	wb := s.db.NewBatch()
	lo, hi := msgPrefix(conversationID)
	if err := wb.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	if err := wb.Delete(metaKey(conversationID), nil); err != nil {
		return err
	}
	return s.db.Apply(wb, pebble.Sync)
}

// Prune deletes conversations not updated since cutoff, at most batchSize
// per call, and returns how many were removed. The retention runner calls
// this on its schedule.
func (s *Store) Prune(cutoff time.Time, batchSize int) (int, error) {
	if !s.Ready() {
		return 0, fmt.Errorf("store not open")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	metas, err := s.List()
	if err != nil {
		return 0, err
	}
	cut := cutoff.UTC().UnixNano()
	removed := 0
	for _, m := range metas {
		if removed >= batchSize {
			break
		}
		if m.UpdatedTS >= cut {
			continue
		}
		if err := s.Delete(m.ID); err != nil {
			return removed, err
		}
		logger.Info("conversation_pruned", "conversation", m.ID)
		removed++
	}
	return removed, nil
}
