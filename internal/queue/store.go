package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"chirpd/internal/domain"
)

// Store persists the queue document (a JSON array of content items) to
// disk, with the same atomic temp-file-and-rename replace as the ledger
// store.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore returns a store for the document at path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log.With().Str("component", "queue").Logger()}
}

// Load reads the queue document. Missing yields an empty queue; a corrupt
// document is renamed aside with a .corrupt suffix and an empty queue is
// returned, keeping the daemon alive at the cost of regenerating content.
func (s *Store) Load() *Queue {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Error().Err(err).Str("path", s.path).Msg("queue unreadable, starting empty")
		}
		return New()
	}

	var items []domain.ContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		aside := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			aside = ""
		}
		s.log.Error().Err(err).
			Str("path", s.path).
			Str("saved_as", aside).
			Msg("queue document corrupt, resetting to empty")
		return New()
	}
	return fromItems(items)
}

// Save atomically replaces the document on disk.
func (s *Store) Save(q *Queue) error {
	raw, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}
