package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// Store persists the ledger document to disk. There is exactly one writer
// (the daemon), so no locking is needed; atomicity comes from writing a
// temp file and renaming it over the document.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore returns a store for the document at path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log.With().Str("component", "ledger").Logger()}
}

// Load reads the ledger document. A missing file yields an empty ledger.
// An unreadable or corrupt document also yields an empty ledger — the
// daemon keeps running — but the failure is logged loudly and the corrupt
// file is renamed aside with a .corrupt suffix so history stays
// recoverable by an operator.
func (s *Store) Load() *Ledger {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Error().Err(err).Str("path", s.path).Msg("ledger unreadable, starting empty")
		}
		return New()
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		aside := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			aside = ""
		}
		s.log.Error().Err(err).
			Str("path", s.path).
			Str("saved_as", aside).
			Msg("ledger document corrupt, resetting to empty")
		return New()
	}
	return fromDocument(doc)
}

// Save atomically replaces the document on disk with the ledger's current
// state.
func (s *Store) Save(l *Ledger) error {
	raw, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
