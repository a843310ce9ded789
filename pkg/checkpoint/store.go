package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Store owns the single checkpoint record for the current run.
//
// The backing file is owned by exactly one live process; the batch
// scheduler is the only reader and writer.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store backed by the given file path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Save durably overwrites the checkpoint record. The write goes through a
// temporary file and rename so a crash mid-write cannot corrupt the
// previous record.
func (s *Store) Save(cp *Checkpoint) error {
	cp.Timestamp = time.Now().UTC()

	s.logger.Info().
		Int("total_processed", cp.TotalProcessed).
		Int("total_posts", cp.TotalPosts).
		Int("flagged", cp.FlaggedCount).
		Int("errors", cp.ErrorCount).
		Msg("Saving checkpoint")

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Msg("Checkpoint saved")
	return nil
}

// Load returns the persisted checkpoint, or nil when none exists. A
// corrupt record is logged and treated as absent rather than failing
// the run.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("No checkpoint found")
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).
			Msg("Corrupt checkpoint, starting fresh")
		return nil, nil
	}

	s.logger.Info().
		Int("total_processed", cp.TotalProcessed).
		Int("total_posts", cp.TotalPosts).
		Int("flagged", cp.FlaggedCount).
		Int("errors", cp.ErrorCount).
		Msg("Checkpoint loaded")

	return &cp, nil
}

// Exists reports whether a checkpoint record is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes the checkpoint record. Deleting an absent record is
// not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	s.logger.Info().Str("path", s.path).Msg("Checkpoint deleted")
	return nil
}
