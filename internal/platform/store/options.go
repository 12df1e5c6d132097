package store

import (
	"ghafacts/internal/platform/logger"
)

// Option mutates Store during Open
type Option func(*Store) error

// WithLogger routes pg and ch subclient logs through log, tagged component=store
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log.With().Str("component", "store").Logger()
		return nil
	}
}
