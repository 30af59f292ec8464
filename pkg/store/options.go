package store

import (
	"github.com/flatkv/flatkv/pkg/common/log"
	"github.com/flatkv/flatkv/pkg/config"
	"github.com/flatkv/flatkv/pkg/vfs"
)

type settings struct {
	slack  float64
	fs     vfs.FS
	logger log.Logger
}

// Option configures a Store at construction time.
type Option func(*settings)

// WithSlackFraction overrides the slack applied to variable-width blocks.
func WithSlackFraction(f float64) Option {
	return func(s *settings) {
		s.slack = f
	}
}

// WithFS substitutes the filesystem the store operates on.
func WithFS(fs vfs.FS) Option {
	return func(s *settings) {
		s.fs = fs
	}
}

// WithLogger substitutes the logger store operations report through.
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithConfig applies the store-relevant fields of a Config.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		s.slack = cfg.SlackFraction
	}
}

func defaultSettings() *settings {
	return &settings{
		slack:  config.DefaultSlackFraction,
		fs:     vfs.NewOS(),
		logger: log.GetDefaultLogger(),
	}
}
