package repository

import (
	"context"
	"fmt"
	"os"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"

	"gopkg.in/yaml.v3"
)

// YAMLEventSource reads the curated event catalog from a YAML file.
// The file is re-read on every call so edits are picked up by the next run.
type YAMLEventSource struct {
	path string
	l    *xlogger.Logger
}

type yamlCatalog struct {
	Events []catalogEntry `yaml:"events"`
}

func NewYAMLEventSource(path string, l *xlogger.Logger) *YAMLEventSource {
	if l == nil {
		l = xlogger.Nop()
	}
	return &YAMLEventSource{path: path, l: l}
}

func (s *YAMLEventSource) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read event catalog: %w", err)
	}
	var cat yamlCatalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return nil, fmt.Errorf("parse event catalog %s: %w", s.path, err)
	}
	events, err := buildCatalog(cat.Events, filter)
	if err != nil {
		s.l.Error("event catalog rejected", xlogger.String("path", s.path), xlogger.Error(err))
		return nil, fmt.Errorf("event catalog %s: %w", s.path, err)
	}
	s.l.Debug("event catalog loaded",
		xlogger.String("path", s.path),
		xlogger.Int("entries", len(cat.Events)),
		xlogger.Int("matched", len(events)))
	return events, nil
}
