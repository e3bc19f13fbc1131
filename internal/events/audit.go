package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditConfig configures the audit trail file. Rotated files are kept for
// a year by default.
type AuditConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size" default:"50" validate:"min=1"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" default:"30" validate:"min=0"`
	MaxAge     int    `mapstructure:"max_age" default:"365" validate:"min=0"` // days
	Compress   bool   `mapstructure:"compress" default:"true"`
}

// auditRecord is one line of the audit trail.
type auditRecord struct {
	Event
	SessionID string `json:"session_id"`
}

// AuditPublisher appends every event as a JSON line to a rotating file.
type AuditPublisher struct {
	mu        sync.Mutex
	writer    io.WriteCloser
	sessionID string
}

// NewAuditPublisher opens the audit trail at cfg.Path.
func NewAuditPublisher(cfg AuditConfig) (*AuditPublisher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return newAuditPublisher(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

func newAuditPublisher(w io.WriteCloser) *AuditPublisher {
	return &AuditPublisher{writer: w, sessionID: uuid.NewString()}
}

// Publish writes one line. Lines from concurrent callers never interleave.
func (a *AuditPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(auditRecord{Event: e, SessionID: a.sessionID})
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

func (a *AuditPublisher) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writer.Close()
}
