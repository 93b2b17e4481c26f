package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/printdesk/internal/observability"
)

const (
	idLength    = 12
	maxNameLen  = 96
	defaultName = "document"
)

// StorageError reports a failed filesystem operation
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Manager stores and releases uploaded documents
type Manager struct {
	dir    string
	logger zerolog.Logger
}

// New creates a manager rooted at dir. The directory is created lazily.
func New(dir string, logger zerolog.Logger) *Manager {
	return &Manager{
		dir:    dir,
		logger: logger.With().Str("component", "files").Logger(),
	}
}

// Dir returns the upload directory
func (m *Manager) Dir() string {
	return m.dir
}

// EnsureDir creates the upload directory if absent
func (m *Manager) EnsureDir() error {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return &StorageError{Op: "mkdir", Path: m.dir, Err: err}
	}
	return nil
}

// Store writes blob to a new file and returns its path. The conversation id
// is only used for logging.
func (m *Manager) Store(conversationID string, blob []byte, suggestedName string) (string, error) {
	if err := m.EnsureDir(); err != nil {
		return "", err
	}

	id, err := gonanoid.New(idLength)
	if err != nil {
		return "", &StorageError{Op: "name", Path: m.dir, Err: err}
	}

	path := filepath.Join(m.dir, id+"-"+SanitizeName(suggestedName))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", &StorageError{Op: "create", Path: path, Err: err}
	}

	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(path)
		return "", &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &StorageError{Op: "close", Path: path, Err: err}
	}

	observability.RecordFileStored(len(blob))
	m.logger.Debug().
		Str("conversation_id", conversationID).
		Str("path", path).
		Int("bytes", len(blob)).
		Msg("Stored upload")

	return path, nil
}

// Release deletes a stored file. An empty path or a file that is already gone
// is not an error.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &StorageError{Op: "remove", Path: path, Err: err}
	}

	observability.RecordFileReleased()
	m.logger.Debug().Str("path", path).Msg("Released upload")
	return nil
}

// Sweep removes regular files in the upload directory older than maxAge and
// returns how many were removed. These are blobs orphaned by a crash. Paths
// in keep belong to live sessions and are never removed.
func (m *Manager) Sweep(maxAge time.Duration, keep ...string) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &StorageError{Op: "readdir", Path: m.dir, Err: err}
	}

	kept := make(map[string]struct{}, len(keep))
	for _, path := range keep {
		if path != "" {
			kept[filepath.Clean(path)] = struct{}{}
		}
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		if _, ok := kept[filepath.Clean(path)]; ok {
			continue
		}
		if err := m.Release(path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("Failed to sweep orphaned upload")
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Swept orphaned uploads")
	}

	return removed, nil
}

// SanitizeName reduces a display name to a safe file name component
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return defaultName
	}

	if runes := []rune(out); len(runes) > maxNameLen {
		out = string(runes[len(runes)-maxNameLen:])
	}
	return out
}
