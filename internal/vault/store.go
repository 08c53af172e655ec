// Package vault writes synced documents into an Obsidian vault on the local
// filesystem and maps remote tablet paths to safe vault paths.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrConflict means something other than a regular file occupies a
// destination path.
var ErrConflict = errors.New("vault: destination is not a regular file")

// ErrOutsideVault is returned for relative paths that escape the vault root.
var ErrOutsideVault = errors.New("vault: path escapes vault root")

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Store is a vault rooted at a local directory. Paths passed to its methods
// are slash-separated and relative to the root. Concurrent writes to the same
// path are last-write-wins; each individual write is atomic.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore returns a Store rooted at root.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{root: filepath.Clean(root), logger: logger}
}

// Root returns the vault directory.
func (s *Store) Root() string {
	return s.root
}

// abs resolves rel inside the vault root.
func (s *Store) abs(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, rel)
	}

	return filepath.Join(s.root, cleaned), nil
}

// CreateFolder creates rel and any missing parents. An existing directory is
// not an error.
func (s *Store) CreateFolder(rel string) error {
	p, err := s.abs(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(p, dirPerms); err != nil {
		return fmt.Errorf("vault: creating folder %s: %w", rel, err)
	}

	return nil
}

// WriteFile creates rel if nothing exists there and replaces it if it is a
// regular file. Any other object at the path yields ErrConflict. It reports
// whether the file was newly created.
func (s *Store) WriteFile(rel string, data []byte) (bool, error) {
	p, err := s.abs(rel)
	if err != nil {
		return false, err
	}

	created := false

	info, err := os.Lstat(p)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		created = true
	case err != nil:
		return false, fmt.Errorf("vault: inspecting %s: %w", rel, err)
	case !info.Mode().IsRegular():
		return false, fmt.Errorf("%w: %s (%s)", ErrConflict, rel, info.Mode().Type())
	}

	if err := atomicWrite(p, data); err != nil {
		return false, fmt.Errorf("vault: writing %s: %w", rel, err)
	}

	s.logger.Debug("vault file written",
		slog.String("path", rel),
		slog.Int("bytes", len(data)),
		slog.Bool("created", created),
	)

	return created, nil
}

// atomicWrite writes data to a temp file in the target directory and renames
// it over path, so readers never see a partial document.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, ".scrybble-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, filePerms); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
