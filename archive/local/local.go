// Package local stores archived reports on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbukum/devflow/archive"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
)

func init() {
	archive.RegisterFactory(archive.ProviderLocal, func(_ context.Context, cfg archive.Config, _ *logger.Logger) (archive.Storage, error) {
		return NewStorage(cfg.BasePath)
	})
}

// Storage implements archive.Storage on a directory tree.
type Storage struct {
	basePath string
}

// NewStorage creates the base directory if needed.
func NewStorage(basePath string) (*Storage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("archive: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create base directory: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

// BasePath returns the absolute root directory.
func (s *Storage) BasePath() string { return s.basePath }

// Upload writes reader to a temporary file and renames it into place so
// readers never see a partial object.
func (s *Storage) Upload(_ context.Context, path string, reader io.Reader) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("archive: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("archive: create file: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("archive: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("archive: close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("archive: rename file: %w", err)
	}
	return nil
}

// Download opens the file at path.
func (s *Storage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("archived object", path)
		}
		return nil, fmt.Errorf("archive: open file: %w", err)
	}
	return f, nil
}

// Delete removes the file at path.
func (s *Storage) Delete(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: delete file: %w", err)
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (s *Storage) Exists(_ context.Context, path string) (bool, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive: stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// List walks the tree and returns files whose slash path starts with prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]archive.FileInfo, error) {
	var files []archive.FileInfo
	err := filepath.WalkDir(s.basePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, archive.FileInfo{
			Path:         rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ContentType:  mime.TypeByExtension(filepath.Ext(p)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// resolve maps an object path under basePath, rejecting escapes.
func (s *Storage) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if clean == string(filepath.Separator) {
		return "", errors.InvalidInput("path", "must name an object")
	}
	return filepath.Join(s.basePath, clean), nil
}

var _ archive.Storage = (*Storage)(nil)
