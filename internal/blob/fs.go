package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	tempDir  = ".tmp"
	tempGlob = "upload-*"
)

// FS keeps blobs as regular files below a root directory.
//
// Writes go to a temp file under root/.tmp and are published with a hard
// link, which fails instead of overwriting. Owner directories are UUIDs, so
// the temp directory never collides with a bucket namespace.
type FS struct {
	root string
}

// NewFS prepares root and returns a filesystem store.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, tempDir), dirPerm); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute storage directory.
func (s *FS) Root() string {
	return s.root
}

func (s *FS) Write(ctx context.Context, location string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(location)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(target); err == nil {
		return ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tempDir), tempGlob)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Link(tmpPath, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("publish blob: %w", err)
	}
	return nil
}

func (s *FS) Open(_ context.Context, location string) (io.ReadCloser, int64, error) {
	target, err := s.resolve(location)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat blob: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, ErrNotFound
	}
	return f, info.Size(), nil
}

func (s *FS) Delete(_ context.Context, location string) error {
	target, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (s *FS) Exists(_ context.Context, location string) (bool, error) {
	target, err := s.resolve(location)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *FS) MakeDir(_ context.Context, prefix string) error {
	target, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, dirPerm); err != nil {
		return fmt.Errorf("create bucket directory: %w", err)
	}
	return nil
}

func (s *FS) RemoveAll(_ context.Context, prefix string) error {
	target, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove bucket directory: %w", err)
	}
	return nil
}

func (s *FS) List(ctx context.Context, prefix string) ([]Entry, error) {
	base, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p == base {
				return filepath.SkipDir
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Location: filepath.ToSlash(rel),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	return entries, nil
}

func (s *FS) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}

// resolve maps a location onto the filesystem, refusing anything that
// would land outside root or inside the temp area.
func (s *FS) resolve(location string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(location))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		clean == tempDir || strings.HasPrefix(clean, tempDir+string(filepath.Separator)) {
		return "", ErrInvalidLocation
	}
	return filepath.Join(s.root, clean), nil
}
