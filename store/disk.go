package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DiskStore keeps files in a single directory.
type DiskStore struct {
	dir    string
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewDiskStore(dir string, logger logrus.FieldLogger) (*DiskStore, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &DiskStore{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *DiskStore) Save(ctx context.Context, originalName, mimeType string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	name := NewName(originalName, mimeType, s.now())
	p := filepath.Join(s.dir, name)

	// O_EXCL: a name collision must never overwrite another upload
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file: %w", err)
	}

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(p)
		return Object{}, fmt.Errorf("failed to write file: %w", err)
	}

	return Object{
		Name:     name,
		MimeType: MimeTypeOf(name),
		Size:     int64(len(data)),
		Digest:   Digest(data),
		ModTime:  s.now(),
	}, nil
}

func (s *DiskStore) Delete(_ context.Context, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("name", name).Warn("deleting missing file")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (s *DiskStore) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImageName(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		objects = append(objects, Object{
			Name:     e.Name(),
			MimeType: MimeTypeOf(e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})

	return objects, nil
}

func (s *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, Object, error) {
	if err := ValidName(name); err != nil {
		return nil, Object{}, err
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, Object{}, ErrNotFound
	}

	return f, Object{
		Name:     name,
		MimeType: MimeTypeOf(name),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}
