package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
)

const tempPrefix = ".tmp-"

// FileStore keeps one file per entry, named after its key.
// Writes go to a temporary file which is then renamed into place, so that
// readers never see a partially written entry.
type FileStore struct {
	fs billy.Filesystem
	// renames are serialized, billy filesystems do not guarantee atomic
	// replacement of an existing file
	mutex *sync.Mutex
}

// NewFileStore stores entries in the given directory, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create cache dir %s: %w", dir, err)
	}
	return NewFileStoreFS(osfs.New(dir)), nil
}

// NewFileStoreFS stores entries in the root of the given filesystem.
func NewFileStoreFS(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs, mutex: &sync.Mutex{}}
}

func validFileKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, tempPrefix) {
		return fmt.Errorf("key %q cannot be used as a file name", key)
	}
	return nil
}

func (s *FileStore) Find(_ context.Context, key string) ([]byte, bool, error) {
	if err := validFileKey(key); err != nil {
		return nil, false, err
	}
	f, err := s.fs.Open(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	value, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *FileStore) Save(_ context.Context, key string, value []byte) error {
	if err := validFileKey(key); err != nil {
		return err
	}
	tmp := tempPrefix + uuid.NewString()
	f, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.fs.Rename(tmp, key); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validFileKey(key); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.fs.Remove(key); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Rename(_ context.Context, oldKey, newKey string) error {
	if err := validFileKey(oldKey); err != nil {
		return err
	}
	if err := validFileKey(newKey); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, err := s.fs.Stat(oldKey); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if oldKey == newKey {
		return nil
	}
	return s.fs.Rename(oldKey, newKey)
}

func (s *FileStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	infos, err := s.fs.ReadDir("/")
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return withValues(ctx, s, prefix, fn)
}

func (s *FileStore) Close() error {
	return nil
}
