package session

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/harunnryd/sekisho/internal/errors"
)

// fileDocument is the whole on-disk corpus: one JSON object keyed by
// "[namespace:]session_id". Every mutation rewrites the document through an
// atomic rename, so readers never observe a torn file.
const fileLockRetry = 50 * time.Millisecond

type fileDocument struct {
	Sessions map[string]*Session `json:"sessions"`
}

type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "session: file store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrStoreUnavailable, "session: create store dir: "+err.Error())
		}
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (f *FileStore) Load(ctx context.Context, key string) (*Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	s, ok := doc.Sessions[key]
	if !ok {
		return nil, false, nil
	}
	cp := cloneSession(s)
	return &cp, true, nil
}

// Save folds the session into the corpus under a cross-process file lock and
// rewrites it atomically.
func (f *FileStore) Save(ctx context.Context, key string, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil || !locked {
		return errors.Wrap(errors.ErrStoreUnavailable, "session: store file is locked")
	}
	defer f.lock.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	cp := cloneSession(s)
	doc.Sessions[key] = &cp

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "session: marshal store: "+err.Error())
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, "session: write store: "+err.Error())
	}
	return nil
}

func (f *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{Sessions: make(map[string]*Session)}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "session: read store: "+err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "session: corrupt store file: "+err.Error())
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*Session)
	}
	return doc, nil
}
