package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nais/vpn-forwarder/pkg/types"
)

// DocumentStore Keeps the session document in memory behind a mutex. When backed by a file, every operation reloads
// the document under an exclusive file lock and writes changes through before the lock is released, so the
// forwarder and the login service can share the file without losing updates.
type DocumentStore struct {
	mu   sync.Mutex
	doc  *document
	path string
}

var _ Store = &DocumentStore{}

// NewMemoryStore A store that lives only in memory. Used in tests and single process deployments.
func NewMemoryStore() *DocumentStore {
	return &DocumentStore{doc: newDocument()}
}

// NewFileStore A store backed by the JSON session document at path. The directory is created if missing, the file on
// first write.
func NewFileStore(path string) (*DocumentStore, error) {
	if path == "" {
		return nil, errors.New("session document path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s := &DocumentStore{path: path, doc: newDocument()}
	err := s.transaction(func(*document) (bool, error) { return false, nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DocumentStore) Path() string {
	return s.path
}

// transaction Run fn against the current document, persisting it when fn reports a change.
func (s *DocumentStore) transaction(fn func(doc *document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		_, err := fn(s.doc)
		return err
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock session document: %w", err)
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	s.doc = doc

	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(doc)
}

// load Read the document. A missing file or one that is not a JSON object yields an empty document. Unreadable
// records are left out.
func (s *DocumentStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session document: %w", err)
	}

	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return newDocument(), nil
	}
	doc.normalize()
	return doc, nil
}

func (s *DocumentStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary session document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session document: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write session document: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Create(_ context.Context, session *Session) error {
	if err := session.validate(); err != nil {
		return err
	}
	return s.transaction(func(doc *document) (bool, error) {
		doc.create(session)
		return true, nil
	})
}

func (s *DocumentStore) Touch(_ context.Context, username, token string, now time.Time) (*Session, error) {
	var found *Session
	err := s.transaction(func(doc *document) (bool, error) {
		session, changed := doc.touch(username, token, now)
		found = session
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *DocumentStore) Get(_ context.Context, id string) (*Session, error) {
	var found *Session
	err := s.transaction(func(doc *document) (bool, error) {
		rec, ok := doc.Sessions[id]
		if !ok {
			return false, ErrNotFound
		}
		session, err := rec.toSession(id)
		if err != nil {
			return false, err
		}
		found = session
		return false, nil
	})
	return found, err
}

func (s *DocumentStore) Delete(_ context.Context, id string) error {
	return s.transaction(func(doc *document) (bool, error) {
		if _, ok := doc.Sessions[id]; !ok {
			return false, ErrNotFound
		}
		delete(doc.Sessions, id)
		return true, nil
	})
}

// List All readable sessions ordered by creation time. Malformed records are skipped.
func (s *DocumentStore) List(_ context.Context) ([]*Session, error) {
	ret := make([]*Session, 0)
	err := s.transaction(func(doc *document) (bool, error) {
		for _, id := range doc.ids() {
			session, err := doc.Sessions[id].toSession(id)
			if err != nil {
				continue
			}
			ret = append(ret, session)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret, nil
}

func (s *DocumentStore) Purge(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.transaction(func(doc *document) (bool, error) {
		removed = doc.purge(now)
		return removed > 0, nil
	})
	return removed, err
}

func (s *DocumentStore) UserTarget(_ context.Context, username string, now time.Time) (types.TargetID, error) {
	var target types.TargetID
	err := s.transaction(func(doc *document) (bool, error) {
		t, ok := doc.userTarget(username, now)
		if !ok {
			return false, ErrNotFound
		}
		target = t
		return false, nil
	})
	return target, err
}

func (s *DocumentStore) SetUserTarget(_ context.Context, username string, target types.TargetID) error {
	return s.transaction(func(doc *document) (bool, error) {
		doc.UserMappings[username] = &userMapping{TargetPort: target}
		return true, nil
	})
}

func (s *DocumentStore) Close() error {
	return nil
}
