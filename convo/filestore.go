package convo

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/petalhq/blossom/internal/fsstore"
)

const logFileVersion = 1

type logFile struct {
	Version  int     `json:"version"`
	Messages []Entry `json:"messages"`
}

// FileStore keeps one JSON document per identity under root, written
// atomically. Good enough for a single-process bot; the store mutex is
// the per-identity read-modify-write discipline.
type FileStore struct {
	mu   sync.Mutex
	root string
	max  int
}

func NewFileStore(root string, maxMessages int) *FileStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &FileStore{root: strings.TrimSpace(root), max: maxMessages}
}

func (s *FileStore) path(identity string) string {
	return filepath.Join(s.root, SanitizeIdentity(identity)+".json")
}

func (s *FileStore) Load(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc logFile
	found, err := fsstore.ReadJSON(s.path(identity), &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return tailWindow(doc.Messages, limit), nil
}

func (s *FileStore) Append(ctx context.Context, identity string, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(identity)
	var doc logFile
	if _, err := fsstore.ReadJSON(path, &doc); err != nil {
		return err
	}
	doc.Version = logFileVersion
	doc.Messages = trimWindow(append(doc.Messages, entries...), s.max)
	return fsstore.WriteJSONAtomic(path, doc)
}

func (s *FileStore) Clear(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsstore.WriteJSONAtomic(s.path(identity), logFile{Version: logFileVersion})
}
