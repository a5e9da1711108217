// Package storage persists conversations and research reports as keyed
// files under the data directory. Writes are atomic (temp+rename) and
// guarded by an advisory file lock so that concurrent processes sharing
// the same directory cannot interleave mutations.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/cfdude/mcp-perplexity-pro/internal/fileutil"
	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
)

var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a conversation or report does not exist.
	ErrNotFound = errors.New("not found")
)

// idPattern restricts ids to the shapes we generate. It doubles as a
// path-traversal guard since ids become file names.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Conversation is a stored multi-turn chat.
type Conversation struct {
	ID        string               `json:"id"`
	Title     string               `json:"title,omitempty"`
	Model     string               `json:"model"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Messages  []perplexity.Message `json:"messages"`
}

// ConversationInfo is the listing view of a conversation.
type ConversationInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store is a file-backed store for conversations and reports.
// It is safe for concurrent use within a process; cross-process access is
// serialized with an advisory flock on the store directory.
type Store struct {
	mu     sync.RWMutex
	dir    string
	lock   *flock.Flock
	logger *slog.Logger
	closed bool
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"conversations", "reports"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &Store{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, ".lock")),
		logger: logging.Storage(),
	}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Close marks the store closed. Further operations return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// withLock runs fn while holding the cross-process advisory lock.
func (s *Store) withLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release store lock", "error", err)
		}
	}()
	return fn()
}

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.dir, "conversations", id+".json")
}

func validateID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

// NewConversationID returns a fresh opaque conversation id.
func NewConversationID() string {
	return uuid.NewString()
}

// SaveConversation writes a conversation atomically.
func (s *Store) SaveConversation(conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := validateID(conv.ID); err != nil {
		return err
	}

	conv.UpdatedAt = time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	return s.withLock(func() error {
		return fileutil.WriteJSONAtomic(s.conversationPath(conv.ID), conv, 0644)
	})
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	var conv Conversation
	if err := fileutil.ReadJSON(s.conversationPath(id), &conv); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation by id.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := validateID(id); err != nil {
		return err
	}

	return s.withLock(func() error {
		if err := os.Remove(s.conversationPath(id)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
			}
			return err
		}
		return nil
	})
}

// ListConversations returns all conversations, newest first.
func (s *Store) ListConversations() ([]ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, "conversations"))
	if err != nil {
		return nil, err
	}

	infos := make([]ConversationInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		var conv Conversation
		if err := fileutil.ReadJSON(filepath.Join(s.dir, "conversations", name), &conv); err != nil {
			s.logger.Warn("skipping unreadable conversation file", "file", name, "error", err)
			continue
		}

		infos = append(infos, ConversationInfo{
			ID:           conv.ID,
			Title:        conv.Title,
			Model:        conv.Model,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}
