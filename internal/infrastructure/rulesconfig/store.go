package rulesconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// Store serves the current rule table and reloads it when the file changes.
// A table that fails to load or validate never replaces the current one.
type Store struct {
	path    string
	current atomic.Pointer[domain.RuleSet]

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	ruleSet, err := Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat rules file: %w", err)
		}
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	s.current.Store(ruleSet)
	return s, nil
}

// NewStaticStore serves a fixed table; Watch and Reload are no-ops.
func NewStaticStore(ruleSet *domain.RuleSet) *Store {
	s := &Store{}
	s.current.Store(ruleSet)
	return s
}

func (s *Store) Current() *domain.RuleSet {
	return s.current.Load()
}

// Reload re-reads the file if its mtime or size changed since the last load.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return false, fmt.Errorf("stat rules file: %w", err)
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return false, nil
	}

	ruleSet, err := Load(s.path)
	if err != nil {
		// Remember the broken revision so it is reported once, not every tick.
		s.modTime, s.size = info.ModTime(), info.Size()
		return false, err
	}
	s.modTime, s.size = info.ModTime(), info.Size()
	s.current.Store(ruleSet)
	return true, nil
}

// Watch polls the rules file until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if s.path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.Reload()
			if err != nil {
				slog.Error("rules_reload_failed", "path", s.path, "error", err)
				continue
			}
			if changed {
				slog.Info("rules_reloaded", "path", s.path, "types", len(s.Current().Rules))
			}
		}
	}
}
