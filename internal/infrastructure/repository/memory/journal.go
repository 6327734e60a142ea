// Package memory holds process-local stores for development and tests. They
// honour the same constraints as the postgres stores: hash uniqueness among
// non-duplicates, compare-and-set transitions and atomic claims.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

type JournalStore struct {
	mu           sync.Mutex
	entries      map[string]*domain.JournalEntry
	canonical    map[string]string
	firstByHash  map[string]string
	audit        map[string][]domain.AuditEvent
	fingerprints map[string]domain.Fingerprint
	steps        []domain.StepLog
}

func NewJournalStore() *JournalStore {
	return &JournalStore{
		entries:      make(map[string]*domain.JournalEntry),
		canonical:    make(map[string]string),
		firstByHash:  make(map[string]string),
		audit:        make(map[string][]domain.AuditEvent),
		fingerprints: make(map[string]domain.Fingerprint),
	}
}

func cloneEntry(e *domain.JournalEntry) *domain.JournalEntry {
	c := *e
	c.ComplianceTags = slices.Clone(e.ComplianceTags)
	c.ProcessingResult = slices.Clone(e.ProcessingResult)
	return &c
}

func (s *JournalStore) Create(_ context.Context, entry *domain.JournalEntry) error {
	if entry == nil || entry.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create entry", errors.New("entry id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create entry", fmt.Errorf("entry %s already exists", entry.ID))
	}
	holdsHash := entry.QueueStatus != domain.StatusSkippedDuplicate
	if holdsHash {
		if owner, taken := s.canonical[entry.ContentHash]; taken {
			return domain.WrapError(domain.ErrDuplicateHash, "create entry",
				fmt.Errorf("hash %s held by %s", entry.ContentHash, owner))
		}
		s.canonical[entry.ContentHash] = entry.ID
	}
	if _, seen := s.firstByHash[entry.ContentHash]; !seen {
		s.firstByHash[entry.ContentHash] = entry.ID
	}
	s.entries[entry.ID] = cloneEntry(entry)
	s.audit[entry.ID] = append(s.audit[entry.ID], domain.CreationEvent(entry))
	return nil
}

func (s *JournalStore) Get(_ context.Context, id string) (*domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "get entry", errors.New(id))
	}
	return cloneEntry(entry), nil
}

// FindByHash returns the entry holding hash. When every entry with that hash
// has since been marked a duplicate, it resolves to the entry they duplicate.
func (s *JournalStore) FindByHash(_ context.Context, hash string) (*domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.canonical[hash]; ok {
		return cloneEntry(s.entries[id]), nil
	}
	id, ok := s.firstByHash[hash]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "find by hash", errors.New(hash))
	}
	entry := s.entries[id]
	for hops := 0; hops < domain.MaxDuplicateHops; hops++ {
		if entry.QueueStatus != domain.StatusSkippedDuplicate || entry.DuplicateOfID == "" {
			break
		}
		next, ok := s.entries[entry.DuplicateOfID]
		if !ok {
			break
		}
		entry = next
	}
	return cloneEntry(entry), nil
}

func (s *JournalStore) UpdateStatus(_ context.Context, id string, t domain.Transition) (*domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "update status", errors.New(id))
	}
	next := cloneEntry(entry)
	if err := t.Apply(next); err != nil {
		return nil, err
	}
	if t.To == domain.StatusSkippedDuplicate && s.canonical[next.ContentHash] == id {
		delete(s.canonical, next.ContentHash)
	}
	s.entries[id] = next
	s.audit[id] = append(s.audit[id], t.AuditEvent(id))
	return cloneEntry(next), nil
}

func (s *JournalStore) Claim(_ context.Context, workerID string, at time.Time) (*domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.filter(func(e *domain.JournalEntry) bool { return e.QueueStatus == domain.StatusQueued })
	if len(queued) == 0 {
		return nil, nil
	}
	sortClaimOrder(queued)
	head := queued[0]

	t := domain.Transition{
		From:      domain.StatusQueued,
		To:        domain.StatusProcessing,
		Actor:     workerID,
		At:        at,
		ClaimedBy: &workerID,
	}
	next := cloneEntry(head)
	if err := t.Apply(next); err != nil {
		return nil, err
	}
	s.entries[head.ID] = next
	s.audit[head.ID] = append(s.audit[head.ID], t.AuditEvent(head.ID))
	return cloneEntry(next), nil
}

func (s *JournalStore) filter(keep func(*domain.JournalEntry) bool) []*domain.JournalEntry {
	out := make([]*domain.JournalEntry, 0)
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func sortClaimOrder(entries []*domain.JournalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func (s *JournalStore) ListRecent(_ context.Context, window domain.RecentWindow) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.filter(func(e *domain.JournalEntry) bool {
		return !e.IsDuplicate && e.ID != window.ExcludeID && !e.SubmittedAt.Before(window.Since)
	})
	sort.Slice(recent, func(i, j int) bool { return recent[i].SubmittedAt.After(recent[j].SubmittedAt) })
	return copyOut(recent, window.Limit), nil
}

func (s *JournalStore) ListQueued(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.filter(func(e *domain.JournalEntry) bool { return e.QueueStatus == domain.StatusQueued })
	sortClaimOrder(queued)
	return copyOut(queued, limit), nil
}

func (s *JournalStore) ListStale(_ context.Context, statuses []domain.QueueStatus, before time.Time, limit int) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := s.filter(func(e *domain.JournalEntry) bool {
		return slices.Contains(statuses, e.QueueStatus) && e.UpdatedAt.Before(before)
	})
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return copyOut(stale, limit), nil
}

func copyOut(entries []*domain.JournalEntry, limit int) []domain.JournalEntry {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.JournalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *cloneEntry(e))
	}
	return out
}

func (s *JournalStore) ListAudit(_ context.Context, id string) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit[id]), nil
}

func (s *JournalStore) Stats(_ context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.QueueStats{
		ByStatus: make(map[domain.QueueStatus]int),
		TierHits: make(map[string]int),
	}
	for _, e := range s.entries {
		stats.Total++
		stats.ByStatus[e.QueueStatus]++
		if e.IsDuplicate {
			stats.Duplicates++
			stats.TierHits[e.DedupTier.String()]++
		}
	}
	stats.Finalize()
	return stats, nil
}

func (s *JournalStore) SaveFingerprint(_ context.Context, fp domain.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fp.EntryID]; !ok {
		return domain.WrapError(domain.ErrEntryNotFound, "save fingerprint", errors.New(fp.EntryID))
	}
	fp.Shingles = slices.Clone(fp.Shingles)
	s.fingerprints[fp.EntryID] = fp
	return nil
}

func (s *JournalStore) ListFingerprints(_ context.Context, window domain.RecentWindow) ([]domain.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Fingerprint, 0, len(s.fingerprints))
	for id, fp := range s.fingerprints {
		entry := s.entries[id]
		if entry == nil || entry.IsDuplicate || id == window.ExcludeID || fp.CreatedAt.Before(window.Since) {
			continue
		}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if window.Limit > 0 && len(out) > window.Limit {
		out = out[:window.Limit]
	}
	return out, nil
}

// RecordStep keeps step logs in memory; Steps exposes them to tests and the
// dev-mode stats endpoint.
func (s *JournalStore) RecordStep(_ context.Context, step domain.StepLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *JournalStore) Steps(entryID string) []domain.StepLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StepLog
	for _, step := range s.steps {
		if step.EntryID == entryID {
			out = append(out, step)
		}
	}
	return out
}
