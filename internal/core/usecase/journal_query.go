package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// JournalQueryService is the read-only surface for dashboards, the MCP server
// and the operator CLI.
type JournalQueryService struct {
	journal ports.JournalStore
}

func NewJournalQueryService(journal ports.JournalStore) *JournalQueryService {
	return &JournalQueryService{journal: journal}
}

func (s *JournalQueryService) Get(ctx context.Context, id string) (*domain.JournalEntry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get entry", errors.New("id is required"))
	}
	return s.journal.Get(ctx, id)
}

func (s *JournalQueryService) History(ctx context.Context, id string) ([]domain.AuditEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.journal.ListAudit(ctx, id)
}

func (s *JournalQueryService) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats, err := s.journal.Stats(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}
	stats.Finalize()
	return stats, nil
}
