package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

type SubmitDocumentUseCase struct {
	journal ports.JournalStore
	storage ports.ObjectStorage
	events  ports.EventBus
	queue   *QueueManager
	now     func() time.Time
}

func NewSubmitDocumentUseCase(
	journal ports.JournalStore,
	storage ports.ObjectStorage,
	events ports.EventBus,
	queue *QueueManager,
) *SubmitDocumentUseCase {
	return &SubmitDocumentUseCase{
		journal: journal,
		storage: storage,
		events:  events,
		queue:   queue,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit records one submission attempt. Byte-identical content is settled
// here as a tier-0 duplicate; everything else is announced for assessment.
func (uc *SubmitDocumentUseCase) Submit(ctx context.Context, sub domain.Submission) (*domain.JournalEntry, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(sub.Content)
	hash := hex.EncodeToString(sum[:])
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entry id: %w", err)
	}
	now := uc.now()
	entry := &domain.JournalEntry{
		ID:               id.String(),
		ContentHash:      hash,
		OriginalFilename: sub.Filename,
		MimeType:         sub.MimeType,
		SizeBytes:        int64(len(sub.Content)),
		SourceChannel:    sub.SourceChannel,
		SubmittedAt:      now,
		QueueStatus:      domain.StatusPending,
		DedupTier:        domain.TierNone,
		UpdatedAt:        now,
	}

	// Fast path: the bytes are already stored under the canonical entry.
	canonical, err := uc.journal.FindByHash(ctx, hash)
	switch {
	case err == nil:
		entry.StorageKey = canonical.StorageKey
		return uc.queue.RecordExactDuplicate(ctx, entry, canonical)
	case !domain.IsKind(err, domain.ErrEntryNotFound):
		return nil, fmt.Errorf("find by content hash: %w", err)
	}

	entry.StorageKey = storageKey(entry.ID, hash, sub.Filename)
	if err := uc.storage.Save(ctx, entry.StorageKey, bytes.NewReader(sub.Content)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	if err := uc.journal.Create(ctx, entry); err != nil {
		if !domain.IsKind(err, domain.ErrDuplicateHash) {
			return nil, fmt.Errorf("create journal entry: %w", err)
		}
		// Lost the race against an identical concurrent submission.
		canonical, findErr := uc.journal.FindByHash(ctx, hash)
		if findErr != nil {
			return nil, fmt.Errorf("resolve duplicate hash: %w", findErr)
		}
		return uc.queue.RecordExactDuplicate(ctx, entry, canonical)
	}

	slog.Info("entry_submitted",
		"entry_id", entry.ID,
		"source_channel", string(entry.SourceChannel),
		"size_bytes", entry.SizeBytes,
	)
	if uc.events != nil {
		if err := uc.events.PublishEntrySubmitted(ctx, entry.ID); err != nil {
			// The entry is durable; recovery re-announces stale pending entries.
			slog.Warn("submitted_announce_failed", "entry_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}

func validateSubmission(sub domain.Submission) error {
	switch {
	case strings.TrimSpace(sub.Filename) == "":
		return domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("filename is required"))
	case len(sub.Content) == 0:
		return domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("content is empty"))
	case !sub.SourceChannel.Valid():
		return domain.WrapError(domain.ErrInvalidInput, "submit", fmt.Errorf("unknown source channel %q", sub.SourceChannel))
	}
	return nil
}

func storageKey(id, hash, filename string) string {
	return fmt.Sprintf("%s/%s_%s", hash[:2], id, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, base)
	if base == "" || base == "." {
		return "document"
	}
	return base
}
