package domain

import (
	"encoding/json"
	"time"
)

type QueueStatus string

const (
	StatusPending             QueueStatus = "pending"
	StatusAssessing           QueueStatus = "assessing"
	StatusQueued              QueueStatus = "queued"
	StatusSkippedDuplicate    QueueStatus = "skipped_duplicate"
	StatusSkippedManualReview QueueStatus = "skipped_manual_review"
	StatusProcessing          QueueStatus = "processing"
	StatusCompleted           QueueStatus = "completed"
	StatusFailed              QueueStatus = "failed"
)

// AllStatuses lists every queue status in lifecycle order.
var AllStatuses = []QueueStatus{
	StatusPending,
	StatusAssessing,
	StatusQueued,
	StatusSkippedDuplicate,
	StatusSkippedManualReview,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

func (s QueueStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type SourceChannel string

const (
	ChannelMobileUpload SourceChannel = "mobile_upload"
	ChannelBulkImport   SourceChannel = "bulk_import"
	ChannelChatBot      SourceChannel = "chat_bot"
	ChannelAPI          SourceChannel = "api"
)

func (c SourceChannel) Valid() bool {
	switch c {
	case ChannelMobileUpload, ChannelBulkImport, ChannelChatBot, ChannelAPI:
		return true
	default:
		return false
	}
}

// DedupTier identifies which tier made the duplicate call. TierNone means no
// tier has decided yet.
type DedupTier int

const (
	TierNone     DedupTier = -1
	TierIdentity DedupTier = 0
	TierContent  DedupTier = 1
	TierSemantic DedupTier = 2
)

func (t DedupTier) String() string {
	switch t {
	case TierIdentity:
		return "0"
	case TierContent:
		return "1"
	case TierSemantic:
		return "2"
	default:
		return "none"
	}
}

type DocumentType string

const DocumentTypeUnknown DocumentType = "unknown"

// MaxDuplicateHops bounds how far a content hash lookup follows
// duplicate_of_id links.
const MaxDuplicateHops = 8

type JournalEntry struct {
	ID               string        `json:"id"`
	ContentHash      string        `json:"content_hash"`
	OriginalFilename string        `json:"original_filename"`
	MimeType         string        `json:"mime_type,omitempty"`
	SizeBytes        int64         `json:"size_bytes"`
	StorageKey       string        `json:"storage_key"`
	SourceChannel    SourceChannel `json:"source_channel"`
	SubmittedAt      time.Time     `json:"submitted_at"`

	DocumentType   DocumentType `json:"document_type,omitempty"`
	Priority       int          `json:"priority"`
	ComplianceTags []string     `json:"compliance_tags,omitempty"`

	QueueStatus     QueueStatus `json:"queue_status"`
	IsDuplicate     bool        `json:"is_duplicate"`
	DuplicateOfID   string      `json:"duplicate_of_id,omitempty"`
	DedupTier       DedupTier   `json:"dedup_tier"`
	SimilarityScore *float64    `json:"similarity_score,omitempty"`
	ReviewReason    string      `json:"review_reason,omitempty"`

	ReprocessingRequested bool   `json:"reprocessing_requested"`
	ReprocessingReason    string `json:"reprocessing_reason,omitempty"`

	ClaimedBy        string          `json:"claimed_by,omitempty"`
	ProcessingResult json.RawMessage `json:"processing_result,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`

	AssessedAt          *time.Time `json:"assessed_at,omitempty"`
	QueuedAt            *time.Time `json:"queued_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Submission is the raw input of one ingestion attempt.
type Submission struct {
	Filename      string
	MimeType      string
	SourceChannel SourceChannel
	Content       []byte
}

type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditTransition AuditAction = "transition"
)

// AuditEvent is one immutable row of the journal history.
type AuditEvent struct {
	EntryID    string          `json:"entry_id"`
	Action     AuditAction     `json:"action"`
	FromStatus QueueStatus     `json:"from_status,omitempty"`
	ToStatus   QueueStatus     `json:"to_status"`
	Actor      string          `json:"actor,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Fingerprint is the stored tier-1 shingle sketch of an admitted entry.
type Fingerprint struct {
	EntryID   string    `json:"entry_id"`
	Shingles  []uint64  `json:"shingles"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentWindow bounds lookback scans by age and by count.
type RecentWindow struct {
	Since     time.Time
	Limit     int
	ExcludeID string
}

type QueueStats struct {
	Total         int                 `json:"total"`
	ByStatus      map[QueueStatus]int `json:"by_status"`
	Duplicates    int                 `json:"duplicates"`
	DuplicateRate float64             `json:"duplicate_rate"`
	TierHits      map[string]int      `json:"tier_hits"`
}

// Finalize fills the derived rate from the raw counters.
func (s *QueueStats) Finalize() {
	if s.ByStatus == nil {
		s.ByStatus = map[QueueStatus]int{}
	}
	if s.TierHits == nil {
		s.TierHits = map[string]int{}
	}
	if s.Total == 0 {
		s.DuplicateRate = 0
		return
	}
	s.DuplicateRate = float64(s.Duplicates) / float64(s.Total)
}
