package domain

import "time"

type StepOutcome string

const (
	OutcomeDuplicate    StepOutcome = "duplicate"
	OutcomeUnique       StepOutcome = "unique"
	OutcomeInconclusive StepOutcome = "inconclusive"
	OutcomeError        StepOutcome = "error"
)

// StepLog is one tier invocation of one assessment attempt. Write-only.
type StepLog struct {
	EntryID    string        `json:"entry_id"`
	AttemptID  string        `json:"attempt_id"`
	Tier       DedupTier     `json:"tier"`
	Duration   time.Duration `json:"duration"`
	Outcome    StepOutcome   `json:"outcome"`
	Score      *float64      `json:"score,omitempty"`
	MatchID    string        `json:"match_id,omitempty"`
	Candidates int           `json:"candidates"`
	Error      string        `json:"error,omitempty"`
	Note       string        `json:"note,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Extraction is the text a collaborator pulled out of the stored document.
type Extraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// VectorMatch is one nearest-neighbour hit from the embedding index.
type VectorMatch struct {
	EntryID string  `json:"entry_id"`
	Score   float64 `json:"score"`
}
