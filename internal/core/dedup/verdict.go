package dedup

import (
	"fmt"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

type Kind int

const (
	KindInconclusive Kind = iota
	KindUnique
	KindDuplicate
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUnique:
		return "unique"
	case KindDuplicate:
		return "duplicate"
	case KindError:
		return "error"
	default:
		return "inconclusive"
	}
}

// Verdict is the result of one tier. Only KindDuplicate carries a MatchID.
type Verdict struct {
	Kind    Kind
	MatchID string
	Score   float64
	Reason  string
}

func Duplicate(matchID string, score float64) Verdict {
	return Verdict{Kind: KindDuplicate, MatchID: matchID, Score: score}
}

func Unique(score float64) Verdict {
	return Verdict{Kind: KindUnique, Score: score}
}

func Inconclusive(score float64, reason string) Verdict {
	return Verdict{Kind: KindInconclusive, Score: score, Reason: reason}
}

func Errored(reason string) Verdict {
	return Verdict{Kind: KindError, Reason: reason}
}

func (v Verdict) Outcome() domain.StepOutcome {
	switch v.Kind {
	case KindDuplicate:
		return domain.OutcomeDuplicate
	case KindUnique:
		return domain.OutcomeUnique
	case KindError:
		return domain.OutcomeError
	default:
		return domain.OutcomeInconclusive
	}
}

// TierError is a tier failure that aborts the assessment attempt.
type TierError struct {
	Tier    domain.DedupTier
	EntryID string
	Err     error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("dedup tier %s entry %s: %v", e.Tier, e.EntryID, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }
