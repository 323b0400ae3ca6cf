package agent

import (
	"kairos/internal/apperr"
	"kairos/internal/domain"
)

var transitions = map[domain.DraftStatus][]domain.DraftStatus{
	domain.DraftStatusDraft:     {domain.DraftStatusConfirmed, domain.DraftStatusExpired},
	domain.DraftStatusConfirmed: {domain.DraftStatusApplied, domain.DraftStatusExpired, domain.DraftStatusFailed},
}

// CanTransition reports whether a draft may move from one status to another.
func CanTransition(from, to domain.DraftStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to domain.DraftStatus) error {
	if !CanTransition(from, to) {
		return apperr.New(apperr.InvalidState, "draft is %s and cannot become %s", from, to)
	}
	return nil
}
