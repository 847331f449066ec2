package engine

import (
	"fmt"

	"greenlight/internal/domain"
)

// Outcome is the combined result of a project's review set.
type Outcome struct {
	// Complete is true once every assigned reviewer has submitted.
	Complete bool
	// Status is the project status the review set resolves to. Only
	// meaningful when Complete is true.
	Status domain.Status
	// Pending lists reviewer IDs that have not submitted yet.
	Pending []string
}

// Aggregate folds a project's reviews into a single outcome. Any reject
// wins over any return, which wins over unanimous approval. A review
// marked submitted without a decision is a data integrity fault and is
// surfaced as an error rather than guessed around.
func Aggregate(reviews []domain.Review) (Outcome, error) {
	var out Outcome
	var rejected, returned bool
	for _, rv := range reviews {
		if !rv.Submitted() {
			out.Pending = append(out.Pending, rv.ReviewerID)
			continue
		}
		if rv.Decision == nil {
			return out, fmt.Errorf("review %s submitted without a decision", rv.ID)
		}
		switch *rv.Decision {
		case domain.DecisionReject:
			rejected = true
		case domain.DecisionReturn:
			returned = true
		case domain.DecisionApprove:
		default:
			return out, fmt.Errorf("review %s has unknown decision %q", rv.ID, *rv.Decision)
		}
	}
	if len(out.Pending) > 0 {
		return out, nil
	}
	out.Complete = true
	switch {
	case rejected:
		out.Status = domain.StatusRejected
	case returned:
		out.Status = domain.StatusReturned
	default:
		out.Status = domain.StatusApproved
	}
	return out, nil
}
