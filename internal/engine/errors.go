package engine

import (
	"fmt"
	"strings"

	"greenlight/internal/domain"
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an operation attempted from a status that
// does not allow it.
type InvalidStateError struct {
	Operation string
	Current   domain.Status
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a project in status %s", e.Operation, e.Current)
}

// ReviewAlreadySubmittedError reports a second submission of the same
// review.
type ReviewAlreadySubmittedError struct {
	ReviewID string
}

func (e ReviewAlreadySubmittedError) Error() string {
	return fmt.Sprintf("review %s already submitted", e.ReviewID)
}

// ReviewsIncompleteError reports a final decision attempted before every
// assigned reviewer has submitted.
type ReviewsIncompleteError struct {
	Missing []string
}

func (e ReviewsIncompleteError) Error() string {
	if len(e.Missing) == 0 {
		return "no reviews found"
	}
	return fmt.Sprintf("reviews pending from %s", strings.Join(e.Missing, ", "))
}

// ReviewsNotAllApprovedError reports an approval attempted while some
// review carries a non-approve decision.
type ReviewsNotAllApprovedError struct {
	Decision domain.Decision
}

func (e ReviewsNotAllApprovedError) Error() string {
	return fmt.Sprintf("cannot approve: a review decided %s", e.Decision)
}
