// Package auth answers role-based authorization questions for workflow
// operations. Roles are carried on the user record rather than in a
// separate grant table.
package auth

import (
	"context"
	"database/sql"
	"fmt"

	"greenlight/internal/domain"
	"greenlight/internal/repo"
)

// ForbiddenError indicates the acting user may not perform an operation.
type ForbiddenError struct {
	Operation string
	Role      domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Operation)
}

// Service provides authorization helpers backed by the users table.
type Service struct {
	Repo repo.Repo
}

// RequireUser loads the acting user inside the transaction and fails if
// the user is missing or deactivated.
func (s Service) RequireUser(ctx context.Context, tx *sql.Tx, userID string) (domain.User, error) {
	user, err := s.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !user.IsActive {
		return domain.User{}, ForbiddenError{Operation: "act", Role: user.Role}
	}
	return user, nil
}

// RequireProposer checks that user owns the project.
func (s Service) RequireProposer(user domain.User, project domain.Project, op string) error {
	if user.ID == project.ProposerID {
		return nil
	}
	return ForbiddenError{Operation: op, Role: user.Role}
}

// RequireDecider checks that user holds a role with decision authority.
func (s Service) RequireDecider(user domain.User, op string) error {
	if user.Role.CanDecide() {
		return nil
	}
	return ForbiddenError{Operation: op, Role: user.Role}
}

// RequireAssignedReviewer checks that the review belongs to user.
func (s Service) RequireAssignedReviewer(rv domain.Review, user domain.User, op string) error {
	if rv.ReviewerID == user.ID {
		return nil
	}
	return ForbiddenError{Operation: op, Role: user.Role}
}
