package repo

import (
	"context"
	"database/sql"

	"greenlight/internal/domain"
)

const reviewColumns = `id,project_id,reviewer_id,decision,COALESCE(justification,''),COALESCE(risk_identification,''),COALESCE(risk_assessment,''),COALESCE(risk_mitigation,''),COALESCE(comments,''),submitted_at,created_at,updated_at`

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var rv domain.Review
	var decision, submittedAt sql.NullString
	err := scan(&rv.ID, &rv.ProjectID, &rv.ReviewerID, &decision, &rv.Justification, &rv.RiskIdentification,
		&rv.RiskAssessment, &rv.RiskMitigation, &rv.Comments, &submittedAt, &rv.CreatedAt, &rv.UpdatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	if decision.Valid {
		d := domain.Decision(decision.String)
		rv.Decision = &d
	}
	if submittedAt.Valid {
		rv.SubmittedAt = &submittedAt.String
	}
	return rv, nil
}

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	var decision any
	if rv.Decision != nil {
		decision = string(*rv.Decision)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(id,project_id,reviewer_id,decision,justification,risk_identification,risk_assessment,risk_mitigation,comments,submitted_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.ProjectID, rv.ReviewerID, decision, nullable(rv.Justification), nullable(rv.RiskIdentification),
		nullable(string(rv.RiskAssessment)), nullable(rv.RiskMitigation), nullable(rv.Comments),
		nullableStringPtr(rv.SubmittedAt), rv.CreatedAt, rv.UpdatedAt)
	return err
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, id string) (domain.Review, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

// UpdateReview persists a finalized review. Decision and submitted_at
// are written together; the engine enforces the submit-once rule.
func (r Repo) UpdateReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	var decision any
	if rv.Decision != nil {
		decision = string(*rv.Decision)
	}
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET decision=?, justification=?, risk_identification=?, risk_assessment=?, risk_mitigation=?, comments=?, submitted_at=?, updated_at=? WHERE id=?`,
		decision, nullable(rv.Justification), nullable(rv.RiskIdentification), nullable(string(rv.RiskAssessment)),
		nullable(rv.RiskMitigation), nullable(rv.Comments), nullableStringPtr(rv.SubmittedAt), rv.UpdatedAt, rv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListReviewsForProject(ctx context.Context, projectID string) ([]domain.Review, error) {
	return listReviews(ctx, r.DB.QueryContext, `SELECT `+reviewColumns+` FROM reviews WHERE project_id=? ORDER BY created_at, id`, projectID)
}

func (r Repo) ListReviewsForProjectTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Review, error) {
	return listReviews(ctx, tx.QueryContext, `SELECT `+reviewColumns+` FROM reviews WHERE project_id=? ORDER BY created_at, id`, projectID)
}

// ListPendingReviews returns a reviewer's unsubmitted reviews on
// projects that are open for review.
func (r Repo) ListPendingReviews(ctx context.Context, reviewerID string) ([]domain.Review, error) {
	const cols = `r.id,r.project_id,r.reviewer_id,r.decision,COALESCE(r.justification,''),COALESCE(r.risk_identification,''),COALESCE(r.risk_assessment,''),COALESCE(r.risk_mitigation,''),COALESCE(r.comments,''),r.submitted_at,r.created_at,r.updated_at`
	return listReviews(ctx, r.DB.QueryContext, `SELECT `+cols+` FROM reviews r
JOIN projects p ON p.id=r.project_id
WHERE r.reviewer_id=? AND r.submitted_at IS NULL AND p.status IN ('submitted','under_review')
ORDER BY r.created_at, r.id`, reviewerID)
}

func listReviews(ctx context.Context, query queryFunc, q string, args ...any) ([]domain.Review, error) {
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}
