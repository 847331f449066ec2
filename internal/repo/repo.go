package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"greenlight/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,name,COALESCE(description,''),COALESCE(objective,''),estimated_cost,COALESCE(target_time,''),status,proposer_id,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	err := scan(&p.ID, &p.Name, &p.Description, &p.Objective, &p.EstimatedCost, &p.TargetTime, &p.Status, &p.ProposerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,objective,estimated_cost,target_time,status,proposer_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Objective), p.EstimatedCost, nullable(p.TargetTime), string(p.Status), p.ProposerID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

// GetProjectTx reads a project inside a transaction so workflow
// operations observe a consistent snapshot.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	Status          string
	ProposerID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ProposerID != "" {
		clauses = append(clauses, "proposer_id=?")
		args = append(args, f.ProposerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatus sets the status and bumps updated_at.
func (r Repo) UpdateProjectStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertReviewerAssignment(ctx context.Context, tx *sql.Tx, a domain.ReviewerAssignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_reviewers(id,project_id,reviewer_id,assigned_at) VALUES (?,?,?,?)`,
		a.ID, a.ProjectID, a.ReviewerID, a.AssignedAt)
	return err
}

func (r Repo) ListReviewerAssignments(ctx context.Context, projectID string) ([]domain.ReviewerAssignment, error) {
	return listAssignments(ctx, r.DB.QueryContext, projectID)
}

func (r Repo) ListReviewerAssignmentsTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.ReviewerAssignment, error) {
	return listAssignments(ctx, tx.QueryContext, projectID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func listAssignments(ctx context.Context, query queryFunc, projectID string) ([]domain.ReviewerAssignment, error) {
	rows, err := query(ctx, `SELECT id,project_id,reviewer_id,assigned_at FROM project_reviewers WHERE project_id=? ORDER BY assigned_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReviewerAssignment
	for rows.Next() {
		var a domain.ReviewerAssignment
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ReviewerID, &a.AssignedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
