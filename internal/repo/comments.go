package repo

import (
	"context"
	"database/sql"

	"greenlight/internal/domain"
)

const commentColumns = `id,project_id,user_id,body,created_at`

func scanComment(scan func(dest ...any) error) (domain.Comment, error) {
	var c domain.Comment
	err := scan(&c.ID, &c.ProjectID, &c.UserID, &c.Body, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments (`+commentColumns+`) VALUES (?,?,?,?,?)`,
		c.ID, c.ProjectID, c.UserID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, projectID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
