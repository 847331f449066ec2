package repo

import (
	"context"
	"database/sql"
	"strings"

	"greenlight/internal/domain"
)

const historyColumns = `id,project_id,user_id,action,details,created_at`

func scanHistoryEntry(scan func(dest ...any) error) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	var details sql.NullString
	err := scan(&e.ID, &e.ProjectID, &e.UserID, &e.Action, &details, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if details.Valid {
		e.Details = &details.String
	}
	return e, err
}

type HistoryFilters struct {
	ProjectID       string
	Action          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListHistory(ctx context.Context, f HistoryFilters) ([]domain.HistoryEntry, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + historyColumns + ` FROM project_history WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
