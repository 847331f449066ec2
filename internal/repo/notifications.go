package repo

import (
	"context"
	"database/sql"
	"strings"

	"greenlight/internal/domain"
)

const notificationColumns = `id,user_id,type,title,message,project_id,is_read,created_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var projectID sql.NullString
	var read int
	err := scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &projectID, &read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if projectID.Valid {
		n.ProjectID = &projectID.String
	}
	n.IsRead = read != 0
	return n, err
}

type NotificationFilters struct {
	UserID          string
	UnreadOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.UnreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// NotificationsAfter returns notifications with rowids greater than the
// cursor in ascending order, for webhook delivery.
func (r Repo) NotificationsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Notification, []int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT rowid,`+notificationColumns+` FROM notifications WHERE rowid>? ORDER BY rowid ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	var ids []int64
	for rows.Next() {
		var rowid int64
		var n domain.Notification
		var projectID sql.NullString
		var read int
		if err := rows.Scan(&rowid, &n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &projectID, &read, &n.CreatedAt); err != nil {
			return nil, nil, err
		}
		if projectID.Valid {
			n.ProjectID = &projectID.String
		}
		n.IsRead = read != 0
		res = append(res, n)
		ids = append(ids, rowid)
	}
	return res, ids, rows.Err()
}

// LatestNotificationRowID returns the newest rowid, the starting cursor
// for webhook dispatch.
func (r Repo) LatestNotificationRowID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid),0) FROM notifications`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE user_id=? AND is_read=0`, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id=? AND is_read=0`, userID).Scan(&n)
	return n, err
}
