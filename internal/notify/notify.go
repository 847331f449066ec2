// Package notify creates in-app notifications. Notifications are written
// inside the caller's transaction, so a rolled-back operation never
// leaves a notification behind.
package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"greenlight/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Send creates an unread notification for a single user. projectID may be
// empty for notifications not tied to a project.
func (w Writer) Send(ctx context.Context, tx *sql.Tx, userID, typ, title, message, projectID string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var pid any
	if projectID != "" {
		pid = projectID
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,message,project_id,is_read,created_at) VALUES (?,?,?,?,?,?,0,?)`,
		uuid.NewString(), userID, typ, title, message, pid, ts)
	return err
}

// Broadcast sends the same notification to every user in the list.
func (w Writer) Broadcast(ctx context.Context, tx *sql.Tx, users []domain.User, typ, title, message, projectID string) error {
	for _, u := range users {
		if err := w.Send(ctx, tx, u.ID, typ, title, message, projectID); err != nil {
			return err
		}
	}
	return nil
}
