// Package history appends audit entries to the project history log.
// Entries are written inside the caller's transaction so they commit or
// roll back together with the state change they describe.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records an action against a project. details may be nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, projectID, userID, action string, details *string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var det any
	if details != nil && *details != "" {
		det = *details
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO project_history(id,project_id,user_id,action,details,created_at) VALUES (?,?,?,?,?,?)`,
		uuid.NewString(), projectID, userID, action, det, ts)
	return err
}
