package repo

import (
	"context"
	"database/sql"

	"greenlight/internal/domain"
)

const userColumns = `id,name,email,role,is_active,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var active int
	err := scan(&u.ID, &u.Name, &u.Email, &u.Role, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.IsActive = active != 0
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, string(u.Role), boolInt(u.IsActive), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListActiveDecidersTx returns every active director and system
// administrator, the broadcast audience for final approvals.
func (r Repo) ListActiveDecidersTx(ctx context.Context, tx *sql.Tx) ([]domain.User, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_active=1 AND role IN (?,?) ORDER BY id`,
		string(domain.RoleDirector), string(domain.RoleSysAdmin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET is_active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
