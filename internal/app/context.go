// Package app wires the workspace together: database, migrations,
// config and the seeded administrator account.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"greenlight/internal/config"
	"greenlight/internal/db"
	"greenlight/internal/domain"
	"greenlight/internal/engine"
	"greenlight/internal/migrate"
	"greenlight/internal/repo"
)

// Context is the assembled runtime for CLI commands and the server.
type Context struct {
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Config *config.Config
}

// Open ensures the workspace exists, opens the database, runs pending
// migrations and loads config.
func Open(ctx context.Context, workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Engine: engine.New(conn, cfg),
		Config: cfg,
	}, nil
}

// Close releases the database handle.
func (c *Context) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// EnsureAdmin returns the administrator account, creating one when the
// users table has none. Used on first run so the workspace is usable.
func (c *Context) EnsureAdmin(ctx context.Context, name, email string) (domain.User, error) {
	admins, err := c.Repo.ListUsers(ctx, string(domain.RoleSysAdmin))
	if err != nil {
		return domain.User{}, err
	}
	if len(admins) > 0 {
		return admins[0], nil
	}
	if name == "" {
		name = "Administrator"
	}
	if email == "" {
		email = "admin@localhost"
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      domain.RoleSysAdmin,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// LookupUser resolves an id or email to a user.
func (c *Context) LookupUser(ctx context.Context, idOrEmail string) (domain.User, error) {
	u, err := c.Repo.GetUser(ctx, idOrEmail)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	users, err := c.Repo.ListUsers(ctx, "")
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Email == idOrEmail {
			return u, nil
		}
	}
	return domain.User{}, repo.ErrNotFound
}
