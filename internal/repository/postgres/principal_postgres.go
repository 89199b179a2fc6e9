package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"securedocs/internal/model"
	"securedocs/internal/repository"
)

// PrincipalPostgres is a PostgreSQL implementation of repository.PrincipalRepository.
type PrincipalPostgres struct {
	db *sql.DB
}

// NewPrincipalPostgres creates a new PrincipalPostgres repository.
func NewPrincipalPostgres(db *sql.DB) *PrincipalPostgres {
	return &PrincipalPostgres{db: db}
}

var _ repository.PrincipalRepository = (*PrincipalPostgres)(nil)

// FindByID loads a user and its group ids. Group membership is read on every
// call so revocations apply to the next request.
func (r *PrincipalPostgres) FindByID(ctx context.Context, id int64) (*model.Principal, error) {
	const q = `
		SELECT u.id, u.username, u.email, u.is_staff, u.is_superuser, u.is_active, u.created_at,
			ARRAY(SELECT ug.group_id FROM user_groups ug WHERE ug.user_id = u.id ORDER BY ug.group_id) AS groups
		FROM users u
		WHERE u.id = $1
	`
	var p model.Principal
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.IsStaff,
		&p.IsSuperuser,
		&p.IsActive,
		&p.CreatedAt,
		pq.Array(&p.Groups),
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindCredentials returns the password hash and active flag for a username.
func (r *PrincipalPostgres) FindCredentials(ctx context.Context, username string) (*model.Credentials, error) {
	const q = `SELECT id, username, password_hash, is_active FROM users WHERE username = $1`
	var c model.Credentials
	if err := r.db.QueryRowContext(ctx, q, username).Scan(
		&c.UserID,
		&c.Username,
		&c.PasswordHash,
		&c.IsActive,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a user row and its group memberships in one transaction.
func (r *PrincipalPostgres) Create(ctx context.Context, p *model.Principal, passwordHash string) (*model.Principal, error) {
	const qUser = `
		INSERT INTO users (username, email, password_hash, is_staff, is_superuser, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	const qGroups = `INSERT INTO user_groups (user_id, group_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`

	out := *p
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, qUser,
			p.Username,
			p.Email,
			passwordHash,
			p.IsStaff,
			p.IsSuperuser,
			p.IsActive,
		).Scan(&out.ID, &out.CreatedAt); err != nil {
			return err
		}
		if len(p.Groups) > 0 {
			if _, err := tx.ExecContext(ctx, qGroups, out.ID, pq.Array(p.Groups)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureGroup upserts a group by name and returns its id.
func (r *PrincipalPostgres) EnsureGroup(ctx context.Context, name string) (int64, error) {
	const q = `
		INSERT INTO groups (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, q, name).Scan(&id)
	return id, err
}
