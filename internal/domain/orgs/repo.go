package orgs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

var (
	ErrNotFound         = errors.New("orgs: not found")
	ErrUnknownActor     = errors.New("orgs: unknown actor")
	ErrPermissionDenied = errors.New("orgs: permission denied")
	ErrAlreadyMember    = errors.New("orgs: user already belongs to an organization")
)

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

// ResolveScope определяет, чей баланс списывать: организация, если актор
// в ней состоит (членство не больше одного), иначе личный кабинет.
// Чистый lookup, без побочных эффектов.
func (r *Repo) ResolveScope(ctx context.Context, actorID int64) (ledger.Scope, error) {
	row := r.db.QueryRow(ctx, `
		SELECT m.organization_id
		FROM users u
		LEFT JOIN organization_members m ON m.user_id = u.id
		WHERE u.id = $1
	`, actorID)
	var orgID *int64
	if err := row.Scan(&orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Scope{}, ErrUnknownActor
		}
		return ledger.Scope{}, err
	}
	if orgID != nil {
		return ledger.Organization(*orgID), nil
	}
	return ledger.Personal(actorID), nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*Organization, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, tier, active, created_at FROM organizations WHERE id = $1
	`, id)
	var o Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Tier, &o.Active, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// RoleOf возвращает роль пользователя в организации, ErrNotFound если не состоит.
func (r *Repo) RoleOf(ctx context.Context, orgID, userID int64) (Role, error) {
	row := r.db.QueryRow(ctx, `
		SELECT role FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	var role Role
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}

// CanManage — может ли пользователь действовать от имени организации (owner/admin).
func (r *Repo) CanManage(ctx context.Context, orgID, userID int64) (bool, error) {
	role, err := r.RoleOf(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return role.CanManage(), nil
}

func (r *Repo) ListMembers(ctx context.Context, orgID int64) ([]Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, user_id, role, created_at
		FROM organization_members
		WHERE organization_id = $1
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) insertOrganization(ctx context.Context, q db.Querier, name, tier string) (*Organization, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO organizations (name, tier) VALUES ($1, $2)
		RETURNING id, name, tier, active, created_at
	`, name, tier)
	var o Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Tier, &o.Active, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) insertMember(ctx context.Context, q db.Querier, orgID, userID int64, role Role) error {
	_, err := q.Exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)
	`, orgID, userID, role)
	return err
}

func (r *Repo) setMemberRole(ctx context.Context, orgID, userID int64, role Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE organization_members SET role = $3
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTier обновляет денормализованный тариф организации (в транзакции одобрения).
func (r *Repo) SetTier(ctx context.Context, q db.Querier, orgID int64, tier string) error {
	_, err := q.Exec(ctx, `UPDATE organizations SET tier = $2 WHERE id = $1`, orgID, tier)
	return err
}
