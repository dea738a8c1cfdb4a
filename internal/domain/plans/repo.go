package plans

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

var ErrNotFound = errors.New("plans: request not found")

const requestColumns = `id, user_id, organization_id, current_tier, requested_tier,
	status, notes, reviewer_id, reviewer_notes, reviewed_at, created_at`

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

func (r *Repo) insert(ctx context.Context, userID int64, orgID *int64, current, requested Tier, notes string) (*Request, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO plan_requests (user_id, organization_id, current_tier, requested_tier, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+requestColumns, userID, orgID, current, requested, notes)
	return scanRequest(row)
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*Request, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM plan_requests WHERE id = $1`, id)
	return scanRequest(row)
}

// getForUpdate берёт заявку под блокировкой строки на время транзакции ревью.
func (r *Repo) getForUpdate(ctx context.Context, q db.Querier, id int64) (*Request, error) {
	row := q.QueryRow(ctx, `SELECT `+requestColumns+` FROM plan_requests WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

// markReviewed — условный перевод из pending. Ноль строк означает, что
// заявку уже отревьюили: второй ревьюер проигрывает чисто.
func (r *Repo) markReviewed(ctx context.Context, q db.Querier, id, reviewerID int64, status Status, notes string, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE plan_requests
		SET status = $2, reviewer_id = $3, reviewer_notes = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'
	`, id, status, reviewerID, notes, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repo) hasPending(ctx context.Context, userID int64, orgID *int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM plan_requests
			WHERE user_id = $1 AND COALESCE(organization_id, 0) = COALESCE($2, 0) AND status = 'pending'
		)
	`, userID, orgID).Scan(&exists)
	return exists, err
}

// ListPending возвращает очередь на ревью; kind фильтрует по виду скоупа.
func (r *Repo) ListPending(ctx context.Context, kind ledger.Kind) ([]Request, error) {
	q := `SELECT ` + requestColumns + ` FROM plan_requests WHERE status = 'pending'`
	switch kind {
	case ledger.KindOrganization:
		q += ` AND organization_id IS NOT NULL`
	case ledger.KindPersonal:
		q += ` AND organization_id IS NULL`
	}
	q += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.UserID, &req.OrganizationID, &req.CurrentTier, &req.RequestedTier,
		&req.Status, &req.Notes, &req.ReviewerID, &req.ReviewerNotes, &req.ReviewedAt, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}
