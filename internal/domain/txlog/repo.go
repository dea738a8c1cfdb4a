package txlog

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

// Append пишет запись в той же транзакции, что и мутация баланса, которую
// она фиксирует — q передаёт вызывающий.
func (r *Repo) Append(ctx context.Context, q db.Querier, rec Record) (int64, error) {
	var orgID, userID *int64
	if rec.Scope.IsOrganization() {
		orgID = &rec.Scope.ID
	} else {
		userID = &rec.Scope.ID
	}
	if rec.ActorID != 0 {
		userID = &rec.ActorID
	}

	var mb []byte
	if rec.Metadata != nil {
		mb, _ = json.Marshal(rec.Metadata)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO credit_transactions (organization_id, user_id, amount, type, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, orgID, userID, rec.Amount, rec.Type, rec.Description, mb)

	var id int64
	return id, row.Scan(&id)
}

func (r *Repo) ListByScope(ctx context.Context, scope ledger.Scope, limit int) ([]Record, error) {
	var q string
	if scope.IsOrganization() {
		q = `SELECT id, organization_id, user_id, amount, type, description, metadata, created_at
		     FROM credit_transactions WHERE organization_id = $1
		     ORDER BY created_at DESC, id DESC LIMIT $2`
	} else {
		q = `SELECT id, organization_id, user_id, amount, type, description, metadata, created_at
		     FROM credit_transactions WHERE organization_id IS NULL AND user_id = $1
		     ORDER BY created_at DESC, id DESC LIMIT $2`
	}
	rows, err := r.db.Query(ctx, q, scope.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecent — последние записи по всем скоупам, для админ-отчёта.
func (r *Repo) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, organization_id, user_id, amount, type, description, metadata, created_at
		FROM credit_transactions
		ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec    Record
			orgID  *int64
			userID *int64
			mb     []byte
		)
		if err := rows.Scan(&rec.ID, &orgID, &userID, &rec.Amount, &rec.Type, &rec.Description, &mb, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if orgID != nil {
			rec.Scope = ledger.Organization(*orgID)
		} else if userID != nil {
			rec.Scope = ledger.Personal(*userID)
		}
		if userID != nil {
			rec.ActorID = *userID
		}
		if len(mb) > 0 {
			_ = json.Unmarshal(mb, &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
