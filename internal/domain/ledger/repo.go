package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

var (
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrNotFound            = errors.New("ledger: not found")
)

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

func (r *Repo) Get(ctx context.Context, scope Scope) (*Ledger, error) {
	var q string
	if scope.IsOrganization() {
		q = `SELECT tier, credits_total, credits_used, reset_at, active, updated_at
		     FROM organization_ledgers WHERE organization_id = $1`
	} else {
		q = `SELECT tier, credits_total, credits_used, reset_at, TRUE, updated_at
		     FROM personal_ledgers WHERE user_id = $1`
	}
	l := Ledger{Scope: scope}
	err := r.db.QueryRow(ctx, q, scope.ID).Scan(
		&l.Tier, &l.CreditsTotal, &l.CreditsUsed, &l.ResetAt, &l.Active, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ProvisionPersonal создаёт личный леджер, если его ещё нет. Повторный
// вызов — no-op, существующий баланс не трогаем.
func (r *Repo) ProvisionPersonal(ctx context.Context, userID int64, tier string, total int64, resetAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO personal_ledgers (user_id, tier, credits_total, credits_used, reset_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, tier, total, resetAt)
	return err
}

// CreateOrganization заводит леджер организации. Вызывается только при
// создании организации, в её транзакции — лениво орг-леджеры не создаются.
func (r *Repo) CreateOrganization(ctx context.Context, q db.Querier, orgID int64, tier string, total int64, resetAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO organization_ledgers (organization_id, tier, credits_total, credits_used, reset_at)
		VALUES ($1, $2, $3, 0, $4)
	`, orgID, tier, total, resetAt)
	return err
}

// Consume атомарно списывает cost: одно условное обновление, никакого
// read-then-write. Ноль строк — баланса не хватило (или леджер исчез),
// возвращаем ErrInsufficientCredits, вызывающий перечитает остаток.
func (r *Repo) Consume(ctx context.Context, q db.Querier, scope Scope, cost int64) (remaining int64, err error) {
	var sql string
	if scope.IsOrganization() {
		sql = `UPDATE organization_ledgers
		       SET credits_used = credits_used + $2, updated_at = now()
		       WHERE organization_id = $1 AND credits_used + $2 <= credits_total
		       RETURNING credits_total - credits_used`
	} else {
		sql = `UPDATE personal_ledgers
		       SET credits_used = credits_used + $2, updated_at = now()
		       WHERE user_id = $1 AND credits_used + $2 <= credits_total
		       RETURNING credits_total - credits_used`
	}
	if err := q.QueryRow(ctx, sql, scope.ID, cost).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, err
	}
	return remaining, nil
}

// Reset сбрасывает период: условие reset_at <= now делает сброс
// идемпотентным по сущности при пересекающихся sweep'ах.
func (r *Repo) Reset(ctx context.Context, q db.Querier, scope Scope, total int64, now, next time.Time) (bool, error) {
	var sql string
	if scope.IsOrganization() {
		sql = `UPDATE organization_ledgers
		       SET credits_used = 0, credits_total = $2, reset_at = $3, updated_at = now()
		       WHERE organization_id = $1 AND reset_at <= $4`
	} else {
		sql = `UPDATE personal_ledgers
		       SET credits_used = 0, credits_total = $2, reset_at = $3, updated_at = now()
		       WHERE user_id = $1 AND reset_at <= $4`
	}
	tag, err := q.Exec(ctx, sql, scope.ID, total, next, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Rebind применяет новый тариф при одобрении заявки: тариф, полный баланс,
// нулевой расход, новая дата сброса. Для личного скоупа — upsert, леджера
// могло ещё не быть.
func (r *Repo) Rebind(ctx context.Context, q db.Querier, scope Scope, tier string, total int64, resetAt time.Time) error {
	if scope.IsOrganization() {
		tag, err := q.Exec(ctx, `
			UPDATE organization_ledgers
			SET tier = $2, credits_total = $3, credits_used = 0, reset_at = $4, updated_at = now()
			WHERE organization_id = $1
		`, scope.ID, tier, total, resetAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO personal_ledgers (user_id, tier, credits_total, credits_used, reset_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			credits_total = EXCLUDED.credits_total,
			credits_used = 0,
			reset_at = EXCLUDED.reset_at,
			updated_at = now()
	`, scope.ID, tier, total, resetAt)
	return err
}

// DueOrganizations — орг-леджеры с истёкшим периодом на момент now.
func (r *Repo) DueOrganizations(ctx context.Context, now time.Time) ([]Due, error) {
	rows, err := r.db.Query(ctx, `
		SELECT organization_id, tier FROM organization_ledgers
		WHERE reset_at <= $1 AND active
		ORDER BY organization_id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDue(rows, KindOrganization)
}

// DuePersonal — личные леджеры с истёкшим периодом на момент now.
func (r *Repo) DuePersonal(ctx context.Context, now time.Time) ([]Due, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, tier FROM personal_ledgers
		WHERE reset_at <= $1
		ORDER BY user_id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDue(rows, KindPersonal)
}

func scanDue(rows pgx.Rows, kind Kind) ([]Due, error) {
	var out []Due
	for rows.Next() {
		var d Due
		d.Scope.Kind = kind
		if err := rows.Scan(&d.Scope.ID, &d.Tier); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
