// Package reset периодически обнуляет расход леджеров с истёкшим периодом.
// Таймера внутри нет: Sweep — функция от "сейчас", кадансом управляет
// внешний триггер (cron в main или админский эндпоинт).
package reset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/metrics"
)

type Sweeper struct {
	pool    db.Pool
	ledgers *ledger.Repo
	tx      *txlog.Repo
	log     *slog.Logger
}

func NewSweeper(pool db.Pool, ledgers *ledger.Repo, tx *txlog.Repo, log *slog.Logger) *Sweeper {
	return &Sweeper{pool: pool, ledgers: ledgers, tx: tx, log: log}
}

type Result struct {
	OrganizationsReset int `json:"organizations_reset"`
	PersonalReset      int `json:"personal_reset"`
}

// Sweep сбрасывает все леджеры с reset_at <= now. Каждый — своей
// транзакцией: ошибка одного не валит остальных. Условие reset_at <= now
// в самом UPDATE защищает от двойного сброса пересекающимися sweep'ами.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	orgsDue, err := s.ledgers.DueOrganizations(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list due organizations: %w", err)
	}
	for _, d := range orgsDue {
		if s.resetOne(ctx, d, now) {
			res.OrganizationsReset++
		}
	}

	personalDue, err := s.ledgers.DuePersonal(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list due personal: %w", err)
	}
	for _, d := range personalDue {
		if s.resetOne(ctx, d, now) {
			res.PersonalReset++
		}
	}

	if res.OrganizationsReset > 0 || res.PersonalReset > 0 {
		s.log.Info("reset sweep done",
			"organizations", res.OrganizationsReset, "personal", res.PersonalReset)
	}
	return res, nil
}

func (s *Sweeper) resetOne(ctx context.Context, d ledger.Due, now time.Time) bool {
	// тариф перечитан только что из леджера; неизвестный в каталоге
	// тариф сбрасываем по бесплатному
	plan, ok := plans.Get(plans.Tier(d.Tier))
	if !ok {
		plan = plans.Default()
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		done, err := s.ledgers.Reset(ctx, tx, d.Scope, plan.CreditsPerPeriod, now, now.Add(plans.ResetPeriod))
		if err != nil {
			return err
		}
		if !done {
			// параллельный sweep успел раньше — не считаем и не пишем аудит
			return errAlreadyReset
		}
		_, err = s.tx.Append(ctx, tx, txlog.Record{
			Scope:       d.Scope,
			Amount:      plan.CreditsPerPeriod,
			Type:        txlog.TypeReset,
			Description: fmt.Sprintf("period reset on tier %s", plan.Tier),
		})
		return err
	})
	if err != nil {
		if err != errAlreadyReset {
			s.log.Error("ledger reset failed", "kind", d.Scope.Kind, "id", d.Scope.ID, "err", err)
		}
		return false
	}

	metrics.SweepResets.WithLabelValues(string(d.Scope.Kind)).Inc()
	return true
}

var errAlreadyReset = fmt.Errorf("reset: already reset")
