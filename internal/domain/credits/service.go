package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/orgs"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/metrics"
)

var (
	ErrUnknownOperation = errors.New("credits: unknown operation")
	// ErrUnknownScope: орг-леджер не создан. Организации провиженятся явно
	// при создании, лениво ничего не заводим.
	ErrUnknownScope = errors.New("credits: unknown scope")
)

type Service struct {
	pool    db.Pool
	orgs    *orgs.Repo
	ledgers *ledger.Repo
	tx      *txlog.Repo
	log     *slog.Logger
}

func NewService(pool db.Pool, orgsRepo *orgs.Repo, ledgers *ledger.Repo, tx *txlog.Repo, log *slog.Logger) *Service {
	return &Service{pool: pool, orgs: orgsRepo, ledgers: ledgers, tx: tx, log: log}
}

type CheckResult struct {
	Admitted  bool
	Available int64
	Reason    string
}

type Status string

const (
	StatusSuccess  Status = "success"
	StatusDeclined Status = "declined"
)

type ConsumeResult struct {
	Status           Status
	RemainingBalance int64
	Reason           string
}

type ConsumeOptions struct {
	CostOverride *int64
	Reference    string
	Metadata     map[string]any
}

// Check — бесплатная проверка: хватит ли баланса скоупа на операцию.
// Состояние не меняет, кроме ленивого создания личного леджера.
func (s *Service) Check(ctx context.Context, actorID int64, op string) (CheckResult, error) {
	cost, ok := OperationCost(op)
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	scope, err := s.orgs.ResolveScope(ctx, actorID)
	if err != nil {
		return CheckResult{}, err
	}
	led, err := s.ensureLedger(ctx, scope)
	if err != nil {
		return CheckResult{}, err
	}
	if !led.Active {
		return CheckResult{Admitted: false, Available: led.Available(), Reason: "organization ledger is inactive"}, nil
	}

	avail := led.Available()
	if avail < cost {
		return CheckResult{
			Admitted:  false,
			Available: avail,
			Reason:    fmt.Sprintf("insufficient credits: %d available, %d required", avail, cost),
		}, nil
	}
	return CheckResult{Admitted: true, Available: avail}, nil
}

// Consume атомарно списывает стоимость операции и пишет запись аудита одной
// транзакцией. При нехватке баланса — чистый отказ, не ошибка. Повторный
// вызов за ту же единицу работы спишет повторно: идемпотентности нет,
// вызывающий обязан дёргать Consume ровно один раз на выполненную работу.
func (s *Service) Consume(ctx context.Context, actorID int64, op string, opts ConsumeOptions) (ConsumeResult, error) {
	cost, ok := OperationCost(op)
	if !ok {
		return ConsumeResult{}, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	if opts.CostOverride != nil && *opts.CostOverride > 0 {
		cost = *opts.CostOverride
	}

	scope, err := s.orgs.ResolveScope(ctx, actorID)
	if err != nil {
		return ConsumeResult{}, err
	}
	led, err := s.ensureLedger(ctx, scope)
	if err != nil {
		return ConsumeResult{}, err
	}
	if !led.Active {
		metrics.ConsumeTotal.WithLabelValues(op, string(StatusDeclined)).Inc()
		return ConsumeResult{Status: StatusDeclined, RemainingBalance: led.Available(), Reason: "organization ledger is inactive"}, nil
	}

	meta := map[string]any{"operation": op}
	if opts.Reference != "" {
		meta["reference"] = opts.Reference
	}
	for k, v := range opts.Metadata {
		meta[k] = v
	}

	var remaining int64
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		remaining, err = s.ledgers.Consume(ctx, tx, scope, cost)
		if err != nil {
			return err
		}
		_, err = s.tx.Append(ctx, tx, txlog.Record{
			Scope:       scope,
			ActorID:     actorID,
			Amount:      -cost,
			Type:        txlog.TypeConsume,
			Description: fmt.Sprintf("consume %d credits for %s", cost, op),
			Metadata:    meta,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			// условное обновление не прошло — перечитываем остаток для ответа
			cur, gerr := s.ledgers.Get(ctx, scope)
			if gerr != nil {
				return ConsumeResult{}, gerr
			}
			metrics.ConsumeTotal.WithLabelValues(op, string(StatusDeclined)).Inc()
			return ConsumeResult{
				Status:           StatusDeclined,
				RemainingBalance: cur.Available(),
				Reason:           fmt.Sprintf("insufficient credits: %d available, %d required", cur.Available(), cost),
			}, nil
		}
		return ConsumeResult{}, err
	}

	metrics.ConsumeTotal.WithLabelValues(op, string(StatusSuccess)).Inc()
	return ConsumeResult{Status: StatusSuccess, RemainingBalance: remaining}, nil
}

// ensureLedger читает леджер скоупа. Личный создаётся лениво на бесплатном
// тарифе; отсутствующий организационный — ошибка конфигурации.
func (s *Service) ensureLedger(ctx context.Context, scope ledger.Scope) (*ledger.Ledger, error) {
	led, err := s.ledgers.Get(ctx, scope)
	if err == nil {
		return led, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	if scope.IsOrganization() {
		return nil, fmt.Errorf("%w: organization %d has no ledger", ErrUnknownScope, scope.ID)
	}

	plan := plans.Default()
	if err := s.ledgers.ProvisionPersonal(ctx, scope.ID, string(plan.Tier), plan.CreditsPerPeriod, time.Now().Add(plans.ResetPeriod)); err != nil {
		return nil, err
	}
	s.log.Info("personal ledger provisioned", "user_id", scope.ID, "tier", plan.Tier)
	return s.ledgers.Get(ctx, scope)
}
