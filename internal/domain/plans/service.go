package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/users"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/metrics"
)

var (
	ErrUnknownTier      = errors.New("plans: unknown tier")
	ErrAlreadyOnTier    = errors.New("plans: already on requested tier")
	ErrDuplicatePending = errors.New("plans: pending request already exists")
	ErrAlreadyReviewed  = errors.New("plans: request already reviewed")
	ErrPermissionDenied = errors.New("plans: permission denied")
)

// ScopeSource — членство и скоупы (реализует orgs.Repo).
type ScopeSource interface {
	ResolveScope(ctx context.Context, actorID int64) (ledger.Scope, error)
	CanManage(ctx context.Context, orgID, userID int64) (bool, error)
	SetTier(ctx context.Context, q db.Querier, orgID int64, tier string) error
}

// Notifier получает уведомление о новой заявке (телеграм-бот админа).
type Notifier interface {
	NotifyRequest(req Request)
}

type Service struct {
	pool     db.Pool
	repo     *Repo
	ledgers  *ledger.Repo
	tx       *txlog.Repo
	users    *users.Repo
	scopes   ScopeSource
	notifier Notifier
	log      *slog.Logger
}

func NewService(pool db.Pool, repo *Repo, ledgers *ledger.Repo, tx *txlog.Repo, usersRepo *users.Repo, scopes ScopeSource, log *slog.Logger) *Service {
	return &Service{pool: pool, repo: repo, ledgers: ledgers, tx: tx, users: usersRepo, scopes: scopes, log: log}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Submit создаёт заявку на смену тарифа для скоупа актора. За организацию
// подают только owner/admin; за личный кабинет — кто угодно за себя.
func (s *Service) Submit(ctx context.Context, actorID int64, requested Tier, notes string) (*Request, error) {
	if _, ok := Get(requested); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, requested)
	}

	scope, err := s.scopes.ResolveScope(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var orgID *int64
	if scope.IsOrganization() {
		can, err := s.scopes.CanManage(ctx, scope.ID, actorID)
		if err != nil {
			return nil, err
		}
		if !can {
			return nil, ErrPermissionDenied
		}
		orgID = &scope.ID
	}

	current, err := s.currentTier(ctx, scope)
	if err != nil {
		return nil, err
	}
	if current == requested {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOnTier, requested)
	}

	if dup, err := s.repo.hasPending(ctx, actorID, orgID); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicatePending
	}

	req, err := s.repo.insert(ctx, actorID, orgID, current, requested, notes)
	if err != nil {
		// гонка двух submit: частичный уникальный индекс ловит вторую вставку
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicatePending
		}
		return nil, err
	}

	s.log.Info("plan request submitted",
		"request_id", req.ID, "actor_id", actorID,
		"scope", scope.Kind, "from", current, "to", requested,
	)
	if s.notifier != nil {
		s.notifier.NotifyRequest(*req)
	}
	return req, nil
}

// Review — единственный переход заявки: pending -> approved|rejected.
// Одобрение перепривязывает тариф скоупа, обнуляет расход, выставляет
// новый период и пишет plan_upgrade в аудит — всё одной транзакцией со
// сменой статуса, частично не применяется никогда.
func (s *Service) Review(ctx context.Context, requestID, reviewerID int64, approve bool, notes string) (*Request, error) {
	reviewer, err := s.users.GetByID(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	if !reviewer.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	now := time.Now()
	status := StatusRejected
	if approve {
		status = StatusApproved
	}

	var out *Request
	err = db.InTxRetry(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := s.repo.getForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrAlreadyReviewed
		}

		ok, err := s.repo.markReviewed(ctx, tx, requestID, reviewerID, status, notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyReviewed
		}

		if approve {
			plan, ok := Get(req.RequestedTier)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownTier, req.RequestedTier)
			}
			scope := req.Scope()
			if err := s.ledgers.Rebind(ctx, tx, scope, string(plan.Tier), plan.CreditsPerPeriod, now.Add(ResetPeriod)); err != nil {
				return fmt.Errorf("rebind ledger: %w", err)
			}
			if scope.IsOrganization() {
				if err := s.scopes.SetTier(ctx, tx, scope.ID, string(plan.Tier)); err != nil {
					return fmt.Errorf("set organization tier: %w", err)
				}
			}
			if _, err := s.tx.Append(ctx, tx, txlog.Record{
				Scope:       scope,
				ActorID:     req.UserID,
				Amount:      plan.CreditsPerPeriod,
				Type:        txlog.TypePlanUpgrade,
				Description: fmt.Sprintf("plan upgrade %s -> %s", req.CurrentTier, req.RequestedTier),
				Metadata:    map[string]any{"request_id": req.ID, "reviewer_id": reviewerID},
			}); err != nil {
				return fmt.Errorf("append audit record: %w", err)
			}
		}

		r := *req
		r.Status = status
		r.ReviewerID = &reviewerID
		r.ReviewerNotes = notes
		r.ReviewedAt = &now
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := "reject"
	if approve {
		action = "approve"
	}
	metrics.PlanReviews.WithLabelValues(action).Inc()
	s.log.Info("plan request reviewed", "request_id", requestID, "action", action, "reviewer_id", reviewerID)
	return out, nil
}

func (s *Service) ListPending(ctx context.Context, kind ledger.Kind) ([]Request, error) {
	return s.repo.ListPending(ctx, kind)
}

// currentTier — тариф скоупа на момент подачи: из леджера; личный без
// леджера считается бесплатным.
func (s *Service) currentTier(ctx context.Context, scope ledger.Scope) (Tier, error) {
	led, err := s.ledgers.Get(ctx, scope)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) && !scope.IsOrganization() {
			return Default().Tier, nil
		}
		return "", err
	}
	return Tier(led.Tier), nil
}
