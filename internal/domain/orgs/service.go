package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

type Service struct {
	pool    db.Pool
	repo    *Repo
	ledgers *ledger.Repo
}

func NewService(pool db.Pool, repo *Repo, ledgers *ledger.Repo) *Service {
	return &Service{pool: pool, repo: repo, ledgers: ledgers}
}

// Create заводит организацию на бесплатном тарифе: запись, леджер и
// создатель в роли owner — одной транзакцией.
func (s *Service) Create(ctx context.Context, name string, ownerID int64) (*Organization, error) {
	scope, err := s.repo.ResolveScope(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if scope.IsOrganization() {
		return nil, ErrAlreadyMember
	}

	plan := plans.Default()
	var org *Organization
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		org, err = s.repo.insertOrganization(ctx, tx, name, string(plan.Tier))
		if err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}
		if err := s.repo.insertMember(ctx, tx, org.ID, ownerID, RoleOwner); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("insert owner: %w", err)
		}
		if err := s.ledgers.CreateOrganization(ctx, tx, org.ID, string(plan.Tier), plan.CreditsPerPeriod, time.Now().Add(plans.ResetPeriod)); err != nil {
			return fmt.Errorf("create ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *Service) Get(ctx context.Context, orgID int64) (*Organization, error) {
	return s.repo.GetByID(ctx, orgID)
}

func (s *Service) ListMembers(ctx context.Context, orgID int64) ([]Member, error) {
	return s.repo.ListMembers(ctx, orgID)
}

// SetMemberRole меняет роль участника. Только owner/admin организации;
// роль owner переназначает только сам owner.
func (s *Service) SetMemberRole(ctx context.Context, orgID, actorID, userID int64, role Role) error {
	actorRole, err := s.repo.RoleOf(ctx, orgID, actorID)
	if err != nil {
		if err == ErrNotFound {
			return ErrPermissionDenied
		}
		return err
	}
	if !actorRole.CanManage() {
		return ErrPermissionDenied
	}

	targetRole, err := s.repo.RoleOf(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if (targetRole == RoleOwner || role == RoleOwner) && actorRole != RoleOwner {
		return ErrPermissionDenied
	}
	return s.repo.setMemberRole(ctx, orgID, userID, role)
}
