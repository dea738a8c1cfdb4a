package plans

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/users"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
)

type stubScopes struct {
	scope     ledger.Scope
	canManage bool
	tierSet   string
}

func (s *stubScopes) ResolveScope(_ context.Context, _ int64) (ledger.Scope, error) {
	return s.scope, nil
}

func (s *stubScopes) CanManage(_ context.Context, _, _ int64) (bool, error) {
	return s.canManage, nil
}

func (s *stubScopes) SetTier(_ context.Context, _ db.Querier, _ int64, tier string) error {
	s.tierSet = tier
	return nil
}

func newTestService(t *testing.T, scopes *stubScopes) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(mock, NewRepo(mock), ledger.NewRepo(mock), txlog.NewRepo(mock), users.NewRepo(mock), scopes, log)
	return svc, mock
}

func personalLedgerRow(tier string, total, used int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"tier", "credits_total", "credits_used", "reset_at", "active", "updated_at"}).
		AddRow(tier, total, used, time.Now().Add(time.Hour), true, time.Now())
}

func requestRow(id, userID int64, orgID *int64, current, requested Tier, status Status) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "organization_id", "current_tier", "requested_tier",
		"status", "notes", "reviewer_id", "reviewer_notes", "reviewed_at", "created_at",
	}).AddRow(id, userID, orgID, current, requested, status, "", nil, "", nil, time.Now())
}

func adminRow(id int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "email", "name", "role", "created_at", "updated_at"}).
		AddRow(id, "admin@example.com", "Admin", users.RoleAdmin, time.Now(), time.Now())
}

func TestSubmitUnknownTier(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{scope: ledger.Personal(7)})

	_, err := svc.Submit(context.Background(), 7, Tier("platinum"), "")
	assert.ErrorIs(t, err, ErrUnknownTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitAlreadyOnTier(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{scope: ledger.Personal(7)})

	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(7)).
		WillReturnRows(personalLedgerRow("pro", 1500, 0))

	_, err := svc.Submit(context.Background(), 7, TierPro, "")
	assert.ErrorIs(t, err, ErrAlreadyOnTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitDuplicatePending(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{scope: ledger.Personal(7)})

	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(7)).
		WillReturnRows(personalLedgerRow("free", 100, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := svc.Submit(context.Background(), 7, TierPro, "")
	assert.ErrorIs(t, err, ErrDuplicatePending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOrgRequiresManager(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{scope: ledger.Organization(3), canManage: false})

	_, err := svc.Submit(context.Background(), 7, TierPro, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitPersonal(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{scope: ledger.Personal(7)})

	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(7)).
		WillReturnRows(personalLedgerRow("free", 100, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO plan_requests").
		WithArgs(int64(7), pgxmock.AnyArg(), TierFree, TierPro, "need more credits").
		WillReturnRows(requestRow(1, 7, nil, TierFree, TierPro, StatusPending))

	req, err := svc.Submit(context.Background(), 7, TierPro, "need more credits")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, TierPro, req.RequestedTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRequiresAdmin(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{})

	userRow := pgxmock.NewRows([]string{"id", "email", "name", "role", "created_at", "updated_at"}).
		AddRow(int64(9), "user@example.com", "User", users.RoleUser, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, email, name, role").
		WithArgs(int64(9)).
		WillReturnRows(userRow)

	_, err := svc.Review(context.Background(), 1, 9, true, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Второй ревью терминальной заявки: отказ без единой записи в леджер.
func TestReviewAlreadyReviewed(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{})

	mock.ExpectQuery("SELECT id, email, name, role").
		WithArgs(int64(9)).
		WillReturnRows(adminRow(9))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, organization_id").
		WithArgs(int64(1)).
		WillReturnRows(requestRow(1, 7, nil, TierFree, TierPro, StatusApproved))
	mock.ExpectRollback()

	_, err := svc.Review(context.Background(), 1, 9, true, "")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Одобрение: статус, перепривязка леджера, тариф организации и запись
// аудита — одна транзакция.
func TestReviewApprove(t *testing.T) {
	scopes := &stubScopes{}
	svc, mock := newTestService(t, scopes)

	orgID := int64(3)
	mock.ExpectQuery("SELECT id, email, name, role").
		WithArgs(int64(9)).
		WillReturnRows(adminRow(9))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, organization_id").
		WithArgs(int64(1)).
		WillReturnRows(requestRow(1, 7, &orgID, TierFree, TierPro, StatusPending))
	mock.ExpectExec("UPDATE plan_requests").
		WithArgs(int64(1), StatusApproved, int64(9), "ok", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE organization_ledgers").
		WithArgs(orgID, "pro", int64(1500), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1500), txlog.TypePlanUpgrade, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	req, err := svc.Review(context.Background(), 1, 9, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, "pro", scopes.tierSet)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Отклонение меняет только заявку, леджер не трогается.
func TestReviewReject(t *testing.T) {
	svc, mock := newTestService(t, &stubScopes{})

	mock.ExpectQuery("SELECT id, email, name, role").
		WithArgs(int64(9)).
		WillReturnRows(adminRow(9))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id, organization_id").
		WithArgs(int64(1)).
		WillReturnRows(requestRow(1, 7, nil, TierFree, TierPro, StatusPending))
	mock.ExpectExec("UPDATE plan_requests").
		WithArgs(int64(1), StatusRejected, int64(9), "no budget", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	req, err := svc.Review(context.Background(), 1, 9, false, "no budget")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
