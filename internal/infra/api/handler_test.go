package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/credits"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/orgs"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/reset"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/users"
)

func newTestMux(t *testing.T) (*http.ServeMux, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerRepo := ledger.NewRepo(mock)
	orgsRepo := orgs.NewRepo(mock)
	txRepo := txlog.NewRepo(mock)
	usersRepo := users.NewRepo(mock)

	h := NewHandler(log,
		credits.NewService(mock, orgsRepo, ledgerRepo, txRepo, log),
		orgs.NewService(mock, orgsRepo, ledgerRepo),
		plans.NewService(mock, plans.NewRepo(mock), ledgerRepo, txRepo, usersRepo, orgsRepo, log),
		reset.NewSweeper(mock, ledgerRepo, txRepo, log),
		txRepo,
		usersRepo,
	)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, mock
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCheckUnknownActorMapsTo404(t *testing.T) {
	mux, mock := newTestMux(t)

	mock.ExpectQuery("SELECT m.organization_id").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	rec := doJSON(t, mux, http.MethodPost, "/api/credits/check", map[string]any{
		"actor_id": 404, "operation": "rfx_analysis",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown_actor", body["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Нехватка баланса — не ошибка HTTP, а структурированный отказ.
func TestConsumeDeclineIsStructuredResult(t *testing.T) {
	mux, mock := newTestMux(t)

	orgID := int64(1)
	mock.ExpectQuery("SELECT m.organization_id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"organization_id"}).AddRow(&orgID))
	ledgerRow := pgxmock.NewRows([]string{"tier", "credits_total", "credits_used", "reset_at", "active", "updated_at"}).
		AddRow("free", int64(100), int64(100), time.Now(), true, time.Now())
	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(1)).
		WillReturnRows(ledgerRow)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE organization_ledgers").
		WithArgs(int64(1), int64(5)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	exhausted := pgxmock.NewRows([]string{"tier", "credits_total", "credits_used", "reset_at", "active", "updated_at"}).
		AddRow("free", int64(100), int64(100), time.Now(), true, time.Now())
	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(1)).
		WillReturnRows(exhausted)

	rec := doJSON(t, mux, http.MethodPost, "/api/credits/consume", map[string]any{
		"actor_id": 7, "operation": "rfx_analysis",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var body consumeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "declined", body.Status)
	assert.Equal(t, int64(0), body.RemainingBalance)
	assert.Contains(t, body.Reason, "insufficient credits")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnknownOperationMapsTo400(t *testing.T) {
	mux, mock := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/credits/check", map[string]any{
		"actor_id": 7, "operation": "teleportation",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewInvalidAction(t *testing.T) {
	mux, mock := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/admin/plan-requests/1/review", map[string]any{
		"reviewer_id": 9, "action": "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
