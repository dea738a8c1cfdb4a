package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope(t *testing.T) {
	assert.True(t, Organization(1).IsOrganization())
	assert.False(t, Personal(1).IsOrganization())
	assert.Equal(t, int64(42), Ledger{CreditsTotal: 100, CreditsUsed: 58}.Available())
}

func TestGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT tier, credits_total").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	repo := NewRepo(mock)
	_, err = repo.Get(context.Background(), Personal(9))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeChargesAtomically(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE organization_ledgers").
		WithArgs(int64(1), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"remaining"}).AddRow(int64(95)))

	repo := NewRepo(mock)
	remaining, err := repo.Consume(context.Background(), mock, Organization(1), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(95), remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeDeclinesWithoutBalance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// условное обновление не зацепило строк — ноль строк в RETURNING
	mock.ExpectQuery("UPDATE personal_ledgers").
		WithArgs(int64(7), int64(40)).
		WillReturnError(pgx.ErrNoRows)

	repo := NewRepo(mock)
	_, err = repo.Consume(context.Background(), mock, Personal(7), 40)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	repo := NewRepo(mock)

	mock.ExpectExec("UPDATE organization_ledgers").
		WithArgs(int64(1), int64(100), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	done, err := repo.Reset(context.Background(), mock, Organization(1), 100, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, done)

	// второй sweep тем же now: период уже сдвинут, обновление — no-op
	mock.ExpectExec("UPDATE organization_ledgers").
		WithArgs(int64(1), int64(100), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	done, err = repo.Reset(context.Background(), mock, Organization(1), 100, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionPersonalIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepo(mock)

	for _, affected := range []int64{1, 0} {
		mock.ExpectExec("INSERT INTO personal_ledgers").
			WithArgs(int64(7), "free", int64(100), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", affected))
		require.NoError(t, repo.ProvisionPersonal(context.Background(), 7, "free", 100, time.Now()))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
