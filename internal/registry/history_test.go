package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pagehost/internal/model"
)

// ---------- Append ----------

func TestRenewalHistoryStore_Append_DefaultsCreatedAt(t *testing.T) {
	db := &mockDB{}
	store := NewRenewalHistoryStore(db)
	ctx := context.Background()

	var captured []any
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]any)
		}).
		Return(pgconn.CommandTag{}, nil)

	r := &model.SSLRenewalHistoryRecord{
		ID:              "hist-1",
		CertificateType: model.CertTypeWildcard,
		Domain:          "*.pagehost.app",
		Status:          model.RenewalStatusSuccess,
		TriggeredBy:     model.RenewalTriggerAuto,
	}
	err := store.Append(ctx, r)
	require.NoError(t, err)
	assert.False(t, r.CreatedAt.IsZero())

	require.Len(t, captured, 10)
	assert.Equal(t, "hist-1", captured[0])
	assert.Equal(t, model.CertTypeWildcard, captured[2])
	assert.Equal(t, r.CreatedAt, captured[9])
	db.AssertExpectations(t)
}

func TestRenewalHistoryStore_Append_KeepsExistingCreatedAt(t *testing.T) {
	db := &mockDB{}
	store := NewRenewalHistoryStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	created := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	r := &model.SSLRenewalHistoryRecord{
		ID:              "hist-1",
		CertificateType: model.CertTypeIndividual,
		Domain:          "example.com",
		Status:          model.RenewalStatusFailed,
		TriggeredBy:     model.RenewalTriggerManual,
		CreatedAt:       created,
	}
	err := store.Append(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, created, r.CreatedAt)
}

// ---------- ListRecent ----------

func TestRenewalHistoryStore_ListRecent(t *testing.T) {
	db := &mockDB{}
	store := NewRenewalHistoryStore(db)
	ctx := context.Background()

	rows := newMockRows(
		func(dest ...any) error {
			*(dest[0].(*string)) = "hist-2"
			*(dest[2].(*string)) = model.CertTypeIndividual
			*(dest[3].(*string)) = "example.com"
			*(dest[4].(*string)) = model.RenewalStatusSuccess
			*(dest[8].(*string)) = model.RenewalTriggerAuto
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "hist-1"
			*(dest[2].(*string)) = model.CertTypeWildcard
			*(dest[3].(*string)) = "*.pagehost.app"
			*(dest[4].(*string)) = model.RenewalStatusFailed
			*(dest[8].(*string)) = model.RenewalTriggerManual
			return nil
		},
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	records, err := store.ListRecent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hist-2", records[0].ID)
	assert.Equal(t, model.CertTypeWildcard, records[1].CertificateType)
}
