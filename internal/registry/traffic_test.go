package registry

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pagehost/internal/model"
)

// ---------- Weights ----------

func TestTrafficStore_Weights(t *testing.T) {
	db := &mockDB{}
	store := NewTrafficStore(db)
	ctx := context.Background()

	rows := newMockRows(
		func(dest ...any) error {
			*(dest[0].(*string)) = "w-1"
			*(dest[1].(*string)) = "map-1"
			*(dest[2].(*string)) = "production"
			*(dest[3].(*int)) = 70
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "w-2"
			*(dest[1].(*string)) = "map-1"
			*(dest[2].(*string)) = "canary"
			*(dest[3].(*int)) = 30
			return nil
		},
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	weights, err := store.Weights(ctx, "map-1")
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.Equal(t, "production", weights[0].Alias)
	assert.Equal(t, 70, weights[0].Weight)
	assert.Equal(t, "canary", weights[1].Alias)
	assert.Equal(t, 30, weights[1].Weight)
}

func TestTrafficStore_Weights_Empty(t *testing.T) {
	db := &mockDB{}
	store := NewTrafficStore(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	weights, err := store.Weights(ctx, "map-1")
	require.NoError(t, err)
	assert.Empty(t, weights)
}

// ---------- ReplaceWeights ----------

func TestTrafficStore_ReplaceWeights_DeletesThenInserts(t *testing.T) {
	db := &mockDB{}
	store := NewTrafficStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := store.ReplaceWeights(ctx, "map-1", []model.TrafficWeight{
		{Alias: "production", Weight: 70},
		{Alias: "canary", Weight: 30},
	})
	require.NoError(t, err)

	// one DELETE plus one INSERT per weight
	require.Len(t, db.Calls, 3)
	assert.Contains(t, db.Calls[0].Arguments.Get(1).(string), "DELETE FROM traffic_weights")
	assert.Contains(t, db.Calls[1].Arguments.Get(1).(string), "INSERT INTO traffic_weights")
	assert.Contains(t, db.Calls[2].Arguments.Get(1).(string), "INSERT INTO traffic_weights")

	firstInsert := db.Calls[1].Arguments.Get(2).([]any)
	assert.Equal(t, "map-1", firstInsert[1])
	assert.Equal(t, "production", firstInsert[2])
	assert.Equal(t, 70, firstInsert[3])
}

func TestTrafficStore_ReplaceWeights_EmptySetClearsOnly(t *testing.T) {
	db := &mockDB{}
	store := NewTrafficStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := store.ReplaceWeights(ctx, "map-1", nil)
	require.NoError(t, err)
	require.Len(t, db.Calls, 1)
	assert.Contains(t, db.Calls[0].Arguments.Get(1).(string), "DELETE FROM traffic_weights")
}

// ---------- ActiveRules ----------

func TestTrafficStore_ActiveRules(t *testing.T) {
	db := &mockDB{}
	store := NewTrafficStore(db)
	ctx := context.Background()

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = "r-1"
		*(dest[1].(*string)) = "map-1"
		*(dest[2].(*string)) = "canary"
		*(dest[3].(*string)) = model.RuleConditionQueryParam
		*(dest[4].(*string)) = "variant"
		*(dest[5].(*string)) = "beta"
		*(dest[6].(*int)) = 1
		*(dest[7].(*bool)) = true
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	rules, err := store.ActiveRules(ctx, "map-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "canary", rules[0].Alias)
	assert.Equal(t, model.RuleConditionQueryParam, rules[0].ConditionType)
	assert.Equal(t, "variant", rules[0].ConditionKey)
	assert.True(t, rules[0].IsActive)
}
