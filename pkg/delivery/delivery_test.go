package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

func TestMemoryStore_CreateFillsDefaults(t *testing.T) {
	t.Parallel()

	store := delivery.NewMemoryStore()
	r := &delivery.Record{UserID: "u1", Type: "reminder", PushSent: true}
	require.NoError(t, store.Create(context.Background(), r))

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, 1, store.Count())

	assert.ErrorIs(t, store.Create(context.Background(), nil), delivery.ErrRecordNil)
}

func TestMemoryStore_HasRecent(t *testing.T) {
	t.Parallel()

	store := delivery.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.Create(context.Background(), &delivery.Record{
		UserID: "u1", Type: "reminder", DedupKey: "k-sent", PushSent: true, CreatedAt: now.Add(-30 * time.Minute),
	}))
	require.NoError(t, store.Create(context.Background(), &delivery.Record{
		UserID: "u1", Type: "reminder", DedupKey: "k-old", EmailSent: true, CreatedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.Create(context.Background(), &delivery.Record{
		UserID: "u1", Type: "reminder", DedupKey: "k-failed", CreatedAt: now,
	}))

	since := now.Add(-time.Hour)
	tests := []struct {
		key  string
		want bool
	}{
		{"k-sent", true},
		{"k-old", false},
		{"k-failed", false},
		{"missing", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := store.HasRecent(context.Background(), tt.key, since)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.key)
	}
}

func TestMemoryStore_PurgeBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC)
	store := delivery.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &delivery.Record{UserID: "u1", Type: "t", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Create(ctx, &delivery.Record{UserID: "u2", Type: "t", CreatedAt: now}))

	var _ delivery.Purger = store

	n, err := store.PurgeBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs := store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "u2", recs[0].UserID)
}
