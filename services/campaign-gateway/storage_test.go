package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleProject(id string, createdAt time.Time) Project {
	return Project{
		ID:           id,
		Name:         "lunar greenhouse",
		Creator:      "hyd1creator",
		Goal:         "1000000",
		TokenID:      7,
		TokenRate:    "2000000",
		FeeBps:       200,
		Admin:        "hyd1admin",
		StartTime:    1_700_000_000,
		DeadlineTime: 1_700_100_000,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestProjectCatalogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertProject(ctx, sampleProject("p-1", base)))
	require.NoError(t, store.InsertProject(ctx, sampleProject("p-2", base.Add(time.Hour))))

	got, err := store.GetProject(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, "lunar greenhouse", got.Name)
	require.Equal(t, "1000000", got.Goal)
	require.Empty(t, got.CampaignID)

	_, err = store.GetProject(ctx, "missing")
	require.ErrorIs(t, err, ErrProjectNotFound)

	list, err := store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "p-2", list[0].ID)
	require.Equal(t, "p-1", list[1].ID)
}

func TestCompareAndSetDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertProject(ctx, sampleProject("p-1", time.Now().UTC())))

	first := [32]byte{0x01, 0x02}
	stored, swapped, err := store.CompareAndSetDeployment(ctx, "p-1", first)
	require.NoError(t, err)
	require.True(t, swapped)
	require.Equal(t, first, stored)

	// A second attempt with a different id loses and observes the winner.
	second := [32]byte{0xFF}
	stored, swapped, err = store.CompareAndSetDeployment(ctx, "p-1", second)
	require.NoError(t, err)
	require.False(t, swapped)
	require.Equal(t, first, stored)

	_, _, err = store.CompareAndSetDeployment(ctx, "missing", first)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestIdempotencyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cached, err := store.LookupIdempotency(ctx, "key-a", "idem-1", "hash-1")
	require.NoError(t, err)
	require.Nil(t, cached)

	require.NoError(t, store.SaveIdempotency(ctx, "key-a", "idem-1", "hash-1", 201, []byte(`{"ok":true}`)))

	cached, err = store.LookupIdempotency(ctx, "key-a", "idem-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, 201, cached.Status)
	require.JSONEq(t, `{"ok":true}`, string(cached.Body))

	_, err = store.LookupIdempotency(ctx, "key-a", "idem-1", "hash-other")
	require.ErrorIs(t, err, ErrIdempotencyMismatch)

	// Keys are scoped per API key.
	cached, err = store.LookupIdempotency(ctx, "key-b", "idem-1", "hash-1")
	require.NoError(t, err)
	require.Nil(t, cached)
}

func TestAuditLogInsert(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertAuditLog(context.Background(), AuditEntry{
		APIKey:         "key-a",
		Method:         "POST",
		Path:           "/v1/projects",
		RequestBody:    []byte(`{"name":"x"}`),
		ResponseBody:   []byte(`{"projectId":"p-1"}`),
		ResponseStatus: 201,
		Timestamp:      time.Now().UTC(),
	})
	require.NoError(t, err)
}
