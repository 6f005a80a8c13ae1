package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/models"
	"github.com/agrobuddy/backend/internal/storage/storagetest"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), filepath.Join(t.TempDir(), "data", "agrobuddy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newTestClient(t) })
}

func TestClient_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agrobuddy.db")
	ctx := context.Background()

	c, err := NewClient(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.SaveDiagnosis(ctx, models.SavedDiagnosis{ID: "d1", UserID: "u1", Plant: "Potato", Disease: "Late Blight"}))
	require.NoError(t, c.Close())

	c, err = NewClient(ctx, path)
	require.NoError(t, err)
	defer c.Close()

	all, total, err := c.ListDiagnoses(ctx, "u1", storage.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Potato", all[0].Plant)
	assert.Equal(t, []string{}, all[0].Solutions)
}

func TestClient_InitSchemaIdempotent(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InitSchema(context.Background()))
}
