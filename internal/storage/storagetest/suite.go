// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/models"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func diagnosis(userID, id string, day int) models.SavedDiagnosis {
	return models.SavedDiagnosis{
		ID:         id,
		UserID:     userID,
		DiseaseID:  "tomato_late_blight",
		Plant:      "Tomato",
		Disease:    "Late Blight",
		Confidence: 91,
		Severity:   "High",
		Solutions:  []string{"Remove infected plants"},
		Date:       base.Add(time.Duration(day) * 24 * time.Hour),
		SavedAt:    base.Add(time.Duration(day)*24*time.Hour + time.Minute),
	}
}

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("GetOrCreateProfile", func(t *testing.T) {
		s := newStore(t)
		def := models.DefaultProfile("u1", base)

		p, err := s.GetOrCreateProfile(ctx, "u1", def)
		require.NoError(t, err)
		assert.Equal(t, "User", p.Name)
		assert.True(t, p.Preferences.Notifications)
		assert.True(t, p.CreatedAt.Equal(base))

		other := models.DefaultProfile("u1", base.Add(time.Hour))
		other.Name = "Ignored"
		p, err = s.GetOrCreateProfile(ctx, "u1", other)
		require.NoError(t, err)
		assert.Equal(t, "User", p.Name, "existing profile wins over the default")
	})

	t.Run("UpdateProfile", func(t *testing.T) {
		s := newStore(t)
		def := models.DefaultProfile("u1", base)
		now := base.Add(time.Hour)
		avatar := "https://cdn.example.com/a.png"

		p, err := s.UpdateProfile(ctx, "u1", def, func(p *models.UserProfile) {
			p.Name = "Asha"
			p.Avatar = &avatar
			p.Preferences.Language = "hindi"
			p.UpdatedAt = &now
		})
		require.NoError(t, err)
		assert.Equal(t, "Asha", p.Name)

		got, err := s.GetOrCreateProfile(ctx, "u1", def)
		require.NoError(t, err)
		assert.Equal(t, "Asha", got.Name)
		assert.Equal(t, "user@example.com", got.Email)
		require.NotNil(t, got.Avatar)
		assert.Equal(t, avatar, *got.Avatar)
		assert.Equal(t, "hindi", got.Preferences.Language)
		require.NotNil(t, got.UpdatedAt)
		assert.True(t, got.UpdatedAt.Equal(now))
		assert.True(t, got.CreatedAt.Equal(base))
	})

	t.Run("SaveListDelete", func(t *testing.T) {
		s := newStore(t)

		for i, id := range []string{"d1", "d2", "d3"} {
			require.NoError(t, s.SaveDiagnosis(ctx, diagnosis("u1", id, i)))
		}
		require.NoError(t, s.SaveDiagnosis(ctx, diagnosis("u2", "d1", 0)), "ids are scoped per user")

		all, total, err := s.ListDiagnoses(ctx, "u1", storage.Page{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"d3", "d2", "d1"}, ids(all))
		assert.Equal(t, []string{"Remove infected plants"}, all[0].Solutions)
		assert.True(t, all[0].Date.Equal(base.Add(48*time.Hour)))

		page, total, err := s.ListDiagnoses(ctx, "u1", storage.Page{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, []string{"d2"}, ids(page))

		page, _, err = s.ListDiagnoses(ctx, "u1", storage.Page{Limit: 10, Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page)

		err = s.SaveDiagnosis(ctx, diagnosis("u1", "d2", 5))
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		require.NoError(t, s.DeleteDiagnosis(ctx, "u1", "d2"))
		assert.ErrorIs(t, s.DeleteDiagnosis(ctx, "u1", "d2"), storage.ErrNotFound)
		assert.ErrorIs(t, s.DeleteDiagnosis(ctx, "nobody", "d1"), storage.ErrNotFound)

		all, total, err = s.ListDiagnoses(ctx, "u1", storage.Page{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, []string{"d3", "d1"}, ids(all))

		other, total, err := s.ListDiagnoses(ctx, "u2", storage.Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, []string{"d1"}, ids(other))
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		s := newStore(t)
		all, total, err := s.ListDiagnoses(ctx, "ghost", storage.Page{Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.NotNil(t, all)
		assert.Empty(t, all)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		s := newStore(t)
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.SaveDiagnosis(ctx, diagnosis("u1", fmt.Sprintf("d%02d", i), i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		_, total, err := s.ListDiagnoses(ctx, "u1", storage.Page{})
		require.NoError(t, err)
		assert.Equal(t, n, total)
	})

	t.Run("ConcurrentProfileUpdates", func(t *testing.T) {
		s := newStore(t)
		def := models.DefaultProfile("u1", base)
		const n = 20

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateProfile(ctx, "u1", def, func(p *models.UserProfile) {
					p.Name += "+"
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		p, err := s.GetOrCreateProfile(ctx, "u1", def)
		require.NoError(t, err)
		assert.Len(t, p.Name, len("User")+n, "no update is lost")
	})
}

func ids(ds []models.SavedDiagnosis) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}
