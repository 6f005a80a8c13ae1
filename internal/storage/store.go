// Package storage defines the persistence contract for user profiles and
// saved diagnoses. Implementations live in the memory and sqlite
// subpackages.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/agrobuddy/backend/internal/storage/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Page selects a window of a user's diagnoses. Limit <= 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// Store keeps profiles and diagnosis history. Operations on one user are
// serialized; different users never block each other on the memory backend.
type Store interface {
	// GetOrCreateProfile returns the stored profile, storing def first when
	// the user has none.
	GetOrCreateProfile(ctx context.Context, userID string, def models.UserProfile) (*models.UserProfile, error)
	// UpdateProfile applies fn to the stored profile, or to def when there
	// is none, and stores the result atomically.
	UpdateProfile(ctx context.Context, userID string, def models.UserProfile, fn func(*models.UserProfile)) (*models.UserProfile, error)
	// ListDiagnoses returns a page of diagnoses, newest date first, and the
	// total number stored for the user.
	ListDiagnoses(ctx context.Context, userID string, page Page) ([]models.SavedDiagnosis, int, error)
	// SaveDiagnosis fails with ErrDuplicate when the id is taken for the user.
	SaveDiagnosis(ctx context.Context, d models.SavedDiagnosis) error
	// DeleteDiagnosis fails with ErrNotFound when the id is absent.
	DeleteDiagnosis(ctx context.Context, userID, diagnosisID string) error
	Close() error
}

// SortNewestFirst orders diagnoses by date, then save time, descending.
func SortNewestFirst(ds []models.SavedDiagnosis) {
	sort.SliceStable(ds, func(i, j int) bool {
		if !ds[i].Date.Equal(ds[j].Date) {
			return ds[i].Date.After(ds[j].Date)
		}
		return ds[i].SavedAt.After(ds[j].SavedAt)
	})
}

// Window applies page to an already sorted slice.
func Window(ds []models.SavedDiagnosis, page Page) []models.SavedDiagnosis {
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Offset >= len(ds) {
		return []models.SavedDiagnosis{}
	}
	end := len(ds)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return ds[page.Offset:end]
}
