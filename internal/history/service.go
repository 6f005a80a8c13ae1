// Package history manages user profiles and saved diagnoses on top of a
// storage.Store.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/label"
	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/models"
	"github.com/agrobuddy/backend/pkg/logger"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500

	recentActivitySize = 5
)

var (
	ErrNotFound  = storage.ErrNotFound
	ErrDuplicate = storage.ErrDuplicate
	ErrInvalid   = errors.New("invalid request")
)

type Page struct {
	Total     int                     `json:"total"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
	Diagnoses []models.SavedDiagnosis `json:"diagnoses"`
}

type Activity struct {
	Disease string    `json:"disease"`
	Plant   string    `json:"plant"`
	Date    time.Time `json:"date"`
}

type Stats struct {
	TotalScans      int            `json:"totalScans"`
	SavedDiagnoses  int            `json:"savedDiagnoses"`
	PlantsScanned   int            `json:"plantsScanned"`
	DiseasesByPlant map[string]int `json:"diseasesByPlant"`
	RecentActivity  []Activity     `json:"recentActivity"`
}

type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	p, err := s.store.GetOrCreateProfile(ctx, userID, models.DefaultProfile(userID, s.timestamp()))
	record("get_profile", err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return p, nil
}

// UpdateProfile merges upd into the stored profile, creating the default
// profile first when the user is new.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.UserProfile, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalid)
	}
	if upd.Email != nil && !strings.Contains(*upd.Email, "@") {
		return nil, fmt.Errorf("%w: email %q is not an address", ErrInvalid, *upd.Email)
	}

	now := s.timestamp()
	p, err := s.store.UpdateProfile(ctx, userID, models.DefaultProfile(userID, now), func(p *models.UserProfile) {
		upd.Apply(p)
		p.UpdatedAt = &now
	})
	record("update_profile", err)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	logger.Info("Profile updated", zap.String("user_id", userID))
	return p, nil
}

// History returns one page of a user's diagnoses, newest first. A zero
// limit means DefaultLimit.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) (*Page, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalid, MaxLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalid)
	}

	ds, total, err := s.store.ListDiagnoses(ctx, userID, storage.Page{Limit: limit, Offset: offset})
	record("list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	return &Page{Total: total, Limit: limit, Offset: offset, Diagnoses: ds}, nil
}

func (s *Service) Save(ctx context.Context, userID string, in models.DiagnosisInput) (*models.SavedDiagnosis, error) {
	if strings.TrimSpace(in.Plant) == "" || strings.TrimSpace(in.Disease) == "" {
		return nil, fmt.Errorf("%w: plant and disease are required", ErrInvalid)
	}
	if in.Confidence < 0 || in.Confidence > 100 {
		return nil, fmt.Errorf("%w: confidence must be between 0 and 100", ErrInvalid)
	}

	now := s.timestamp()
	d := models.SavedDiagnosis{
		ID:         in.ID,
		UserID:     userID,
		Plant:      in.Plant,
		Disease:    in.Disease,
		Confidence: in.Confidence,
		Severity:   in.Severity,
		Image:      in.Image,
		Solutions:  in.Solutions,
		Info:       in.Info,
		Date:       now,
		SavedAt:    now,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if in.DiseaseID != "" {
		d.DiseaseID = label.Normalize(in.DiseaseID)
	}
	if d.Solutions == nil {
		d.Solutions = []string{}
	}
	if in.Date != nil {
		d.Date = in.Date.UTC().Truncate(time.Millisecond)
	}

	err := s.store.SaveDiagnosis(ctx, d)
	record("save", err)
	if err != nil {
		return nil, fmt.Errorf("failed to save diagnosis: %w", err)
	}

	logger.Info("Diagnosis saved",
		zap.String("user_id", userID),
		zap.String("diagnosis_id", d.ID),
		zap.String("disease", d.Disease),
	)
	return &d, nil
}

func (s *Service) Delete(ctx context.Context, userID, diagnosisID string) error {
	err := s.store.DeleteDiagnosis(ctx, userID, diagnosisID)
	record("delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete diagnosis: %w", err)
	}

	logger.Info("Diagnosis deleted", zap.String("user_id", userID), zap.String("diagnosis_id", diagnosisID))
	return nil
}

func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	ds, total, err := s.store.ListDiagnoses(ctx, userID, storage.Page{})
	record("stats", err)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats := &Stats{
		TotalScans:      total,
		SavedDiagnoses:  total,
		DiseasesByPlant: make(map[string]int),
		RecentActivity:  []Activity{},
	}
	for _, d := range ds {
		stats.DiseasesByPlant[d.Plant]++
	}
	stats.PlantsScanned = len(stats.DiseasesByPlant)

	for i := 0; i < len(ds) && i < recentActivitySize; i++ {
		stats.RecentActivity = append(stats.RecentActivity, Activity{
			Disease: ds[i].Disease,
			Plant:   ds[i].Plant,
			Date:    ds[i].Date,
		})
	}

	return stats, nil
}

func record(op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrDuplicate):
		status = "duplicate"
	default:
		status = "error"
	}
	metrics.HistoryOperations.WithLabelValues(op, status).Inc()
}
