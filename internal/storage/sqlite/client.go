package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/models"
	"github.com/agrobuddy/backend/pkg/logger"
	"github.com/agrobuddy/backend/pkg/retry"
)

// Client is a storage.Store on SQLite. It holds a single connection, so
// every statement and transaction is serialized.
type Client struct {
	db *sql.DB
}

func NewClient(ctx context.Context, dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	rc := retry.DefaultConfig("sqlite-open")
	rc.MaxAttempts = 3
	rc.Logger = logger.GetLogger()
	if err := retry.Do(ctx, rc, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	c := &Client{db: db}
	if err := c.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		avatar TEXT,
		notifications INTEGER NOT NULL DEFAULT 1,
		language TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS saved_diagnoses (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		disease_id TEXT,
		plant TEXT NOT NULL,
		disease TEXT NOT NULL,
		confidence REAL NOT NULL,
		severity TEXT,
		image TEXT,
		solutions TEXT NOT NULL,
		info TEXT,
		date INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_diagnoses_user_date ON saved_diagnoses(user_id, date DESC, saved_at DESC);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getProfile(ctx context.Context, q queryer, userID string) (*models.UserProfile, error) {
	query := `SELECT id, name, email, avatar, notifications, language, created_at, updated_at FROM user_profiles WHERE id = ?`

	var (
		p             models.UserProfile
		avatar        sql.NullString
		notifications int
		createdAt     int64
		updatedAt     sql.NullInt64
	)

	err := q.QueryRowContext(ctx, query, userID).Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&avatar,
		&notifications,
		&p.Preferences.Language,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if avatar.Valid {
		p.Avatar = &avatar.String
	}
	p.Preferences.Notifications = notifications != 0
	p.CreatedAt = fromMillis(createdAt)
	if updatedAt.Valid {
		u := fromMillis(updatedAt.Int64)
		p.UpdatedAt = &u
	}

	return &p, nil
}

func putProfile(ctx context.Context, q queryer, p *models.UserProfile) error {
	query := `
		INSERT INTO user_profiles (id, name, email, avatar, notifications, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			avatar = excluded.avatar,
			notifications = excluded.notifications,
			language = excluded.language,
			updated_at = excluded.updated_at
	`

	var avatar sql.NullString
	if p.Avatar != nil {
		avatar = sql.NullString{String: *p.Avatar, Valid: true}
	}
	var updatedAt sql.NullInt64
	if p.UpdatedAt != nil {
		updatedAt = sql.NullInt64{Int64: p.UpdatedAt.UnixMilli(), Valid: true}
	}
	notifications := 0
	if p.Preferences.Notifications {
		notifications = 1
	}

	_, err := q.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Email,
		avatar,
		notifications,
		p.Preferences.Language,
		p.CreatedAt.UnixMilli(),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

func (c *Client) GetOrCreateProfile(ctx context.Context, userID string, def models.UserProfile) (*models.UserProfile, error) {
	return c.UpdateProfile(ctx, userID, def, func(*models.UserProfile) {})
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, def models.UserProfile, fn func(*models.UserProfile)) (p *models.UserProfile, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err = getProfile(ctx, tx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		d := def.Clone()
		p, err = &d, nil
	}
	if err != nil {
		return nil, err
	}

	fn(p)

	if err = putProfile(ctx, tx, p); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile: %w", err)
	}

	logger.Debug("Profile stored", zap.String("user_id", userID))
	return p, nil
}

func (c *Client) ListDiagnoses(ctx context.Context, userID string, page storage.Page) ([]models.SavedDiagnosis, int, error) {
	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM saved_diagnoses WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count diagnoses: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, disease_id, plant, disease, confidence, severity, image, solutions, info, date, saved_at
		FROM saved_diagnoses
		WHERE user_id = ?
		ORDER BY date DESC, saved_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list diagnoses: %w", err)
	}
	defer rows.Close()

	diagnoses := []models.SavedDiagnosis{}
	for rows.Next() {
		var (
			d                          models.SavedDiagnosis
			diseaseID, severity, image sql.NullString
			info                       sql.NullString
			solutions                  string
			date, savedAt              int64
		)

		err := rows.Scan(&d.ID, &d.UserID, &diseaseID, &d.Plant, &d.Disease, &d.Confidence,
			&severity, &image, &solutions, &info, &date, &savedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(solutions), &d.Solutions); err != nil {
			return nil, 0, fmt.Errorf("failed to decode solutions of %q: %w", d.ID, err)
		}
		if d.Solutions == nil {
			d.Solutions = []string{}
		}
		d.DiseaseID = diseaseID.String
		d.Severity = severity.String
		d.Image = image.String
		d.Info = info.String
		d.Date = fromMillis(date)
		d.SavedAt = fromMillis(savedAt)

		diagnoses = append(diagnoses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate diagnoses: %w", err)
	}

	return diagnoses, total, nil
}

func (c *Client) SaveDiagnosis(ctx context.Context, d models.SavedDiagnosis) error {
	query := `
		INSERT INTO saved_diagnoses (user_id, id, disease_id, plant, disease, confidence, severity, image, solutions, info, date, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	solutions := d.Solutions
	if solutions == nil {
		solutions = []string{}
	}
	solutionsJSON, err := json.Marshal(solutions)
	if err != nil {
		return fmt.Errorf("failed to encode solutions: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		d.UserID,
		d.ID,
		d.DiseaseID,
		d.Plant,
		d.Disease,
		d.Confidence,
		d.Severity,
		d.Image,
		string(solutionsJSON),
		d.Info,
		d.Date.UnixMilli(),
		d.SavedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("diagnosis %q: %w", d.ID, storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert diagnosis: %w", err)
	}

	logger.Debug("Diagnosis saved", zap.String("user_id", d.UserID), zap.String("diagnosis_id", d.ID))
	return nil
}

func (c *Client) DeleteDiagnosis(ctx context.Context, userID, diagnosisID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM saved_diagnoses WHERE user_id = ? AND id = ?`, userID, diagnosisID)
	if err != nil {
		return fmt.Errorf("failed to delete diagnosis: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete diagnosis: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("diagnosis %q: %w", diagnosisID, storage.ErrNotFound)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
