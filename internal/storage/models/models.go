package models

import "time"

const (
	DefaultUserName = "User"
	DefaultEmail    = "user@example.com"
	DefaultLanguage = "english"
)

type Preferences struct {
	Notifications bool   `json:"notifications"`
	Language      string `json:"language"`
}

type UserProfile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Avatar      *string     `json:"avatar"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   *time.Time  `json:"updatedAt,omitempty"`
}

// DefaultProfile is the profile created the first time a user is seen.
func DefaultProfile(userID string, now time.Time) UserProfile {
	return UserProfile{
		ID:    userID,
		Name:  DefaultUserName,
		Email: DefaultEmail,
		Preferences: Preferences{
			Notifications: true,
			Language:      DefaultLanguage,
		},
		CreatedAt: now,
	}
}

func (p UserProfile) Clone() UserProfile {
	if p.Avatar != nil {
		a := *p.Avatar
		p.Avatar = &a
	}
	if p.UpdatedAt != nil {
		u := *p.UpdatedAt
		p.UpdatedAt = &u
	}
	return p
}

type PreferencesUpdate struct {
	Notifications *bool   `json:"notifications"`
	Language      *string `json:"language"`
}

// ProfileUpdate is a partial profile update; nil fields are left unchanged.
// An empty Avatar clears it.
type ProfileUpdate struct {
	Name        *string            `json:"name"`
	Email       *string            `json:"email"`
	Avatar      *string            `json:"avatar"`
	Preferences *PreferencesUpdate `json:"preferences"`
}

func (u ProfileUpdate) Apply(p *UserProfile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Avatar != nil {
		if *u.Avatar == "" {
			p.Avatar = nil
		} else {
			a := *u.Avatar
			p.Avatar = &a
		}
	}
	if u.Preferences != nil {
		if u.Preferences.Notifications != nil {
			p.Preferences.Notifications = *u.Preferences.Notifications
		}
		if u.Preferences.Language != nil {
			p.Preferences.Language = *u.Preferences.Language
		}
	}
}

type SavedDiagnosis struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DiseaseID  string    `json:"diseaseId,omitempty"`
	Plant      string    `json:"plant"`
	Disease    string    `json:"disease"`
	Confidence float64   `json:"confidence"`
	Severity   string    `json:"severity,omitempty"`
	Image      string    `json:"image,omitempty"`
	Solutions  []string  `json:"solutions"`
	Info       string    `json:"info"`
	Date       time.Time `json:"date"`
	SavedAt    time.Time `json:"savedAt"`
}

func (d SavedDiagnosis) Clone() SavedDiagnosis {
	d.Solutions = append([]string{}, d.Solutions...)
	return d
}

// DiagnosisInput is the client payload for saving a diagnosis.
type DiagnosisInput struct {
	ID         string     `json:"id"`
	DiseaseID  string     `json:"diseaseId"`
	Plant      string     `json:"plant"`
	Disease    string     `json:"disease"`
	Confidence float64    `json:"confidence"`
	Severity   string     `json:"severity"`
	Image      string     `json:"image"`
	Solutions  []string   `json:"solutions"`
	Info       string     `json:"info"`
	Date       *time.Time `json:"date"`
}
