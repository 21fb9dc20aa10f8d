package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/maniack/gatehouse/internal/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// User represents an identity resolved from an external provider.
type User struct {
	ID        string `gorm:"type:char(36);primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Provider   string `gorm:"uniqueIndex:idx_provider_identity" json:"provider"`
	ProviderID string `gorm:"uniqueIndex:idx_provider_identity" json:"provider_id"`
	Email      string `gorm:"index" json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
}

// AuditLog tracks authentication events (logins, denials, logouts).
type AuditLog struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"ts"`
	UserID    string    `gorm:"type:char(36);index" json:"user_id"`
	Provider  string    `gorm:"index" json:"provider"`
	Event     string    `json:"event"`  // login, denied, failure, logout, refresh
	Status    string    `json:"status"` // success, error
	Detail    string    `json:"detail"`
	RequestID string    `json:"request_id"`
}

// Setting is a generic key-value row for server-side configuration (e.g. JWT secret).
type Setting struct {
	Key       string `gorm:"primaryKey" json:"key"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Value string `json:"value"`
}

type Store struct {
	DB *gorm.DB
}

// Open initializes the database (SQLite or PostgreSQL based on DSN) and runs auto-migrations.
// If the provided string looks like a PostgreSQL DSN (starts with postgres:// or postgresql://,
// or contains key=val pairs like host=/user=/dbname=), Postgres driver will be used.
// Otherwise, it's treated as a SQLite path/DSN.
func Open(dsn string) (*Store, error) {
	log := logging.L()

	isPg := isPostgresDSN(dsn)
	var db *gorm.DB
	var err error
	if isPg {
		log.Infof("Opening PostgreSQL database...")
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logging.NewGormLogger(log, 100*time.Millisecond)})
	} else {
		log.Infof("Opening SQLite database (path: %s)...", dsn)
		// default to SQLite (supports file paths and memory dsn like file::memory:?cache=shared)
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logging.NewGormLogger(log, 100*time.Millisecond)})
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if !isPg {
		// SQLite works best with a single writer connection
		sqlDB.SetMaxOpenConns(1)
	}

	if err = db.AutoMigrate(
		&User{},
		&AuditLog{},
		&Setting{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{DB: db}, nil
}

func isPostgresDSN(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return true
	}
	// Key-value DSN commonly used by lib/pq/pgx: host=... user=... dbname=...
	if strings.Contains(s, "host=") || strings.Contains(s, "user=") || strings.Contains(s, "dbname=") {
		return true
	}
	return false
}

// NewUUID generates a new UUID v4.
func NewUUID() string {
	return uuid.New().String()
}

func (s *Store) GetJWTSecret() (string, error) {
	var sett Setting
	if err := s.DB.First(&sett, "key = ?", "jwt_secret").Error; err != nil {
		return "", err
	}
	return sett.Value, nil
}

func (s *Store) SaveJWTSecret(secret string) error {
	sett := Setting{
		Key:   "jwt_secret",
		Value: secret,
	}
	return s.DB.Save(&sett).Error
}

// FindOrCreateUser looks up a user by provider identity and creates it on first login.
// Email, name and avatar are refreshed from the provider on subsequent logins.
func (s *Store) FindOrCreateUser(provider, providerID, email, name, avatar string) (*User, error) {
	if provider == "" || providerID == "" {
		return nil, fmt.Errorf("provider and providerID required")
	}
	u := &User{Provider: provider, ProviderID: providerID}
	res := s.DB.Where("provider = ? AND provider_id = ?", provider, providerID).First(u)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		u.ID = NewUUID()
		u.Email = email
		u.Name = name
		u.AvatarURL = avatar
		if err := s.DB.Create(u).Error; err != nil {
			return nil, err
		}
		return u, nil
	}
	if res.Error != nil {
		return nil, res.Error
	}

	changed := false
	if email != "" && u.Email != email {
		u.Email = email
		changed = true
	}
	if name != "" && u.Name != name {
		u.Name = name
		changed = true
	}
	if avatar != "" && u.AvatarURL != avatar {
		u.AvatarURL = avatar
		changed = true
	}
	if changed {
		if err := s.DB.Save(u).Error; err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *Store) GetUser(id string) (*User, error) {
	var u User
	if err := s.DB.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) DeleteUser(id string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&AuditLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&User{}, "id = ?", id).Error
	})
}

func (s *Store) GetUserAuditLogs(userID string, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	q := s.DB.Where("user_id = ?", userID).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func (s *Store) PruneAuditLogs(before time.Time) (int64, error) {
	res := s.DB.Where("timestamp < ?", before).Delete(&AuditLog{})
	return res.RowsAffected, res.Error
}
