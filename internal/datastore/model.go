package datastore

import (
	"time"

	"github.com/florai/contrib-pipeline/internal/consent"
)

// Contribution review states. Only StatusPendingReview is written here;
// the review tooling owns the others.
const (
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
)

// Contribution is an accepted plant photograph and its identification.
type Contribution struct {
	ID                string    `gorm:"type:varchar(36);primaryKey"`
	UserID            string    `gorm:"type:varchar(255);not null;index:idx_contributions_user_created,priority:1"`
	ScientificName    string    `gorm:"type:varchar(255);not null"`
	CommonName        string    `gorm:"type:varchar(255);not null"`
	Family            *string   `gorm:"type:varchar(255)"`
	IsHealthy         bool      `gorm:"not null"`
	DiseaseInfo       *string   `gorm:"type:text"`
	GrowingConditions *string   `gorm:"type:text"`
	Latitude          *float64  // set together with Longitude or not at all
	Longitude         *float64
	Notes             *string   `gorm:"type:text"`
	ImagePath         string    `gorm:"type:varchar(1024);not null"`
	ImageURL          string    `gorm:"type:varchar(2048);not null"`
	Status            string    `gorm:"type:varchar(20);not null;default:pending_review;index"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_contributions_user_created,priority:2"`
}

// TableName returns the table name for GORM.
func (Contribution) TableName() string {
	return "plant_contributions"
}

// HasLocation reports whether both coordinates are stored.
func (c *Contribution) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Feedback is a user's verdict on an identification result.
type Feedback struct {
	ID                string    `gorm:"type:varchar(36);primaryKey"`
	UserID            string    `gorm:"type:varchar(255);not null;index"`
	IdentificationID  string    `gorm:"type:varchar(255);not null;index"`
	IsCorrect         bool      `gorm:"not null"`
	CorrectSpecies    *string   `gorm:"type:varchar(255)"`
	CorrectCommonName *string   `gorm:"type:varchar(255)"`
	Notes             *string   `gorm:"type:text"`
	DataUsageConsent  bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Feedback) TableName() string {
	return "identification_feedback"
}

// UserConsent mirrors a user's consent categories on the server.
type UserConsent struct {
	ID                  uint      `gorm:"primaryKey"`
	UserID              string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	BasicIdentification bool      `gorm:"not null;default:true"`
	ModelTraining       bool      `gorm:"not null;default:false"`
	EXIFMetadata        bool      `gorm:"column:exif_metadata;not null;default:false"`
	LocationData        bool      `gorm:"not null;default:false"`
	AdvancedSensors     bool      `gorm:"not null;default:false"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (UserConsent) TableName() string {
	return "user_consents"
}

// ConsentMap converts the record into a consent map.
func (u *UserConsent) ConsentMap() consent.Map {
	return consent.Map{
		consent.BasicIdentification: u.BasicIdentification,
		consent.ModelTraining:       u.ModelTraining,
		consent.EXIFMetadata:        u.EXIFMetadata,
		consent.LocationData:        u.LocationData,
		consent.AdvancedSensors:     u.AdvancedSensors,
	}
}

// applyConsentMap copies every known category from m. Missing categories
// are stored as false; the mandatory category is always true.
func (u *UserConsent) applyConsentMap(m consent.Map) {
	u.BasicIdentification = true
	u.ModelTraining = m[consent.ModelTraining]
	u.EXIFMetadata = m[consent.EXIFMetadata]
	u.LocationData = m[consent.LocationData]
	u.AdvancedSensors = m[consent.AdvancedSensors]
}

// Consent audit actions
const (
	AuditGranted = "granted"
	AuditRevoked = "revoked"
)

// ConsentAudit records a single consent category change.
type ConsentAudit struct {
	ID            uint      `gorm:"primaryKey"`
	UserID        string    `gorm:"type:varchar(255);not null;index:idx_consent_audit_user_created,priority:1"`
	Action        string    `gorm:"type:varchar(20);not null"`
	ConsentType   string    `gorm:"type:varchar(64);not null"`
	PreviousValue *bool
	NewValue      bool      `gorm:"not null"`
	IPAddress     string    `gorm:"type:varchar(64)"`
	UserAgent     string    `gorm:"type:varchar(512)"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_consent_audit_user_created,priority:2"`
}

// TableName returns the table name for GORM.
func (ConsentAudit) TableName() string {
	return "consent_audit_log"
}

// AuditMeta describes the request that changed consent.
type AuditMeta struct {
	IPAddress string
	UserAgent string
}

// allModels lists every entity managed by AutoMigrate.
func allModels() []any {
	return []any{
		&Contribution{},
		&Feedback{},
		&UserConsent{},
		&ConsentAudit{},
	}
}
