package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// DefaultAuditLimit caps ListConsentAudit when no limit is given.
const DefaultAuditLimit = 50

// CreateContribution inserts a new contribution record.
func (s *Store) CreateContribution(ctx context.Context, c *Contribution) error {
	if c.ID == "" || c.UserID == "" {
		return validationError("contribution id and user id are required", "contribution", c.ID)
	}
	if c.Status == "" {
		c.Status = StatusPendingReview
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return dbError(mapError(err), "create_contribution", errors.PriorityHigh,
			"contribution_id", c.ID)
	}
	return nil
}

// ListContributionsByUser returns the user's contributions, newest first.
func (s *Store) ListContributionsByUser(ctx context.Context, userID string) ([]Contribution, error) {
	var contributions []Contribution
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&contributions).Error
	if err != nil {
		return nil, dbError(err, "list_contributions", errors.PriorityMedium)
	}
	return contributions, nil
}

// CreateFeedback inserts a feedback record.
func (s *Store) CreateFeedback(ctx context.Context, f *Feedback) error {
	if f.ID == "" || f.UserID == "" {
		return validationError("feedback id and user id are required", "feedback", f.ID)
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return dbError(mapError(err), "create_feedback", errors.PriorityHigh, "feedback_id", f.ID)
	}
	return nil
}

// GetConsent returns the consent record of a user or ErrNotFound.
func (s *Store) GetConsent(ctx context.Context, userID string) (*UserConsent, error) {
	var record UserConsent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_consent", errors.PriorityMedium)
	}
	return &record, nil
}

// UpsertConsent writes the consent record and its audit entries in one
// transaction. A new record audits every category as granted with no
// previous value, whatever its value; an existing record audits changed
// categories only.
func (s *Store) UpsertConsent(ctx context.Context, userID string, m consent.Map, meta AuditMeta) (*UserConsent, error) {
	if userID == "" {
		return nil, validationError("user id is required", "user_id", userID)
	}

	var (
		result  UserConsent
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserConsent
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			return err
		}

		var previous consent.Map
		record := existing
		if isNew {
			record = UserConsent{UserID: userID}
		} else {
			previous = existing.ConsentMap()
		}
		record.applyConsentMap(m)

		if isNew {
			if err := tx.Create(&record).Error; err != nil {
				return mapError(err)
			}
		} else {
			err := tx.Model(&record).Select(
				"basic_identification", "model_training", "exif_metadata",
				"location_data", "advanced_sensors", "updated_at",
			).Updates(&record).Error
			if err != nil {
				return err
			}
		}

		entries := auditEntries(userID, previous, record.ConsentMap(), meta)
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		result = record
		created = isNew
		return nil
	})
	if err != nil {
		return nil, dbError(err, "upsert_consent", errors.PriorityHigh)
	}

	s.log.Debug("consent record updated", logger.Bool("created", created))
	return &result, nil
}

// auditEntries lists the changes between previous and current in
// category order. A nil previous map audits every category.
func auditEntries(userID string, previous, current consent.Map, meta AuditMeta) []ConsentAudit {
	var entries []ConsentAudit
	for _, c := range consent.Categories() {
		newValue := current[c]
		var prev *bool
		if previous != nil {
			old := previous[c]
			if old == newValue {
				continue
			}
			prev = &old
		}
		action := AuditGranted
		if prev != nil && !newValue {
			action = AuditRevoked
		}
		entries = append(entries, ConsentAudit{
			UserID:        userID,
			Action:        action,
			ConsentType:   string(c),
			PreviousValue: prev,
			NewValue:      newValue,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
		})
	}
	return entries
}

// ListConsentAudit returns the user's audit entries, newest first.
func (s *Store) ListConsentAudit(ctx context.Context, userID string, limit int) ([]ConsentAudit, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	var entries []ConsentAudit
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "list_consent_audit", errors.PriorityMedium)
	}
	return entries, nil
}

// DeleteUserData removes every record of the user in one transaction and
// returns the object keys of the deleted contributions.
func (s *Store) DeleteUserData(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, validationError("user id is required", "user_id", userID)
	}

	var imagePaths []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Contribution{}).
			Where("user_id = ?", userID).
			Pluck("image_path", &imagePaths).Error; err != nil {
			return err
		}
		for _, model := range []any{&Contribution{}, &Feedback{}, &ConsentAudit{}, &UserConsent{}} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err, "delete_user_data", errors.PriorityHigh)
	}

	s.log.Info("user data deleted", logger.Int("contributions", len(imagePaths)))
	return imagePaths, nil
}
