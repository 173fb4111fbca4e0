package consent

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// Store is the durable preference record of one client. Reads are served
// from memory; every mutation reaches the KV before memory changes, so a
// caller never sees success for a write that was not persisted.
type Store struct {
	kv  KV
	log logger.Logger

	mu    sync.Mutex
	prefs Preferences
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore creates a Store over kv holding default preferences until Load.
func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:    kv,
		log:   logger.Global().Module("consent"),
		prefs: DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads every known key. Missing or unreadable values fall back to
// their defaults; an error is returned only when the backend itself fails,
// and the returned preferences are complete even then.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs := DefaultPreferences()
	var readErrs []error

	get := func(key string) (string, bool) {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			readErrs = append(readErrs, err)
			return "", false
		}
		return raw, ok
	}

	for _, c := range knownCategories {
		raw, ok := get(CategoryKey(c))
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.log.Warn("ignoring unparsable consent value",
				logger.String("category", string(c)),
				logger.String("value", raw))
			continue
		}
		prefs.Consents[c] = v
	}
	prefs.Consents[MandatoryCategory] = true

	if raw, ok := get(KeyTheme); ok {
		if t := Theme(raw); t.Valid() {
			prefs.Theme = t
		} else {
			s.log.Warn("ignoring unknown theme", logger.String("value", raw))
		}
	}

	if raw, ok := get(KeyNotifications); ok {
		n := DefaultNotificationSettings()
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			s.log.Warn("ignoring unparsable notification settings", logger.Error(err))
		} else {
			prefs.Notifications = n
		}
	}

	if raw, ok := get(KeyConsentCompleted); ok {
		prefs.ConsentCompleted = raw == "true"
	}

	s.prefs = prefs

	if len(readErrs) > 0 {
		return prefs.clone(), errors.New(errors.Join(readErrs...)).
			Component("consent").
			Category(errors.CategoryFileIO).
			Context("operation", "load").
			Context("failed_reads", len(readErrs)).
			Build()
	}

	s.log.Debug("preferences loaded", logger.Bool("consent_completed", prefs.ConsentCompleted))
	return prefs.clone(), nil
}

// SetCategory persists one consent flag.
func (s *Store) SetCategory(ctx context.Context, c Category, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCategoryLocked(ctx, c, value)
}

func (s *Store) setCategoryLocked(ctx context.Context, c Category, value bool) error {
	if c == MandatoryCategory {
		return &ImmutableCategoryError{Category: c}
	}
	if !c.IsKnown() {
		return &InvalidPreferenceError{Key: string(c), Reason: "unknown consent category"}
	}

	key := CategoryKey(c)
	if err := s.kv.Set(ctx, key, strconv.FormatBool(value)); err != nil {
		return storeError(err, "set_category", key)
	}
	s.prefs.Consents[c] = value
	return nil
}

// SetTheme persists the theme selector.
func (s *Store) SetTheme(ctx context.Context, t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setThemeLocked(ctx, t)
}

func (s *Store) setThemeLocked(ctx context.Context, t Theme) error {
	if !t.Valid() {
		return &InvalidPreferenceError{Key: KeyTheme, Reason: "theme must be light, dark or system"}
	}
	if err := s.kv.Set(ctx, KeyTheme, string(t)); err != nil {
		return storeError(err, "set_theme", KeyTheme)
	}
	s.prefs.Theme = t
	return nil
}

// SetNotifications persists the notification settings as one JSON value.
func (s *Store) SetNotifications(ctx context.Context, n NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setNotificationsLocked(ctx, n)
}

func (s *Store) setNotificationsLocked(ctx context.Context, n NotificationSettings) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return storeError(err, "encode_notifications", KeyNotifications)
	}
	if err := s.kv.Set(ctx, KeyNotifications, string(raw)); err != nil {
		return storeError(err, "set_notifications", KeyNotifications)
	}
	s.prefs.Notifications = n
	return nil
}

// SetConsentCompleted records whether the consent flow has been finished.
func (s *Store) SetConsentCompleted(ctx context.Context, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCompletedLocked(ctx, done)
}

func (s *Store) setCompletedLocked(ctx context.Context, done bool) error {
	if err := s.kv.Set(ctx, KeyConsentCompleted, strconv.FormatBool(done)); err != nil {
		return storeError(err, "set_consent_completed", KeyConsentCompleted)
	}
	s.prefs.ConsentCompleted = done
	return nil
}

// SetMany applies a bulk update: categories in canonical order, then the
// theme, the notification settings and the completion flag. Each key is
// durable on its own; failures are collected into a *PartialWriteError
// and already applied keys stay applied.
func (s *Store) SetMany(ctx context.Context, p PartialPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &PartialWriteError{}
	record := func(key string, err error) {
		if err != nil {
			result.Failed = append(result.Failed, KeyError{Key: key, Err: err})
			return
		}
		result.Applied = append(result.Applied, key)
	}

	for _, c := range orderedCategories(p.Consents) {
		record(CategoryKey(c), s.setCategoryLocked(ctx, c, p.Consents[c]))
	}
	if p.Theme != nil {
		record(KeyTheme, s.setThemeLocked(ctx, *p.Theme))
	}
	if p.Notifications != nil {
		record(KeyNotifications, s.setNotificationsLocked(ctx, *p.Notifications))
	}
	if p.ConsentCompleted != nil {
		record(KeyConsentCompleted, s.setCompletedLocked(ctx, *p.ConsentCompleted))
	}

	if len(result.Failed) > 0 {
		s.log.Warn("bulk preference update partially failed",
			logger.Int("failed", len(result.Failed)),
			logger.Int("applied", len(result.Applied)))
		return result
	}
	return nil
}

// orderedCategories lists known categories first in canonical order,
// followed by any unknown ones sorted so failures are reported stably.
func orderedCategories(m Map) []Category {
	out := make([]Category, 0, len(m))
	for _, c := range knownCategories {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}
	var unknown []Category
	for c := range m {
		if !c.IsKnown() {
			unknown = append(unknown, c)
		}
	}
	slices.Sort(unknown)
	return append(out, unknown...)
}

// Reset restores defaults, deletes every other key in the namespace and
// re-asserts the mandatory category.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs = DefaultPreferences()
	mandatoryKey := CategoryKey(MandatoryCategory)

	result := &PartialWriteError{}
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		result.Failed = append(result.Failed, KeyError{Key: KeyPrefix + "*", Err: storeError(err, "list_keys", KeyPrefix)})
	}
	for _, key := range keys {
		if key == mandatoryKey {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			result.Failed = append(result.Failed, KeyError{Key: key, Err: storeError(err, "delete_key", key)})
			continue
		}
		result.Applied = append(result.Applied, key)
	}

	if err := s.kv.Set(ctx, mandatoryKey, "true"); err != nil {
		result.Failed = append(result.Failed, KeyError{Key: mandatoryKey, Err: storeError(err, "assert_mandatory", mandatoryKey)})
	} else {
		result.Applied = append(result.Applied, mandatoryKey)
	}

	if len(result.Failed) > 0 {
		return result
	}
	s.log.Info("preferences reset to defaults", logger.Int("removed_keys", len(result.Applied)-1))
	return nil
}

// Snapshot returns a copy of the in-memory preferences.
func (s *Store) Snapshot() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.clone()
}

// Consents returns a copy of the consent map for policy checks.
func (s *Store) Consents() Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Consents.Clone()
}
