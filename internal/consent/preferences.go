package consent

// Theme selects the client colour scheme.
type Theme string

// Supported themes
const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is a supported theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// NotificationSettings is persisted as a single JSON value.
type NotificationSettings struct {
	Enabled   bool `json:"enabled"`
	Reminders bool `json:"reminders"`
	Updates   bool `json:"updates"`
	Tips      bool `json:"tips"`
}

// DefaultNotificationSettings enables everything.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Enabled: true, Reminders: true, Updates: true, Tips: true}
}

// Preferences is the complete client preference record.
type Preferences struct {
	Consents         Map                  `json:"dataConsent"`
	Theme            Theme                `json:"theme"`
	Notifications    NotificationSettings `json:"notifications"`
	ConsentCompleted bool                 `json:"consentCompleted"`
}

// DefaultPreferences is what a first run, or a reset, produces.
func DefaultPreferences() Preferences {
	return Preferences{
		Consents:      DefaultMap(),
		Theme:         ThemeSystem,
		Notifications: DefaultNotificationSettings(),
	}
}

func (p Preferences) clone() Preferences {
	p.Consents = p.Consents.Clone()
	return p
}

// PartialPreferences describes a bulk update. Nil fields are left alone.
type PartialPreferences struct {
	Consents         Map
	Theme            *Theme
	Notifications    *NotificationSettings
	ConsentCompleted *bool
}

// Persisted key layout. Every key lives under KeyPrefix.
const (
	KeyPrefix           = "@FlorAI:"
	consentKeyPrefix    = KeyPrefix + "consent_"
	KeyConsentCompleted = KeyPrefix + "consent_completed"
	KeyTheme            = KeyPrefix + "theme"
	KeyNotifications    = KeyPrefix + "notifications"
)

// CategoryKey returns the persisted key for a consent category.
func CategoryKey(c Category) string {
	return consentKeyPrefix + string(c)
}
