// Package consent stores the user's data sharing choices and decides which
// personal data categories may leave the device.
package consent

import (
	"maps"
	"slices"
)

// Category identifies a class of personal data the user can allow or deny.
type Category string

// Known consent categories
const (
	BasicIdentification Category = "basic_identification"
	ModelTraining       Category = "model_training"
	EXIFMetadata        Category = "exif_metadata"
	LocationData        Category = "location_data"
	AdvancedSensors     Category = "advanced_sensors"
)

// MandatoryCategory is always granted and cannot be changed.
const MandatoryCategory = BasicIdentification

// knownCategories fixes the order used for loading and bulk updates.
var knownCategories = []Category{
	BasicIdentification,
	ModelTraining,
	EXIFMetadata,
	LocationData,
	AdvancedSensors,
}

// Categories returns the known categories in their canonical order.
func Categories() []Category {
	return slices.Clone(knownCategories)
}

// IsKnown reports whether c is one of the recognised categories.
func (c Category) IsKnown() bool {
	return slices.Contains(knownCategories, c)
}

// ParseCategory converts user input into a known category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsKnown() {
		return "", &InvalidPreferenceError{Key: s, Reason: "unknown consent category"}
	}
	return c, nil
}

// Map holds one consent flag per category.
type Map map[Category]bool

// DefaultMap denies every optional category and grants the mandatory one.
func DefaultMap() Map {
	m := make(Map, len(knownCategories))
	for _, c := range knownCategories {
		m[c] = false
	}
	m[MandatoryCategory] = true
	return m
}

// Clone returns an independent copy of m.
func (m Map) Clone() Map {
	return maps.Clone(m)
}
