package consent

// IsPermitted decides whether data of category c may be used. Unknown
// categories are denied and the mandatory category is always allowed,
// whatever the map says.
func IsPermitted(m Map, c Category) bool {
	if !c.IsKnown() {
		return false
	}
	if c == MandatoryCategory {
		return true
	}
	return m[c]
}

// BundleResult describes the advanced diagnostics bundle.
type BundleResult struct {
	EXIF         bool `json:"exifConsented"`
	Location     bool `json:"locationConsented"`
	Sensors      bool `json:"sensorsConsented"`
	AllConsented bool `json:"allConsented"`
	AnyConsented bool `json:"anyConsented"`
}

// EvaluateBundle resolves the EXIF, location and sensor categories that
// gate advanced diagnostics.
func EvaluateBundle(m Map) BundleResult {
	exif := IsPermitted(m, EXIFMetadata)
	location := IsPermitted(m, LocationData)
	sensors := IsPermitted(m, AdvancedSensors)

	return BundleResult{
		EXIF:         exif,
		Location:     location,
		Sensors:      sensors,
		AllConsented: exif && location && sensors,
		AnyConsented: exif || location || sensors,
	}
}
