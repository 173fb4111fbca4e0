package contribution

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/text/unicode/norm"
)

// MaxImageSize is the largest accepted image in bytes.
const MaxImageSize = 10 << 20

// allowedImageTypes maps accepted content types to the stored extension.
var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
}

// Asset is an uploaded image.
type Asset struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// SubmitRequest is one plant contribution. Boolean fields are pointers so
// an absent or unparsable value can be told apart from false.
//
// ParseErrors carries fields the transport could not decode. They are
// reported together with the structural violations.
type SubmitRequest struct {
	UserID            string
	ScientificName    string
	CommonName        string
	Family            string
	IsHealthy         *bool
	DataUsageConsent  *bool
	DiseaseInfo       string
	GrowingConditions string
	LocationConsent   bool
	Latitude          *float64
	Longitude         *float64
	Notes             string
	Image             *Asset
	ParseErrors       []FieldError
}

// SubmitResult identifies an accepted contribution.
type SubmitResult struct {
	ContributionID string
	ImagePath      string
	ImageURL       string
}

// FeedbackRequest is a verdict on an earlier identification.
type FeedbackRequest struct {
	UserID                string
	IdentificationID      string
	IsCorrect             *bool
	DataUsageConsent      *bool
	CorrectScientificName string
	CorrectCommonName     string
	Notes                 string
	ParseErrors           []FieldError
}

// validate checks structure, then consent, then the attachment.
func (r *SubmitRequest) validate() error {
	verr := newValidationError(r.ParseErrors)
	if strings.TrimSpace(r.UserID) == "" {
		verr.add("userId", MsgUserIDRequired)
	}
	if strings.TrimSpace(r.ScientificName) == "" {
		verr.add("scientificName", MsgScientificNameRequired)
	}
	if strings.TrimSpace(r.CommonName) == "" {
		verr.add("commonName", MsgCommonNameRequired)
	}
	if r.DataUsageConsent == nil {
		verr.add("dataUsageConsent", MsgDataUsageConsentRequired)
	}
	if r.IsHealthy == nil {
		verr.add("isHealthy", MsgHealthStatusRequired)
	}
	if r.LocationConsent {
		if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
			verr.add("latitude", MsgLatitudeRange)
		}
		if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
			verr.add("longitude", MsgLongitudeRange)
		}
	}
	if err := verr.errOrNil(); err != nil {
		return err
	}

	if !*r.DataUsageConsent {
		return &ConsentRequiredError{}
	}

	return checkAsset(r.Image)
}

// checkAsset applies the type and size filter.
func checkAsset(a *Asset) error {
	switch {
	case a == nil || a.Content == nil:
		return &MissingAssetError{}
	case a.Size <= 0:
		return &MissingAssetError{Reason: "empty file"}
	case a.Size > MaxImageSize:
		return &MissingAssetError{Reason: "file exceeds 10 MiB"}
	}
	if _, ok := allowedImageTypes[mediaType(a.ContentType)]; !ok {
		return &MissingAssetError{Reason: "invalid file type, only JPEG, JPG and PNG are allowed"}
	}
	return nil
}

// extension picks the stored extension, preferring the client's filename
// when it agrees with the content type.
func (a *Asset) extension() string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Filename), "."))
	want := allowedImageTypes[mediaType(a.ContentType)]
	if ext == want || (ext == "jpeg" && want == "jpg") {
		return ext
	}
	return want
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// location returns the coordinates to store, or nils when the user did
// not consent or did not supply both values.
func (r *SubmitRequest) location() (lat, lon *float64) {
	if !r.LocationConsent || r.Latitude == nil || r.Longitude == nil {
		return nil, nil
	}
	la, lo := *r.Latitude, *r.Longitude
	return &la, &lo
}

func (r *FeedbackRequest) validate() error {
	verr := newValidationError(r.ParseErrors)
	if strings.TrimSpace(r.UserID) == "" {
		verr.add("userId", MsgUserIDRequired)
	}
	if strings.TrimSpace(r.IdentificationID) == "" {
		verr.add("identificationId", MsgIdentificationIDRequired)
	}
	if r.IsCorrect == nil {
		verr.add("isCorrect", MsgCorrectnessRequired)
	}
	if r.DataUsageConsent == nil {
		verr.add("dataUsageConsent", MsgDataUsageConsentRequired)
	}
	if err := verr.errOrNil(); err != nil {
		return err
	}
	if !*r.DataUsageConsent {
		return &ConsentRequiredError{}
	}
	return nil
}

// cleanName trims and NFC-normalises a taxonomic name.
func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// cleanText strips markup from free text. Empty input yields nil.
func cleanText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.ContainsAny(s, "<&") {
		s = html2text.HTML2Text(s)
	}
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return &s
}

// optionalName is cleanName for nullable columns.
func optionalName(s string) *string {
	s = cleanName(s)
	if s == "" {
		return nil
	}
	return &s
}
