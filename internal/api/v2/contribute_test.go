package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/errors"
)

type statusBody struct {
	Contributions []contribution.ContributionView `json:"contributions"`
	Summary       contribution.Summary            `json:"summary"`
}

func TestSubmitPlantThenStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.submitPlant(t, "user-1", plantForm(nil), jpegPart())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PlantResponse](t, rec)
	assert.Equal(t, MsgPlantReceived, created.Message)
	assert.NotEmpty(t, created.ContributionID)

	rec = env.getJSON(t, "/contribute/status", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusBody](t, rec)
	assert.Equal(t, 1, status.Summary.Total)
	assert.Equal(t, 1, status.Summary.StatusCounts["pending_review"])
	require.Len(t, status.Contributions, 1)
	assert.Equal(t, created.ContributionID, status.Contributions[0].ID)
	assert.Equal(t, "Monstera deliciosa", status.Contributions[0].ScientificName)

	// The public URL of a locally stored image is served by the media route.
	url := status.Contributions[0].ImageURL
	require.True(t, strings.HasPrefix(url, Prefix+"/media/"+contribution.Bucket+"/user-1/"), url)
	media := env.getJSON(t, strings.TrimPrefix(url, Prefix), "")
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, tinyJPEG, media.Body.Bytes())
}

func TestSubmitPlantWithoutConsent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.submitPlant(t, "user-1", plantForm(map[string]string{"dataUsageConsent": "false"}), jpegPart())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, MsgPlantConsentRequired, body.Error)
	assert.NotEmpty(t, body.CorrelationID)

	status := decode[statusBody](t, env.getJSON(t, "/contribute/status", "user-1"))
	assert.Equal(t, 0, status.Summary.Total)
	assert.Empty(t, status.Contributions)
	assert.Empty(t, status.Summary.StatusCounts)
}

func TestSubmitPlantRejections(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		image     *imagePart
		wantError string
		wantField []string
	}{
		{
			name:      "missing required fields",
			overrides: map[string]string{"scientificName": "", "isHealthy": ""},
			image:     jpegPart(),
			wantField: []string{"scientificName", "isHealthy"},
		},
		{
			name:      "unparsable boolean",
			overrides: map[string]string{"isHealthy": "maybe"},
			image:     jpegPart(),
			wantField: []string{"isHealthy"},
		},
		{
			name:      "unparsable values reported with missing fields",
			overrides: map[string]string{"scientificName": "", "commonName": "", "isHealthy": "maybe"},
			image:     jpegPart(),
			wantField: []string{"scientificName", "commonName", "isHealthy"},
		},
		{
			name:      "unparsable coordinate with other violations",
			overrides: map[string]string{"locationConsent": "true", "latitude": "north", "longitude": "200", "dataUsageConsent": ""},
			image:     jpegPart(),
			wantField: []string{"latitude", "longitude", "dataUsageConsent"},
		},
		{
			name:      "latitude out of range with location consent",
			overrides: map[string]string{"locationConsent": "true", "latitude": "91", "longitude": "10"},
			image:     jpegPart(),
			wantField: []string{"latitude"},
		},
		{
			name:      "no image",
			wantError: MsgNoImage,
		},
		{
			name:      "wrong image type",
			image:     &imagePart{filename: "plant.gif", contentType: "image/gif", data: []byte("GIF89a")},
			wantError: MsgNoImage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.submitPlant(t, "user-1", plantForm(tt.overrides), tt.image)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantError, body.Error)
			var fields []string
			for _, f := range body.Errors {
				fields = append(fields, f.Field)
			}
			assert.ElementsMatch(t, tt.wantField, fields)
		})
	}
}

func TestSubmitPlantIgnoresCoordinatesWithoutLocationConsent(t *testing.T) {
	env := newTestEnv(t)

	// Garbage coordinates are never parsed when location sharing is off.
	rec := env.submitPlant(t, "user-1", plantForm(map[string]string{
		"locationConsent": "false",
		"latitude":        "not-a-number",
		"longitude":       "181",
	}), jpegPart())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rows, err := env.ds.ListContributionsByUser(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].HasLocation())
}

func TestSubmitPlantStoresCoordinatesWithLocationConsent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.submitPlant(t, "user-1", plantForm(map[string]string{
		"locationConsent": "true",
		"latitude":        "51.5",
		"longitude":       "-0.12",
	}), jpegPart())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rows, err := env.ds.ListContributionsByUser(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].HasLocation())
	assert.InDelta(t, 51.5, *rows[0].Latitude, 1e-9)
	assert.InDelta(t, -0.12, *rows[0].Longitude, 1e-9)
}

func TestSubmitPlantStorageFailure(t *testing.T) {
	env := newTestEnv(t, withObjects(&failingUploads{}))

	rec := env.submitPlant(t, "user-1", plantForm(nil), jpegPart())
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, MsgStoreImageFailed, body.Error)
	assert.Empty(t, body.Details, "details are hidden outside development")

	status := decode[statusBody](t, env.getJSON(t, "/contribute/status", "user-1"))
	assert.Equal(t, 0, status.Summary.Total)
}

func TestSubmitPlantMetadataFailureShowsDetailsInDevelopment(t *testing.T) {
	env := newTestEnv(t,
		withDatastore(&brokenStore{err: errors.NewStd("database is locked")}),
		withEnvironment(conf.EnvDevelopment))

	rec := env.submitPlant(t, "user-1", plantForm(nil), jpegPart())
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, MsgStoreMetadataFailed, body.Error)
	assert.Contains(t, body.Details, "database is locked")
}

func TestSubmitFeedback(t *testing.T) {
	env := newTestEnv(t)

	rec := env.sendJSON(t, http.MethodPost, "/contribute/feedback", "user-1",
		`{"identificationId":"id-1","isCorrect":false,"dataUsageConsent":true,"correctScientificName":"Ficus lyrata"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[FeedbackResponse](t, rec)
	assert.Equal(t, MsgFeedbackReceived, body.Message)
	assert.NotEmpty(t, body.FeedbackID)
}

func TestSubmitFeedbackRejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
		wantField []string
	}{
		{"unknown field", `{"identificationId":"id-1","isCorrect":true,"dataUsageConsent":true,"extra":1}`, MsgInvalidRequestBody, nil},
		{"malformed", `{"identificationId":`, MsgInvalidRequestBody, nil},
		{"missing fields", `{"dataUsageConsent":true}`, "", []string{"identificationId", "isCorrect"}},
		{"consent declined", `{"identificationId":"id-1","isCorrect":true,"dataUsageConsent":false}`, MsgConsentRequired, nil},
		{"non boolean verdict", `{"identificationId":"id-1","isCorrect":"yes","dataUsageConsent":true}`, "", []string{"isCorrect"}},
		{"non boolean consent with missing id", `{"isCorrect":true,"dataUsageConsent":1}`, "", []string{"dataUsageConsent", "identificationId"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.sendJSON(t, http.MethodPost, "/contribute/feedback", "user-1", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantError, body.Error)
			var fields []string
			for _, f := range body.Errors {
				fields = append(fields, f.Field)
			}
			assert.ElementsMatch(t, tt.wantField, fields)
		})
	}
}

func TestSubmitFeedbackStoreFailure(t *testing.T) {
	env := newTestEnv(t, withDatastore(&brokenStore{err: errors.NewStd("connection reset")}))

	rec := env.sendJSON(t, http.MethodPost, "/contribute/feedback", "user-1",
		`{"identificationId":"id-1","isCorrect":true,"dataUsageConsent":true}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgStoreFeedbackFailed, decode[ErrorResponse](t, rec).Error)
}

func TestContributionStatusFailure(t *testing.T) {
	env := newTestEnv(t, withDatastore(&brokenStore{err: errors.NewStd("timeout")}))

	rec := env.getJSON(t, "/contribute/status", "user-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgStatusFailed, decode[ErrorResponse](t, rec).Error)
}

func TestContributeRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.getJSON(t, "/contribute/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.submitPlant(t, "", plantForm(nil), jpegPart())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusIsScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.submitPlant(t, "user-1", plantForm(nil), jpegPart()).Code)

	status := decode[statusBody](t, env.getJSON(t, "/contribute/status", "user-2"))
	assert.Equal(t, 0, status.Summary.Total)
}
