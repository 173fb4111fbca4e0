package httpclient

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(p, pngHeader, 0o600))
	return p
}

func TestSubmitPlant(t *testing.T) {
	lat, lon := 52.52, 13.405
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/contribute/plant", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "Monstera deliciosa", r.FormValue("scientificName"))
		assert.Equal(t, "Swiss cheese plant", r.FormValue("commonName"))
		assert.Equal(t, "true", r.FormValue("dataUsageConsent"))
		assert.Equal(t, "false", r.FormValue("isHealthy"))
		assert.Equal(t, "true", r.FormValue("locationConsent"))
		assert.Equal(t, "52.52", r.FormValue("latitude"))
		assert.Empty(t, r.FormValue("family"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "leaf.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":        "Plant contribution received successfully",
			"contributionId": "c-1",
		})
	})

	api := NewAPIClient(server.URL+"/api/v2/", newTestClientWithConfig(t, &Config{Token: "tok"}))
	id, err := api.SubmitPlant(t.Context(), &PlantUpload{
		ImagePath:        writeImage(t),
		ScientificName:   "Monstera deliciosa",
		CommonName:       "Swiss cheese plant",
		DataUsageConsent: true,
		LocationConsent:  true,
		Latitude:         &lat,
		Longitude:        &lon,
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
}

func TestSubmitPlantValidationError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"field":"commonName","message":"Common name is required"}],"correlation_id":"abc"}`))
	})

	api := NewAPIClient(server.URL, newTestClient(t))
	_, err := api.SubmitPlant(t.Context(), &PlantUpload{ImagePath: writeImage(t), ScientificName: "Ficus"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, []FieldError{{Field: "commonName", Message: "Common name is required"}}, apiErr.Fields)
	assert.Equal(t, "abc", apiErr.CorrelationID)
	assert.Contains(t, err.Error(), "commonName: Common name is required")
}

func TestSubmitPlantMissingImage(t *testing.T) {
	api := NewAPIClient("http://127.0.0.1:1", newTestClient(t))
	_, err := api.SubmitPlant(t.Context(), &PlantUpload{ImagePath: filepath.Join(t.TempDir(), "nope.jpg")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatus(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contribute/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"contributions":[{"id":"c-1","scientific_name":"Ficus lyrata","status":"pending_review"}],` +
			`"summary":{"total":1,"statusCounts":{"pending_review":1}}}`))
	})

	api := NewAPIClient(server.URL, newTestClient(t))
	status, err := api.Status(t.Context())
	require.NoError(t, err)
	require.Len(t, status.Contributions, 1)
	assert.Equal(t, "Ficus lyrata", status.Contributions[0].ScientificName)
	assert.Equal(t, 1, status.Summary.Total)
	assert.Equal(t, map[string]int{"pending_review": 1}, status.Summary.StatusCounts)
}

func TestStatusPlainTextError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	api := NewAPIClient(server.URL, newTestClient(t))
	_, err := api.Status(t.Context())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Message)
}
