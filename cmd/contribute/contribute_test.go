package contribute

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/httpclient"
)

var tinyJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

func ptr[T any](v T) *T { return &v }

func TestApplyConsent(t *testing.T) {
	granted := func(cs ...consent.Category) consent.Map {
		m := consent.DefaultMap()
		for _, c := range cs {
			m[c] = true
		}
		return m
	}

	tests := []struct {
		name         string
		consents     consent.Map
		lat, lon     *float64
		wantErr      error
		wantLocation bool
	}{
		{"no training consent", granted(consent.LocationData), ptr(1.0), ptr(2.0), ErrTrainingConsentMissing, false},
		{"training only drops coordinates", granted(consent.ModelTraining), ptr(1.0), ptr(2.0), nil, false},
		{"training and location", granted(consent.ModelTraining, consent.LocationData), ptr(1.0), ptr(2.0), nil, true},
		{"location consent without coordinates", granted(consent.ModelTraining, consent.LocationData), nil, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &httpclient.PlantUpload{Latitude: ptr(9.0), Longitude: ptr(9.0)}
			err := applyConsent(u, tt.consents, tt.lat, tt.lon)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, u.DataUsageConsent)
			assert.Equal(t, tt.wantLocation, u.LocationConsent)
			if tt.wantLocation {
				assert.Equal(t, tt.lat, u.Latitude)
				assert.Equal(t, tt.lon, u.Longitude)
			} else {
				assert.Nil(t, u.Latitude)
				assert.Nil(t, u.Longitude)
			}
		})
	}
}

// grant writes consent flags to the preference file at path.
func grant(t *testing.T, path string, cs ...consent.Category) {
	t.Helper()
	kv, err := consent.OpenFileKV(path)
	require.NoError(t, err)
	defer func() { _ = kv.Close() }()
	store := consent.NewStore(kv)
	for _, c := range cs {
		require.NoError(t, store.SetCategory(t.Context(), c, true))
	}
}

func TestContributeCommand(t *testing.T) {
	var form map[string][]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/contribute/plant", r.URL.Path)
		auth = r.Header.Get("Authorization")
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form = r.MultipartForm.Value
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"ok","contributionId":"c-42"}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	image := filepath.Join(dir, "leaf.jpg")
	require.NoError(t, os.WriteFile(image, tinyJPEG, 0o600))

	settings := &conf.Settings{}
	settings.Client.ConsentStorePath = filepath.Join(dir, "preferences.json")
	settings.Client.APIBaseURL = srv.URL + "/api/v2"
	settings.Client.Token = "test-token"

	args := []string{"--image", image, "--scientific-name", "Quercus robur", "--common-name", "English oak",
		"--latitude", "51.5", "--longitude=-0.12"}
	execute := func() (string, error) {
		cmd := Command(settings, buildinfo.NewContext("1.2.3", "", ""))
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(t.Context())
		return out.String(), err
	}

	_, err := execute()
	require.ErrorIs(t, err, ErrTrainingConsentMissing)
	assert.Nil(t, form, "nothing is uploaded without consent")

	grant(t, settings.Client.ConsentStorePath, consent.ModelTraining)
	out, err := execute()
	require.NoError(t, err)
	assert.Contains(t, out, "contribution received: c-42")
	assert.Equal(t, "Bearer test-token", auth)
	assert.Equal(t, []string{"true"}, form["dataUsageConsent"])
	assert.Equal(t, []string{"false"}, form["locationConsent"])
	assert.NotContains(t, form, "latitude")

	grant(t, settings.Client.ConsentStorePath, consent.LocationData)
	_, err = execute()
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, form["locationConsent"])
	assert.Equal(t, []string{"51.5"}, form["latitude"])
	assert.Equal(t, []string{"-0.12"}, form["longitude"])
}
