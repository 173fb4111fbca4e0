package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/api/auth"
	"github.com/florai/contrib-pipeline/internal/api/middleware"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
)

// tinyJPEG carries the JPEG magic bytes; nothing in the pipeline decodes it.
var tinyJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

type testEnv struct {
	e        *echo.Echo
	ds       datastore.Interface
	objects  *storage.LocalStore
	settings *conf.Settings
}

type envOption func(*envConfig)

type envConfig struct {
	ds          datastore.Interface
	objects     storage.ObjectStore
	environment string
}

func withDatastore(ds datastore.Interface) envOption {
	return func(c *envConfig) { c.ds = ds }
}

func withObjects(o storage.ObjectStore) envOption {
	return func(c *envConfig) { c.objects = o }
}

func withEnvironment(env string) envOption {
	return func(c *envConfig) { c.environment = env }
}

func testAuthSettings() conf.AuthSettings {
	return conf.AuthSettings{
		JWTSecret: "api-test-secret-0123456789abcdef",
		Issuer:    "florai",
		Audience:  "florai-app",
		TokenTTL:  time.Hour,
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := &envConfig{environment: conf.EnvProduction}
	for _, opt := range opts {
		opt(cfg)
	}

	settings := &conf.Settings{}
	settings.Main.Environment = cfg.environment
	settings.Auth = testAuthSettings()

	store, err := datastore.Open(&conf.DatabaseSettings{
		Driver: datastore.DriverSQLite,
		SQLite: conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "api.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	var ds datastore.Interface = store
	if cfg.ds != nil {
		ds = cfg.ds
	}

	local, err := storage.NewLocalStore(t.TempDir(), contribution.Bucket, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	var objects storage.ObjectStore = local
	if cfg.objects != nil {
		objects = cfg.objects
	}

	staging, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = staging.Close() })

	authn, err := auth.New(&settings.Auth)
	require.NoError(t, err)

	status := contribution.NewStatusAggregator(ds, 0, nil)
	services := Services{
		Ingestor: contribution.NewIngestor(ds, objects, staging, contribution.WithCacheInvalidator(status)),
		Feedback: contribution.NewFeedbackRecorder(ds, nil),
		Status:   status,
	}

	e := echo.New()
	e.Use(middleware.NewCorrelationID())
	_, err = New(e, ds, settings, objects, services,
		WithAuthMiddleware(authn.Middleware()),
		WithBuildInfo(buildinfo.NewContext("v2.0.0-test", "", "")),
		WithStaging(staging))
	require.NoError(t, err)

	return &testEnv{e: e, ds: ds, objects: local, settings: settings}
}

func (env *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(&env.settings.Auth, userID, time.Now())
	require.NoError(t, err)
	return tok
}

func (env *testEnv) do(t *testing.T, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token(t, userID))
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) getJSON(t *testing.T, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, httptest.NewRequest(http.MethodGet, Prefix+path, http.NoBody), userID)
}

func (env *testEnv) sendJSON(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, Prefix+path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return env.do(t, req, userID)
}

// imagePart describes the file part of a plant submission.
type imagePart struct {
	filename    string
	contentType string
	data        []byte
}

func jpegPart() *imagePart {
	return &imagePart{filename: "monstera.jpg", contentType: "image/jpeg", data: tinyJPEG}
}

func plantForm(overrides map[string]string) map[string]string {
	fields := map[string]string{
		"scientificName":   "Monstera deliciosa",
		"commonName":       "Monstera",
		"isHealthy":        "true",
		"dataUsageConsent": "true",
	}
	for k, v := range overrides {
		if v == "" {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	return fields
}

func (env *testEnv) submitPlant(t *testing.T, userID string, fields map[string]string, img *imagePart) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if img != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ImageField, img.filename))
		h.Set(echo.HeaderContentType, img.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(img.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, Prefix+"/contribute/plant", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return env.do(t, req, userID)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// brokenStore fails every operation it overrides.
type brokenStore struct {
	datastore.Interface
	err error
}

func (b *brokenStore) CreateContribution(context.Context, *datastore.Contribution) error {
	return b.err
}

func (b *brokenStore) CreateFeedback(context.Context, *datastore.Feedback) error {
	return b.err
}

func (b *brokenStore) ListContributionsByUser(context.Context, string) ([]datastore.Contribution, error) {
	return nil, b.err
}

func (b *brokenStore) GetConsent(context.Context, string) (*datastore.UserConsent, error) {
	return nil, b.err
}

func (b *brokenStore) Ping(context.Context) error {
	return b.err
}

// failingUploads rejects every Put.
type failingUploads struct {
	storage.ObjectStore
}

func (f *failingUploads) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	_, _ = io.Copy(io.Discard, r)
	return fmt.Errorf("bucket unavailable")
}
