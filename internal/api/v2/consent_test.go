package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/storage"
)

const allFlagsBody = `{"basicIdentification":true,"modelTraining":true,"exifMetadata":false,"locationData":true,"advancedSensors":false}`

type consentBody struct {
	Message string      `json:"message"`
	Consent ConsentView `json:"consent"`
}

func TestGetConsentDefaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.getJSON(t, "/consent", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[consentBody](t, rec)
	assert.True(t, body.Consent.BasicIdentification)
	assert.False(t, body.Consent.ModelTraining)
	assert.False(t, body.Consent.EXIFMetadata)
	assert.False(t, body.Consent.LocationData)
	assert.False(t, body.Consent.AdvancedSensors)
	assert.Nil(t, body.Consent.CreatedAt)
}

func TestUpdateConsentRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.sendJSON(t, http.MethodPut, "/consent", "user-1", allFlagsBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[consentBody](t, rec)
	assert.Equal(t, MsgConsentUpdated, updated.Message)
	assert.True(t, updated.Consent.ModelTraining)
	assert.True(t, updated.Consent.LocationData)

	got := decode[consentBody](t, env.getJSON(t, "/consent", "user-1"))
	assert.True(t, got.Consent.BasicIdentification)
	assert.True(t, got.Consent.ModelTraining)
	assert.False(t, got.Consent.EXIFMetadata)
	assert.True(t, got.Consent.LocationData)
	assert.False(t, got.Consent.AdvancedSensors)
	assert.NotNil(t, got.Consent.CreatedAt)
	assert.NotNil(t, got.Consent.UpdatedAt)
}

func TestUpdateConsentRejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
		wantField []string
	}{
		{
			name:      "basic identification declined",
			body:      strings.Replace(allFlagsBody, `"basicIdentification":true`, `"basicIdentification":false`, 1),
			wantError: MsgBasicConsentRequired,
		},
		{
			name:      "missing flags",
			body:      `{"basicIdentification":true,"modelTraining":false}`,
			wantField: []string{"exifMetadata", "locationData", "advancedSensors"},
		},
		{
			name:      "unknown field",
			body:      `{"basicIdentification":true,"modelTraining":false,"exifMetadata":false,"locationData":false,"advancedSensors":false,"marketing":true}`,
			wantError: MsgInvalidRequestBody,
		},
		{
			name:      "not a boolean",
			body:      `{"basicIdentification":"yes","modelTraining":false,"exifMetadata":false,"locationData":false,"advancedSensors":false}`,
			wantError: MsgInvalidRequestBody,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.sendJSON(t, http.MethodPut, "/consent", "user-1", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantError, body.Error)
			var fields []string
			for _, f := range body.Errors {
				fields = append(fields, f.Field)
			}
			assert.ElementsMatch(t, tt.wantField, fields)

			// Nothing was written.
			audit := decode[map[string][]AuditEntry](t, env.getJSON(t, "/consent/audit", "user-1"))
			assert.Empty(t, audit["auditLog"])
		})
	}
}

func TestConsentAuditLog(t *testing.T) {
	env := newTestEnv(t)

	put := func(body string) {
		req := httptest.NewRequest(http.MethodPut, Prefix+"/consent", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("User-Agent", "florai-test/1.0")
		req.RemoteAddr = "198.51.100.77:4242"
		rec := env.do(t, req, "user-1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	put(allFlagsBody)
	put(strings.Replace(allFlagsBody, `"modelTraining":true`, `"modelTraining":false`, 1))

	rec := env.getJSON(t, "/consent/audit", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[map[string][]AuditEntry](t, rec)["auditLog"]
	require.Len(t, entries, 6, "five entries for the new record and one change")

	latest := entries[0]
	assert.Equal(t, "revoked", latest.Action)
	assert.Equal(t, "model_training", latest.ConsentType)
	require.NotNil(t, latest.PreviousValue)
	assert.True(t, *latest.PreviousValue)
	assert.False(t, latest.NewValue)
	assert.Equal(t, "198.51.100.0", latest.IPAddress)
	assert.Equal(t, "florai-test/1.0", latest.UserAgent)

	for _, e := range entries[1:] {
		assert.Equal(t, "granted", e.Action)
		assert.Nil(t, e.PreviousValue)
	}

	limited := decode[map[string][]AuditEntry](t, env.getJSON(t, "/consent/audit?limit=2", "user-1"))
	assert.Len(t, limited["auditLog"], 2)

	bad := env.getJSON(t, "/consent/audit?limit=zero", "user-1")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestDataUsage(t *testing.T) {
	env := newTestEnv(t)
	for range 2 {
		require.Equal(t, http.StatusCreated, env.submitPlant(t, "user-1", plantForm(nil), jpegPart()).Code)
	}

	rec := env.getJSON(t, "/consent/usage", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[map[string]map[string]int](t, rec)["usage"]
	assert.Equal(t, 2, usage["totalContributions"])
	assert.Equal(t, 2, usage["pendingContributions"])
	assert.Equal(t, 0, usage["approvedContributions"])
	assert.Equal(t, 0, usage["rejectedContributions"])
}

func TestDeleteUserData(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.submitPlant(t, "user-1", plantForm(nil), jpegPart()).Code)
	require.Equal(t, http.StatusOK, env.sendJSON(t, http.MethodPut, "/consent", "user-1", allFlagsBody).Code)

	status := decode[statusBody](t, env.getJSON(t, "/contribute/status", "user-1"))
	require.Len(t, status.Contributions, 1)
	imageURL := status.Contributions[0].ImageURL

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, Prefix+"/consent/data", http.NoBody), "user-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, MsgUserDataDeleted, decode[map[string]string](t, rec)["message"])

	status = decode[statusBody](t, env.getJSON(t, "/contribute/status", "user-1"))
	assert.Equal(t, 0, status.Summary.Total)

	got := decode[consentBody](t, env.getJSON(t, "/consent", "user-1"))
	assert.False(t, got.Consent.ModelTraining, "consent falls back to defaults")
	assert.Nil(t, got.Consent.CreatedAt)

	media := env.getJSON(t, strings.TrimPrefix(imageURL, Prefix), "")
	assert.Equal(t, http.StatusNotFound, media.Code)
}

// hangupObjects cancels the request on the first delete, as a client
// disconnecting mid-request would.
type hangupObjects struct {
	storage.ObjectStore
	mu      sync.Mutex
	cancel  context.CancelFunc
	deleted []string
	ctxErrs []error
}

func (h *hangupObjects) Delete(ctx context.Context, key string) error {
	h.mu.Lock()
	h.cancel()
	h.deleted = append(h.deleted, key)
	if err := ctx.Err(); err != nil {
		h.ctxErrs = append(h.ctxErrs, err)
	}
	h.mu.Unlock()
	return h.ObjectStore.Delete(ctx, key)
}

func TestDeleteUserDataFinishesAfterDisconnect(t *testing.T) {
	local, err := storage.NewLocalStore(t.TempDir(), contribution.Bucket, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	objects := &hangupObjects{ObjectStore: local, cancel: func() {}}
	env := newTestEnv(t, withObjects(objects))

	for range 3 {
		require.Equal(t, http.StatusCreated, env.submitPlant(t, "user-1", plantForm(nil), jpegPart()).Code)
	}

	ctx, cancel := context.WithCancel(t.Context())
	objects.cancel = cancel
	req := httptest.NewRequestWithContext(ctx, http.MethodDelete, Prefix+"/consent/data", http.NoBody)
	rec := env.do(t, req, "user-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, objects.deleted, 3)
	assert.Empty(t, objects.ctxErrs, "image cleanup must not see the cancelled request")
	for _, key := range objects.deleted {
		ok, err := local.Exists(t.Context(), key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestConsentFetchFailure(t *testing.T) {
	env := newTestEnv(t, withDatastore(&brokenStore{err: errors.NewStd("connection refused")}))

	rec := env.getJSON(t, "/consent", "user-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgConsentFetchFailed, decode[ErrorResponse](t, rec).Error)
}

func TestConsentRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/consent", "/consent/audit", "/consent/usage"} {
		assert.Equal(t, http.StatusUnauthorized, env.getJSON(t, path, "").Code, path)
	}
}
