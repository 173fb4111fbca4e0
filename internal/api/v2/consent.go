package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/privacy"
)

// Client facing messages of the consent routes.
const (
	MsgConsentUpdated       = "Consent preferences updated successfully"
	MsgBasicConsentRequired = "Basic identification consent is required for app functionality"
	MsgConsentFetchFailed   = "Failed to fetch consent preferences"
	MsgConsentUpdateFailed  = "Failed to update consent preferences"
	MsgAuditFetchFailed     = "Failed to fetch consent audit log"
	MsgUsageFetchFailed     = "Failed to fetch data usage information"
	MsgUserDataDeleted      = "All user data has been deleted successfully"
	MsgUserDataDeleteFailed = "Failed to delete user data"
	msgConsentFlagRequired  = "must be true or false"
)

// Audit log paging
const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// maxUserAgentLength matches the audit column width.
const maxUserAgentLength = 512

func (c *Controller) initConsentRoutes() {
	g := c.Group.Group("/consent", c.authMiddleware)
	g.GET("", c.GetConsent)
	g.PUT("", c.UpdateConsent)
	g.GET("/audit", c.GetConsentAudit)
	g.GET("/usage", c.GetDataUsage)
	g.DELETE("/data", c.DeleteUserData)
}

// ConsentFlags are the five consent categories in their wire form. All
// fields are required on update.
type ConsentFlags struct {
	BasicIdentification *bool `json:"basicIdentification"`
	ModelTraining       *bool `json:"modelTraining"`
	EXIFMetadata        *bool `json:"exifMetadata"`
	LocationData        *bool `json:"locationData"`
	AdvancedSensors     *bool `json:"advancedSensors"`
}

// ConsentView is a user's server-side consent record.
type ConsentView struct {
	BasicIdentification bool       `json:"basicIdentification"`
	ModelTraining       bool       `json:"modelTraining"`
	EXIFMetadata        bool       `json:"exifMetadata"`
	LocationData        bool       `json:"locationData"`
	AdvancedSensors     bool       `json:"advancedSensors"`
	CreatedAt           *time.Time `json:"createdAt"`
	UpdatedAt           *time.Time `json:"updatedAt"`
}

func consentViewOf(m consent.Map) *ConsentView {
	return &ConsentView{
		BasicIdentification: consent.IsPermitted(m, consent.BasicIdentification),
		ModelTraining:       consent.IsPermitted(m, consent.ModelTraining),
		EXIFMetadata:        consent.IsPermitted(m, consent.EXIFMetadata),
		LocationData:        consent.IsPermitted(m, consent.LocationData),
		AdvancedSensors:     consent.IsPermitted(m, consent.AdvancedSensors),
	}
}

func consentViewOfRecord(r *datastore.UserConsent) *ConsentView {
	v := consentViewOf(r.ConsentMap())
	created, updated := r.CreatedAt, r.UpdatedAt
	v.CreatedAt, v.UpdatedAt = &created, &updated
	return v
}

// ConsentResponse wraps a consent record.
type ConsentResponse struct {
	Message string       `json:"message,omitempty"`
	Consent *ConsentView `json:"consent"`
}

// GetConsent handles GET /consent. Users without a record get the defaults.
func (c *Controller) GetConsent(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	record, err := c.DS.GetConsent(ctx.Request().Context(), userID)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return ctx.JSON(http.StatusOK, &ConsentResponse{Consent: consentViewOf(consent.DefaultMap())})
	case err != nil:
		return c.HandleError(ctx, err, MsgConsentFetchFailed, http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, &ConsentResponse{Consent: consentViewOfRecord(record)})
}

// UpdateConsent handles PUT /consent.
func (c *Controller) UpdateConsent(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	var body ConsentFlags
	if err := decodeStrict(ctx, &body); err != nil {
		return c.HandleError(ctx, err, MsgInvalidRequestBody, http.StatusBadRequest)
	}
	m, fields := body.toMap()
	if len(fields) > 0 {
		return c.validationFailed(ctx, fields)
	}
	if !m[consent.BasicIdentification] {
		return c.HandleError(ctx, nil, MsgBasicConsentRequired, http.StatusBadRequest)
	}

	record, err := c.DS.UpsertConsent(ctx.Request().Context(), userID, m, auditMeta(ctx))
	if err != nil {
		return c.HandleError(ctx, err, MsgConsentUpdateFailed, http.StatusInternalServerError)
	}

	c.log.Info("consent updated",
		logger.String("user", privacy.AnonymizeUserID(userID)),
		logger.Bool("model_training", record.ModelTraining))
	return ctx.JSON(http.StatusOK, &ConsentResponse{
		Message: MsgConsentUpdated,
		Consent: consentViewOfRecord(record),
	})
}

// toMap converts the flags, reporting every missing field.
func (f *ConsentFlags) toMap() (consent.Map, []contribution.FieldError) {
	pairs := []struct {
		field    string
		category consent.Category
		value    *bool
	}{
		{"basicIdentification", consent.BasicIdentification, f.BasicIdentification},
		{"modelTraining", consent.ModelTraining, f.ModelTraining},
		{"exifMetadata", consent.EXIFMetadata, f.EXIFMetadata},
		{"locationData", consent.LocationData, f.LocationData},
		{"advancedSensors", consent.AdvancedSensors, f.AdvancedSensors},
	}
	m := make(consent.Map, len(pairs))
	var fields []contribution.FieldError
	for _, p := range pairs {
		if p.value == nil {
			fields = append(fields, contribution.FieldError{Field: p.field, Message: p.field + " " + msgConsentFlagRequired})
			continue
		}
		m[p.category] = *p.value
	}
	return m, fields
}

// auditMeta records where a consent change came from. Only the network
// prefix of the client address is kept.
func auditMeta(ctx echo.Context) datastore.AuditMeta {
	ua := ctx.Request().UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return datastore.AuditMeta{
		IPAddress: privacy.AnonymizeIP(ctx.RealIP()),
		UserAgent: ua,
	}
}

// AuditEntry is one consent change in the wire form.
type AuditEntry struct {
	ID            uint      `json:"id"`
	Action        string    `json:"action"`
	ConsentType   string    `json:"consentType"`
	PreviousValue *bool     `json:"previousValue"`
	NewValue      bool      `json:"newValue"`
	Timestamp     time.Time `json:"timestamp"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
}

// GetConsentAudit handles GET /consent/audit?limit=n.
func (c *Controller) GetConsentAudit(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	limit := defaultAuditLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.validationFailed(ctx, []contribution.FieldError{
				{Field: "limit", Message: "limit must be a positive integer"},
			})
		}
		limit = min(n, maxAuditLimit)
	}

	rows, err := c.DS.ListConsentAudit(ctx.Request().Context(), userID, limit)
	if err != nil {
		return c.HandleError(ctx, err, MsgAuditFetchFailed, http.StatusInternalServerError)
	}

	entries := make([]AuditEntry, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		entries = append(entries, AuditEntry{
			ID:            r.ID,
			Action:        r.Action,
			ConsentType:   r.ConsentType,
			PreviousValue: r.PreviousValue,
			NewValue:      r.NewValue,
			Timestamp:     r.CreatedAt,
			IPAddress:     r.IPAddress,
			UserAgent:     r.UserAgent,
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"auditLog": entries})
}

// GetDataUsage handles GET /consent/usage.
func (c *Controller) GetDataUsage(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	usage, err := c.services.Status.Usage(ctx.Request().Context(), userID)
	if err != nil {
		return c.HandleError(ctx, err, MsgUsageFetchFailed, http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"usage": usage})
}

// DeleteUserData handles DELETE /consent/data. Records are removed in one
// transaction; stored images are removed afterwards on a best effort basis.
func (c *Controller) DeleteUserData(ctx echo.Context) error {
	userID, ok := requireUser(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}
	reqCtx := ctx.Request().Context()

	keys, err := c.DS.DeleteUserData(reqCtx, userID)
	if err != nil {
		return c.HandleError(ctx, err, MsgUserDataDeleteFailed, http.StatusInternalServerError)
	}
	c.services.Status.Invalidate(userID)

	log := c.log.WithContext(reqCtx).With(logger.String("user", privacy.AnonymizeUserID(userID)))
	// The records are gone; finish the images even if the client hung up.
	cleanupCtx := context.WithoutCancel(reqCtx)
	var failed int
	for _, key := range keys {
		if err := c.Objects.Delete(cleanupCtx, key); err != nil {
			failed++
			log.Warn("failed to delete contributed image", logger.String("key", key), logger.Error(err))
		}
	}
	log.Info("user data deleted",
		logger.Int("images", len(keys)),
		logger.Int("image_delete_failures", failed))

	return ctx.JSON(http.StatusOK, map[string]string{"message": MsgUserDataDeleted})
}
